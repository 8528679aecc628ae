package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrack_SameAs(t *testing.T) {
	a := &Track{ID: "subsonic:1", Title: "A"}
	aCopy := &Track{ID: "subsonic:1", Title: "A (refetched)"}
	b := &Track{ID: "subsonic:2"}

	tests := []struct {
		name     string
		t1       *Track
		t2       *Track
		expected bool
	}{
		{name: "same id", t1: a, t2: aCopy, expected: true},
		{name: "different id", t1: a, t2: b, expected: false},
		{name: "nil vs track", t1: nil, t2: a, expected: false},
		{name: "track vs nil", t1: a, t2: nil, expected: false},
		{name: "both nil", t1: nil, t2: nil, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.t1.SameAs(tt.t2))
		})
	}
}

func TestTrack_DisplayTitle(t *testing.T) {
	tr := Track{ID: "static:intro", Duration: time.Minute}
	assert.Equal(t, "static:intro", tr.DisplayTitle())

	tr.Title = "Intro"
	assert.Equal(t, "Intro", tr.DisplayTitle())
}

func TestSplitID(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantSource string
		wantID     string
	}{
		{
			name:       "subsonic prefix",
			input:      "subsonic:al-123",
			wantSource: "subsonic",
			wantID:     "al-123",
		},
		{
			name:       "static prefix",
			input:      "static:intro",
			wantSource: "static",
			wantID:     "intro",
		},
		{
			name:       "spotify uri keeps scheme",
			input:      "spotify:track:6rqhFgbbKwnb9MLmUQDhG6",
			wantSource: "spotify",
			wantID:     "spotify:track:6rqhFgbbKwnb9MLmUQDhG6",
		},
		{
			name:       "bare id",
			input:      "6rqhFgbbKwnb9MLmUQDhG6",
			wantSource: "",
			wantID:     "6rqhFgbbKwnb9MLmUQDhG6",
		},
		{
			name:       "unknown prefix is part of id",
			input:      "foo:bar",
			wantSource: "",
			wantID:     "foo:bar",
		},
		{
			name:       "surrounding whitespace",
			input:      "  subsonic:9 ",
			wantSource: "subsonic",
			wantID:     "9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source, id := SplitID(tt.input)
			assert.Equal(t, tt.wantSource, source)
			assert.Equal(t, tt.wantID, id)
		})
	}
}
