package filter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/playbridge/internal/domain/track"
	"github.com/osa030/playbridge/internal/infra/config"
)

// stubFilter rejects every track with a fixed code.
type stubFilter struct {
	name    string
	code    string
	origins []track.Origin
	checked int
}

func (f *stubFilter) Name() string                                 { return f.name }
func (f *stubFilter) Description() string                          { return "stub" }
func (f *stubFilter) ReturnCodes() []string                        { return []string{f.code} }
func (f *stubFilter) ValidateConfig(settings map[string]any) error { return nil }

func (f *stubFilter) AppliesTo(origin track.Origin) bool {
	for _, o := range f.origins {
		if o == origin {
			return true
		}
	}
	return false
}

func (f *stubFilter) Check(ctx context.Context, t track.Track) Result {
	f.checked++
	if f.code == "" {
		return Accept()
	}
	return Reject(f.code)
}

func TestChain_Execute(t *testing.T) {
	pass := &stubFilter{name: "pass", origins: []track.Origin{track.OriginRequest}}
	reject := &stubFilter{name: "reject", code: "nope", origins: []track.Origin{track.OriginRequest}}
	after := &stubFilter{name: "after", code: "late", origins: []track.Origin{track.OriginRequest}}

	chain := NewChain()
	chain.Add(pass)
	chain.Add(reject)
	chain.Add(after)

	result := chain.Execute(context.Background(), track.Track{ID: "a"}, track.OriginRequest)
	assert.False(t, result.Accepted)
	assert.Equal(t, "nope", result.Code)
	assert.Equal(t, 1, pass.checked)
	assert.Equal(t, 0, after.checked, "chain stops at the first rejection")

	// Filters that do not apply to the origin are skipped
	result = chain.Execute(context.Background(), track.Track{ID: "a"}, track.OriginConfig)
	assert.True(t, result.Accepted)
}

func TestNewChainFromConfig(t *testing.T) {
	lister := &mockTrackLister{tracks: []track.QueuedTrack{
		{Track: track.Track{ID: "a", Title: "Song", Artist: "Band"}},
	}}

	tests := []struct {
		name      string
		filters   map[string]config.FilterConfig
		wantNames []string
		wantErr   bool
	}{
		{
			name:    "no filters",
			filters: nil,
		},
		{
			name: "both enabled",
			filters: map[string]config.FilterConfig{
				"duplicate_track_filter": {Enabled: true},
				"duration_limit_filter":  {Enabled: true, Settings: map[string]any{"max_duration_sec": 600}},
			},
			wantNames: []string{"duplicate_track_filter", "duration_limit_filter"},
		},
		{
			name: "disabled filter skipped",
			filters: map[string]config.FilterConfig{
				"duplicate_track_filter": {Enabled: false},
				"duration_limit_filter":  {Enabled: true},
			},
			wantNames: []string{"duration_limit_filter"},
		},
		{
			name: "invalid settings",
			filters: map[string]config.FilterConfig{
				"duration_limit_filter": {Enabled: true, Settings: map[string]any{"max_duration_sec": -5}},
			},
			wantErr: true,
		},
		{
			name: "unknown filter",
			filters: map[string]config.FilterConfig{
				"market_filter": {Enabled: true},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain, err := NewChainFromConfig(&config.Config{Filters: tt.filters}, lister)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			var names []string
			for _, f := range chain.Filters() {
				names = append(names, f.Name())
			}
			assert.Equal(t, tt.wantNames, names)
		})
	}
}

func TestNewChainFromConfig_RejectsRequests(t *testing.T) {
	lister := &mockTrackLister{tracks: []track.QueuedTrack{
		{Track: track.Track{ID: "a", Title: "Song", Artist: "Band"}},
	}}
	chain, err := NewChainFromConfig(&config.Config{Filters: map[string]config.FilterConfig{
		"duplicate_track_filter": {Enabled: true},
		"duration_limit_filter":  {Enabled: true, Settings: map[string]any{"max_duration_sec": 600}},
	}}, lister)
	require.NoError(t, err)

	tests := []struct {
		name     string
		track    track.Track
		origin   track.Origin
		wantCode string
	}{
		{name: "duplicate", track: track.Track{ID: "a"}, origin: track.OriginRequest, wantCode: "duplicate_track"},
		{name: "too long", track: track.Track{ID: "b", Duration: time.Hour}, origin: track.OriginRequest, wantCode: "duration_limit_exceeded"},
		{name: "accepted", track: track.Track{ID: "c", Duration: time.Minute}, origin: track.OriginRequest},
		{name: "configured tracks bypass filters", track: track.Track{ID: "a"}, origin: track.OriginConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := chain.Execute(context.Background(), tt.track, tt.origin)
			if tt.wantCode == "" {
				assert.True(t, result.Accepted)
				return
			}
			assert.False(t, result.Accepted)
			assert.Equal(t, tt.wantCode, result.Code)
		})
	}
}
