package filter

import (
	"context"
	"testing"
	"time"

	"github.com/osa030/playbridge/internal/domain/track"
	"github.com/stretchr/testify/assert"
)

func TestDurationLimitFilter_Check(t *testing.T) {
	tests := []struct {
		name          string
		minSec        int
		maxSec        int
		trackDuration time.Duration
		shouldReject  bool
		description   string
	}{
		{
			name:          "Within limits",
			minSec:        120,
			maxSec:        300,
			trackDuration: 3 * time.Minute,
			shouldReject:  false,
			description:   "Should accept track within min/max limits",
		},
		{
			name:          "Too short",
			minSec:        180,
			maxSec:        0,
			trackDuration: 2 * time.Minute,
			shouldReject:  true,
			description:   "Should reject track shorter than min",
		},
		{
			name:          "Too long",
			minSec:        0,
			maxSec:        300,
			trackDuration: 6 * time.Minute,
			shouldReject:  true,
			description:   "Should reject track longer than max",
		},
		{
			name:          "Exact min",
			minSec:        180,
			maxSec:        0,
			trackDuration: 3 * time.Minute,
			shouldReject:  false,
			description:   "Should accept track exactly at min",
		},
		{
			name:          "Exact max",
			minSec:        60,
			maxSec:        300,
			trackDuration: 5 * time.Minute,
			shouldReject:  false,
			description:   "Should accept track exactly at max",
		},
		{
			name:          "Unknown duration",
			minSec:        60,
			maxSec:        300,
			trackDuration: 0,
			shouldReject:  false,
			description:   "Should accept streams without a duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewDurationLimitFilter()
			// Manually configuring for test by setting config directly
			f.config = &DurationLimitConfig{
				MinDurationSec: tt.minSec,
				MaxDurationSec: tt.maxSec,
			}

			result := f.Check(context.Background(), track.Track{Duration: tt.trackDuration})

			if tt.shouldReject {
				assert.False(t, result.Accepted, tt.description)
				assert.Equal(t, "duration_limit_exceeded", result.Code)
			} else {
				assert.True(t, result.Accepted, tt.description)
			}
		})
	}
}

func TestDurationLimitFilter_Unconfigured(t *testing.T) {
	f := NewDurationLimitFilter()
	result := f.Check(context.Background(), track.Track{Duration: time.Hour})
	assert.True(t, result.Accepted)
}

func TestDurationLimitFilter_ValidateConfig(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]interface{}
		wantErr  bool
	}{
		{
			name: "Valid config",
			settings: map[string]interface{}{
				"min_duration_sec": 60,
				"max_duration_sec": 600,
			},
			wantErr: false,
		},
		{
			name: "Invalid min > max",
			settings: map[string]interface{}{
				"min_duration_sec": 600,
				"max_duration_sec": 60,
			},
			wantErr: true,
		},
		{
			name: "Invalid negative min",
			settings: map[string]interface{}{
				"min_duration_sec": -1,
			},
			wantErr: true,
		},
		{
			name: "Zero max (allowed, means no limit)",
			settings: map[string]interface{}{
				"min_duration_sec": 600,
				"max_duration_sec": 0,
			},
			wantErr: false,
		},
		{
			name: "Invalid negative max",
			settings: map[string]interface{}{
				"max_duration_sec": -1,
			},
			wantErr: true,
		},
		{
			name: "Wrong type",
			settings: map[string]interface{}{
				"max_duration_sec": "ten minutes",
			},
			wantErr: true,
		},
		{
			name:     "Empty settings",
			settings: map[string]interface{}{},
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewDurationLimitFilter()
			err := f.ValidateConfig(tt.settings)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDurationLimitFilter_AppliesTo(t *testing.T) {
	f := NewDurationLimitFilter()

	tests := []struct {
		origin track.Origin
		want   bool
	}{
		{track.OriginRequest, true},
		{track.OriginConfig, false},
		{track.OriginPlaylist, false},
		{track.OriginSaved, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.origin), func(t *testing.T) {
			assert.Equal(t, tt.want, f.AppliesTo(tt.origin))
		})
	}
}
