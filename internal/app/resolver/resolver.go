// Package resolver maps track ids to playable URLs through configurable
// track sources.
package resolver

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/playbridge/internal/domain/track"
)

// ErrNotFound is returned when no source has the requested track.
var ErrNotFound = errors.New("track not found")

// Source is a track source.
type Source interface {
	// Resolve returns a playable URL for the track with the source-local id.
	Resolve(ctx context.Context, id string) (string, error)

	// Lookup returns metadata for the track with the source-local id.
	Lookup(ctx context.Context, id string) (*track.Track, error)

	// Name returns the source type name (used in config and id prefixes).
	Name() string
}

// SubsonicClient defines the Subsonic operations needed by the subsonic source.
type SubsonicClient interface {
	GetTrack(ctx context.Context, id string) (*track.Track, error)
	StreamURL(ctx context.Context, id string) (string, error)
}

// SpotifyClient defines the Spotify operations needed by the spotify source.
type SpotifyClient interface {
	GetTrack(ctx context.Context, trackID string) (*track.Track, error)
	PreviewURL(ctx context.Context, trackID string) (string, error)
}
