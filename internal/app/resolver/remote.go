package resolver

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/playbridge/internal/domain/track"
	"github.com/osa030/playbridge/internal/infra/spotify"
	"github.com/osa030/playbridge/internal/infra/subsonic"
)

type SubsonicSourceConfig struct {
	BaseURL    string `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	User       string `yaml:"user" mapstructure:"user" validate:"required"`
	Password   string `yaml:"password" mapstructure:"password"`
	ClientName string `yaml:"client_name" mapstructure:"client_name" default:"playbridge"`
	TimeoutSec int    `yaml:"timeout_sec" mapstructure:"timeout_sec" default:"10" validate:"gte=1"`
}

// SubsonicSource resolves tracks to Subsonic stream URLs.
type SubsonicSource struct {
	client SubsonicClient
}

// NewSubsonicSource creates a new SubsonicSource.
func NewSubsonicSource(client SubsonicClient) (*SubsonicSource, error) {
	if client == nil {
		return nil, errors.New("subsonic client is required")
	}
	return &SubsonicSource{client: client}, nil
}

// Resolve returns a stream URL for the song with id.
func (s *SubsonicSource) Resolve(ctx context.Context, id string) (string, error) {
	url, err := s.client.StreamURL(ctx, id)
	if err != nil {
		return "", notFoundAs(err, subsonic.ErrTrackNotFound)
	}
	return url, nil
}

// Lookup returns song metadata for id.
func (s *SubsonicSource) Lookup(ctx context.Context, id string) (*track.Track, error) {
	t, err := s.client.GetTrack(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, subsonic.ErrTrackNotFound)
	}
	return t, nil
}

// Name returns the source name.
func (s *SubsonicSource) Name() string {
	return "subsonic"
}

// SpotifySource resolves Spotify tracks to their 30 second preview URLs.
type SpotifySource struct {
	client SpotifyClient
}

// NewSpotifySource creates a new SpotifySource.
func NewSpotifySource(client SpotifyClient) (*SpotifySource, error) {
	if client == nil {
		return nil, errors.New("spotify client is required")
	}
	return &SpotifySource{client: client}, nil
}

// Resolve returns the preview URL of the track with id.
func (s *SpotifySource) Resolve(ctx context.Context, id string) (string, error) {
	url, err := s.client.PreviewURL(ctx, id)
	if err != nil {
		return "", notFoundAs(err, spotify.ErrTrackNotFound)
	}
	return url, nil
}

// Lookup returns track metadata for id.
func (s *SpotifySource) Lookup(ctx context.Context, id string) (*track.Track, error) {
	t, err := s.client.GetTrack(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, spotify.ErrTrackNotFound)
	}
	return t, nil
}

// Name returns the source name.
func (s *SpotifySource) Name() string {
	return "spotify"
}

// notFoundAs marks err as ErrNotFound when it wraps the client's own
// not-found sentinel.
func notFoundAs(err, clientNotFound error) error {
	if errors.Is(err, clientNotFound) {
		return errors.Mark(err, ErrNotFound)
	}
	return err
}
