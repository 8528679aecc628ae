package resolver

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playbridge/internal/domain/track"
)

// StaticTrackConfig is a single entry of the static source table.
type StaticTrackConfig struct {
	ID          string `yaml:"id" mapstructure:"id" validate:"required"`
	URL         string `yaml:"url" mapstructure:"url" validate:"required,url"`
	Title       string `yaml:"title" mapstructure:"title"`
	Artist      string `yaml:"artist" mapstructure:"artist"`
	Album       string `yaml:"album" mapstructure:"album"`
	ArtworkURL  string `yaml:"artwork_url" mapstructure:"artwork_url" validate:"omitempty,url"`
	DurationSec int    `yaml:"duration_sec" mapstructure:"duration_sec" validate:"gte=0"`
}

type StaticSourceConfig struct {
	Tracks []StaticTrackConfig `yaml:"tracks" mapstructure:"tracks" validate:"dive"`
}

// StaticSource resolves tracks from a fixed table of URLs,
// such as local files or internet radio streams.
type StaticSource struct {
	tracks map[string]StaticTrackConfig
}

// NewStaticSource creates a new StaticSource.
func NewStaticSource(settings map[string]any) (*StaticSource, error) {
	var config StaticSourceConfig
	if err := decodeSettings(settings, &config); err != nil {
		return nil, err
	}
	zlog.Debug().Msgf("static source config: tracks=%d", len(config.Tracks))

	tracks := make(map[string]StaticTrackConfig, len(config.Tracks))
	for _, t := range config.Tracks {
		if _, dup := tracks[t.ID]; dup {
			return nil, errors.Newf("duplicate static track id: %s", t.ID)
		}
		tracks[t.ID] = t
	}
	return &StaticSource{tracks: tracks}, nil
}

// Resolve returns the configured URL for id.
func (s *StaticSource) Resolve(ctx context.Context, id string) (string, error) {
	t, ok := s.tracks[id]
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "static: %s", id)
	}
	return t.URL, nil
}

// Lookup returns the configured metadata for id.
func (s *StaticSource) Lookup(ctx context.Context, id string) (*track.Track, error) {
	t, ok := s.tracks[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "static: %s", id)
	}
	return &track.Track{
		ID:         t.ID,
		Title:      t.Title,
		Artist:     t.Artist,
		Album:      t.Album,
		ArtworkURL: t.ArtworkURL,
		Duration:   time.Duration(t.DurationSec) * time.Second,
		Source:     s.Name(),
	}, nil
}

// Name returns the source name.
func (s *StaticSource) Name() string {
	return "static"
}
