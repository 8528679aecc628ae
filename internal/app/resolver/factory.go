package resolver

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playbridge/internal/infra/config"
	"github.com/osa030/playbridge/internal/infra/subsonic"
)

// NewChainFromConfig creates a source chain from configuration.
// spotify may be nil when no spotify source is configured.
func NewChainFromConfig(cfg *config.Config, spotify SpotifyClient) (*Chain, error) {
	if len(cfg.Sources) == 0 {
		return nil, errors.New("no track sources configured")
	}

	var sources []SourceWithMetadata

	for i, scfg := range cfg.Sources {
		var source Source
		var err error
		zlog.Debug().Msgf("creating track source: index=%d type=%s", i+1, scfg.Type)
		switch scfg.Type {
		case "static":
			source, err = NewStaticSource(scfg.Settings)

		case "subsonic":
			source, err = newSubsonicSourceFromSettings(scfg.Settings)

		case "spotify":
			if spotify == nil {
				err = errors.New("spotify client is required")
				break
			}
			source, err = NewSpotifySource(spotify)

		default:
			return nil, errors.Newf("unsupported source type: %s (source index %d)", scfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create source (index %d, type %s)", i, scfg.Type)
		}

		displayName := scfg.DisplayName
		if displayName == "" {
			displayName = scfg.Type
		}
		sources = append(sources, SourceWithMetadata{
			Source:      source,
			DisplayName: displayName,
		})

		zlog.Info().Msgf("registered track source: index=%d type=%s display_name=%s", i+1, scfg.Type, displayName)
	}

	return NewChain(sources), nil
}

func newSubsonicSourceFromSettings(settings map[string]any) (*SubsonicSource, error) {
	var cfg SubsonicSourceConfig
	if err := decodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	client, err := subsonic.New(subsonic.Config{
		BaseURL:    cfg.BaseURL,
		User:       cfg.User,
		Password:   cfg.Password,
		ClientName: cfg.ClientName,
		Timeout:    time.Duration(cfg.TimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create subsonic client")
	}
	return NewSubsonicSource(client)
}

func decodeSettings(settings map[string]any, out any) error {
	if err := mapstructure.Decode(settings, out); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}
