// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/20after4/configdir"
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// AppName is the directory name used under the user config directory.
const AppName = "playbridge"

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig            `yaml:"server"`
	Control ControlConfig           `yaml:"control"`
	Player  PlayerConfig            `yaml:"player"`
	Queue   QueueConfig             `yaml:"queue"`
	Sources []SourceConfig          `yaml:"sources" validate:"required,min=1,dive"`
	Filters map[string]FilterConfig `yaml:"filters"`
	Spotify SpotifyConfig           `yaml:"spotify"`
	LastFm  LastFmConfig            `yaml:"lastfm"`
}

// ServerConfig represents control API server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:"127.0.0.1:8787"`
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// ControlConfig represents control API access configuration.
type ControlConfig struct {
	Token string `yaml:"token"`
}

// PlayerConfig represents media engine and OS surface configuration.
type PlayerConfig struct {
	Name               string `yaml:"name" default:"playbridge" validate:"required,alphanum"`
	AudioDevice        string `yaml:"audio_device" default:"auto"`
	ClientName         string `yaml:"client_name" default:"playbridge"`
	CacheMB            int    `yaml:"cache_mb" default:"32" validate:"gte=0,lte=4096"`
	ProgressIntervalMs int    `yaml:"progress_interval_ms" default:"250" validate:"gte=50,lte=5000"`
	RewindThresholdMs  int    `yaml:"rewind_threshold_ms" default:"3000" validate:"gte=0"`
	ResolveTimeoutMs   int    `yaml:"resolve_timeout_ms" default:"15000" validate:"gte=0"`
	BackgroundMode     bool   `yaml:"background_mode" default:"true"`
}

// QueueConfig represents the initial play queue.
type QueueConfig struct {
	Tracks         []string `yaml:"tracks"`
	PlaylistURL    string   `yaml:"playlist_url"`
	SavedQueueFile string   `yaml:"saved_queue_file"`
	PlayMode       string   `yaml:"play_mode" default:"normal" validate:"oneof=normal shuffle repeat_one"`
	Autoplay       bool     `yaml:"autoplay"`
}

// SourceConfig represents a single track source configuration.
type SourceConfig struct {
	Type        string         `yaml:"type" validate:"required,oneof=subsonic spotify static"`
	DisplayName string         `yaml:"display_name"`
	Settings    map[string]any `yaml:"settings"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// SpotifyConfig represents Spotify API configuration.
// Spotify is optional; it is used when a spotify source or playlist is configured.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
}

// LastFmConfig represents Last.fm artwork lookup configuration.
type LastFmConfig struct {
	APIKey string `yaml:"api_key"`
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(configdir.LocalConfig(AppName), "config.yaml")
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse applies defaults, parses configuration from YAML data over them,
// applies environment overrides and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	// Defaults first so explicit zero values in the file survive.
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
	if v := os.Getenv("LASTFM_API_KEY"); v != "" {
		c.LastFm.APIKey = v
	}
	if v := os.Getenv("SUBSONIC_PASSWORD"); v != "" {
		for i := range c.Sources {
			if c.Sources[i].Type == "subsonic" {
				if c.Sources[i].Settings == nil {
					c.Sources[i].Settings = make(map[string]any)
				}
				c.Sources[i].Settings["password"] = v
			}
		}
	}
	if v := os.Getenv("CONTROL_TOKEN"); v != "" {
		c.Control.Token = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.NeedsSpotify() && !c.Spotify.HasCredentials() {
		return errors.New("spotify credentials are required when a spotify source or playlist is configured")
	}

	return nil
}

// NeedsSpotify reports whether any configured component uses the Spotify API.
func (c *Config) NeedsSpotify() bool {
	if c.Queue.PlaylistURL != "" {
		return true
	}
	for _, s := range c.Sources {
		if s.Type == "spotify" {
			return true
		}
	}
	return false
}

// HasCredentials reports whether all Spotify credentials are set.
func (s SpotifyConfig) HasCredentials() bool {
	return s.ClientID != "" && s.ClientSecret != "" && s.RefreshToken != ""
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// FilterSettings returns the settings for a filter.
func (c *Config) FilterSettings(filterName string) map[string]any {
	if f, ok := c.Filters[filterName]; ok {
		return f.Settings
	}
	return nil
}

// ProgressInterval returns the engine progress report interval.
func (p PlayerConfig) ProgressInterval() time.Duration {
	return time.Duration(p.ProgressIntervalMs) * time.Millisecond
}

// RewindThreshold returns the position after which previous restarts the track.
func (p PlayerConfig) RewindThreshold() time.Duration {
	return time.Duration(p.RewindThresholdMs) * time.Millisecond
}

// ResolveTimeout returns the per-track URL resolution timeout.
func (p PlayerConfig) ResolveTimeout() time.Duration {
	return time.Duration(p.ResolveTimeoutMs) * time.Millisecond
}
