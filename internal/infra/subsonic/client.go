// Package subsonic provides a Subsonic API client for track lookup and
// stream URL generation.
package subsonic

import (
	"context"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-retryablehttp"
	zlog "github.com/rs/zerolog/log"
	"github.com/supersonic-app/go-subsonic/subsonic"
	"github.com/zalando/go-keyring"

	"github.com/osa030/playbridge/internal/domain/track"
)

// KeyringService is the keyring service name passwords are stored under.
const KeyringService = "playbridge"

// ErrTrackNotFound is returned when the server has no song with the given id.
var ErrTrackNotFound = errors.New("subsonic: track not found")

// Config represents Subsonic client configuration.
type Config struct {
	BaseURL    string
	User       string
	Password   string // falls back to the OS keyring when empty
	ClientName string
	Timeout    time.Duration
}

// Client is a Subsonic API client. It authenticates lazily on first use.
type Client struct {
	client   *subsonic.Client
	password string

	mu     sync.Mutex
	authed bool
}

// New creates a new Subsonic client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" || cfg.User == "" {
		return nil, errors.New("subsonic base url and user are required")
	}

	password := cfg.Password
	if password == "" {
		p, err := keyring.Get(KeyringService, KeyringUser(cfg.BaseURL, cfg.User))
		if err != nil {
			return nil, errors.Wrap(err, "subsonic password not configured and not found in keyring")
		}
		password = p
	}

	clientName := cfg.ClientName
	if clientName == "" {
		clientName = "playbridge"
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	httpClient := rc.StandardClient()
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}

	return &Client{
		client: &subsonic.Client{
			Client:     httpClient,
			BaseUrl:    cfg.BaseURL,
			User:       cfg.User,
			ClientName: clientName,
		},
		password: password,
	}, nil
}

// KeyringUser returns the keyring account name for a server login.
func KeyringUser(baseURL, user string) string {
	return user + "@" + strings.TrimRight(baseURL, "/")
}

// StorePassword saves a password in the OS keyring.
func StorePassword(baseURL, user, password string) error {
	return keyring.Set(KeyringService, KeyringUser(baseURL, user), password)
}

func (c *Client) ensureAuth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authed {
		return nil
	}
	if err := c.client.Authenticate(c.password); err != nil {
		return errors.Wrap(err, "failed to authenticate with subsonic server")
	}
	c.authed = true
	zlog.Debug().Msgf("subsonic: authenticated: server=%s user=%s", c.client.BaseUrl, c.client.User)
	return nil
}

// GetTrack retrieves song metadata by id.
func (c *Client) GetTrack(ctx context.Context, id string) (*track.Track, error) {
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}
	song, err := c.client.GetSong(id)
	if err != nil {
		if isNotFound(err) {
			return nil, errors.Wrapf(ErrTrackNotFound, "id=%s", id)
		}
		return nil, errors.Wrap(err, "failed to get song")
	}
	if song == nil {
		return nil, errors.Wrapf(ErrTrackNotFound, "id=%s", id)
	}
	return c.convertTrack(song), nil
}

// StreamURL returns a playable URL for the song with id.
// The song is looked up first so unknown ids are reported as not found.
func (c *Client) StreamURL(ctx context.Context, id string) (string, error) {
	if _, err := c.GetTrack(ctx, id); err != nil {
		return "", err
	}
	u, err := c.client.GetStreamURL(id, map[string]string{})
	if err != nil {
		return "", errors.Wrap(err, "failed to build stream url")
	}
	return u.String(), nil
}

func (c *Client) convertTrack(ch *subsonic.Child) *track.Track {
	t := &track.Track{
		ID:       ch.ID,
		Title:    ch.Title,
		Artist:   ch.Artist,
		Album:    ch.Album,
		Duration: time.Duration(ch.Duration) * time.Second,
		Source:   "subsonic",
	}
	if ch.CoverArt != "" {
		if u, err := c.coverArtURL(ch.ID, ch.CoverArt); err == nil {
			t.ArtworkURL = u
		}
	}
	return t
}

// coverArtURL derives an authenticated getCoverArt URL from a stream URL,
// which carries the same auth parameters.
func (c *Client) coverArtURL(songID, coverID string) (string, error) {
	u, err := c.client.GetStreamURL(songID, map[string]string{})
	if err != nil {
		return "", err
	}
	return rewriteCoverArtURL(u, coverID), nil
}

func rewriteCoverArtURL(streamURL *url.URL, coverID string) string {
	u := *streamURL
	u.Path = path.Join(path.Dir(u.Path), "getCoverArt")
	q := u.Query()
	q.Set("id", coverID)
	q.Del("format")
	q.Del("maxBitRate")
	u.RawQuery = q.Encode()
	return u.String()
}

// isNotFound checks if a Subsonic error means the requested item does not exist.
// Error code 70 is "the requested data was not found".
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "not found") ||
		strings.Contains(errStr, "code 70") ||
		strings.Contains(errStr, "error #70")
}
