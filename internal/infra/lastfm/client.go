// Package lastfm provides a client for the Last.fm API.
package lastfm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-retryablehttp"
	zlog "github.com/rs/zerolog/log"
)

// ErrNoArtwork is returned when Last.fm has no image for a track.
var ErrNoArtwork = errors.New("last.fm: no artwork")

// imageSizes lists Last.fm image sizes from largest to smallest.
var imageSizes = []string{"mega", "extralarge", "large", "medium", "small"}

// Client is a Last.fm API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	// Artwork URL per artist/track; an empty string caches a miss.
	artworkCache map[string]string
	cacheMu      sync.RWMutex
}

// Config represents Last.fm client configuration.
type Config struct {
	APIKey  string
	Timeout time.Duration
}

type image struct {
	URL  string `json:"#text"`
	Size string `json:"size"`
}

// GetInfoResponse represents the response from track.getInfo API.
type GetInfoResponse struct {
	Track struct {
		Name   string `json:"name"`
		Artist struct {
			Name string `json:"name"`
		} `json:"artist"`
		Album struct {
			Title string  `json:"title"`
			Image []image `json:"image"`
		} `json:"album"`
	} `json:"track"`
}

// LastFMError represents an error response from Last.fm API.
type LastFMError struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// New creates a new Last.fm client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("last.fm API key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	httpClient := rc.StandardClient()
	httpClient.Timeout = timeout

	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      "https://ws.audioscrobbler.com/2.0/",
		httpClient:   httpClient,
		artworkCache: make(map[string]string),
	}, nil
}

// ArtworkURL returns the largest album image Last.fm has for a track.
// Reference: https://www.last.fm/api/show/track.getInfo
func (c *Client) ArtworkURL(ctx context.Context, trackName, artistName string) (string, error) {
	if trackName == "" || artistName == "" {
		return "", errors.New("track name and artist name are required")
	}

	cacheKey := strings.ToLower(fmt.Sprintf("%s\x00%s", artistName, trackName))
	c.cacheMu.RLock()
	if u, ok := c.artworkCache[cacheKey]; ok {
		c.cacheMu.RUnlock()
		if u == "" {
			return "", ErrNoArtwork
		}
		return u, nil
	}
	c.cacheMu.RUnlock()

	params := url.Values{}
	params.Set("method", "track.getInfo")
	params.Set("api_key", c.apiKey)
	params.Set("artist", artistName)
	params.Set("track", trackName)
	params.Set("format", "json")
	params.Set("autocorrect", "1")

	var response GetInfoResponse
	if err := c.get(ctx, params, &response); err != nil {
		return "", err
	}

	artwork := largestImage(response.Track.Album.Image)

	c.cacheMu.Lock()
	c.artworkCache[cacheKey] = artwork
	c.cacheMu.Unlock()
	zlog.Debug().Msgf("lastfm: cached artwork: artist=%s track=%s found=%t", artistName, trackName, artwork != "")

	if artwork == "" {
		return "", ErrNoArtwork
	}
	return artwork, nil
}

func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	reqURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	// Check for Last.fm API errors
	var apiError LastFMError
	if err := json.Unmarshal(body, &apiError); err == nil && apiError.Error != 0 {
		return errors.Errorf("last.fm API error %d: %s", apiError.Error, apiError.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("last.fm API returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "failed to parse response")
	}
	return nil
}

func largestImage(images []image) string {
	bySize := make(map[string]string, len(images))
	for _, img := range images {
		if img.URL != "" {
			bySize[img.Size] = img.URL
		}
	}
	for _, size := range imageSizes {
		if u, ok := bySize[size]; ok {
			return u
		}
	}
	return ""
}
