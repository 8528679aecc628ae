// Package mpris publishes the player on the D-Bus MPRIS interface so desktop
// media controls can show and drive it.
package mpris

import (
	"context"
	"encoding/base32"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/godbus/dbus/v5"
	"github.com/quarckster/go-mpris-server/pkg/events"
	"github.com/quarckster/go-mpris-server/pkg/server"
	"github.com/quarckster/go-mpris-server/pkg/types"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playbridge/internal/app/bridge"
)

const (
	trackIDPrefix     = "/org/playbridge/Track/"
	noTrackObjectPath = "/org/mpris/MediaPlayer2/TrackList/NoTrack"

	// Position jumps larger than this are announced as seeks.
	seekTolerance = 1500 * time.Millisecond

	defaultArtworkTimeout = 10 * time.Second
)

var (
	_ bridge.Surface                          = (*Surface)(nil)
	_ types.OrgMprisMediaPlayer2Adapter       = (*Surface)(nil)
	_ types.OrgMprisMediaPlayer2PlayerAdapter = (*Surface)(nil)
)

var (
	errNotSupported    = errors.New("not supported")
	errControlDisabled = errors.New("control disabled")
	errNoHandler       = errors.New("no command handler")
)

// ArtworkLookup finds cover art for tracks that come without it.
type ArtworkLookup interface {
	ArtworkURL(ctx context.Context, trackName, artistName string) (string, error)
}

// Config holds surface configuration.
type Config struct {
	PlayerName     string // bus name suffix: org.mpris.MediaPlayer2.<PlayerName>
	Identity       string // human readable name; PlayerName when empty
	Artwork        ArtworkLookup
	ArtworkTimeout time.Duration
}

// Surface is a bridge.Surface served over MPRIS.
type Surface struct {
	config Config
	s      *server.Server
	evt    *events.EventHandler
	now    func() time.Time

	mu         sync.Mutex
	listening  bool
	handler    bridge.CommandHandler
	controls   map[bridge.Control]bool
	nowPlaying bridge.NowPlaying
	artURL     string
	playback   bridge.PlaybackUpdate
	updatedAt  time.Time
}

// New creates a surface. Nothing is published until background mode is
// enabled.
func New(config Config) *Surface {
	if config.Identity == "" {
		config.Identity = config.PlayerName
	}
	if config.ArtworkTimeout <= 0 {
		config.ArtworkTimeout = defaultArtworkTimeout
	}
	m := &Surface{
		config:   config,
		controls: make(map[bridge.Control]bool),
		now:      time.Now,
	}
	m.s = server.NewServer(config.PlayerName, m, m)
	m.evt = events.NewEventHandler(m.s)
	return m
}

// EnableBackgroundMode starts or stops serving on the session bus.
func (m *Surface) EnableBackgroundMode(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if enabled == m.listening {
		return nil
	}
	if !enabled {
		m.listening = false
		m.s.Stop()
		zlog.Info().Msgf("mpris: stopped: name=%s", m.config.PlayerName)
		return nil
	}

	m.listening = true
	go func() {
		// Listen returns early if the bus connection fails
		if err := m.s.Listen(); err != nil {
			m.mu.Lock()
			m.listening = false
			m.mu.Unlock()
			zlog.Warn().Msgf("mpris: listen failed: name=%s err=%v", m.config.PlayerName, err)
		}
	}()
	zlog.Info().Msgf("mpris: serving: name=org.mpris.MediaPlayer2.%s", m.config.PlayerName)
	return nil
}

// SetCommandHandler sets the receiver of transport commands.
func (m *Surface) SetCommandHandler(h bridge.CommandHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// EnableControl enables or disables a transport control.
func (m *Surface) EnableControl(c bridge.Control, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controls[c] = enabled
}

// SetNowPlaying replaces the track metadata. Missing artwork is looked up
// in the background when an ArtworkLookup is configured.
func (m *Surface) SetNowPlaying(np bridge.NowPlaying) error {
	m.mu.Lock()
	m.nowPlaying = np
	m.artURL = np.ArtworkURL
	m.mu.Unlock()

	m.emit(func() { m.evt.Player.OnTitle() })

	if np.ArtworkURL == "" && m.config.Artwork != nil && np.Title != "" && np.Artist != "" {
		go m.lookupArtwork(np)
	}
	return nil
}

// UpdatePlayback records the play state and position.
func (m *Surface) UpdatePlayback(u bridge.PlaybackUpdate) error {
	m.mu.Lock()
	prev := m.playback
	expected := m.positionLocked()
	m.playback = u
	m.updatedAt = m.now()
	m.mu.Unlock()

	if prev.State != u.State {
		m.emit(func() { m.evt.Player.OnPlayPause() })
	}
	if prev.Duration != u.Duration {
		m.emit(func() { m.evt.Player.OnTitle() })
	}
	if jump := u.Elapsed - expected; jump > seekTolerance || jump < -seekTolerance {
		m.emit(func() { m.evt.Player.OnSeek(toMicroseconds(u.Elapsed)) })
	}
	return nil
}

func (m *Surface) lookupArtwork(np bridge.NowPlaying) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ArtworkTimeout)
	defer cancel()

	u, err := m.config.Artwork.ArtworkURL(ctx, np.Title, np.Artist)
	if err != nil {
		zlog.Debug().Msgf("mpris: artwork lookup failed: track=%s err=%v", np.TrackID, err)
		return
	}

	m.mu.Lock()
	current := m.nowPlaying.TrackID == np.TrackID && m.artURL == ""
	if current {
		m.artURL = u
	}
	m.mu.Unlock()

	if current {
		zlog.Debug().Msgf("mpris: artwork found: track=%s url=%s", np.TrackID, u)
		m.emit(func() { m.evt.Player.OnTitle() })
	}
}

// emit sends a property change signal when serving. It must not be called
// with mu held since the server reads properties back through the adapters.
func (m *Surface) emit(fn func()) {
	m.mu.Lock()
	listening := m.listening
	m.mu.Unlock()
	if listening {
		fn()
	}
}

// positionLocked extrapolates the position from the last update.
func (m *Surface) positionLocked() time.Duration {
	pos := m.playback.Elapsed
	if m.playback.State == bridge.StatePlaying && !m.updatedAt.IsZero() {
		pos += m.now().Sub(m.updatedAt)
	}
	if d := m.lengthLocked(); d > 0 && pos > d {
		pos = d
	}
	return pos
}

func (m *Surface) lengthLocked() time.Duration {
	if m.playback.Duration > 0 {
		return m.playback.Duration
	}
	return m.nowPlaying.Duration
}

func (m *Surface) trackPathLocked() dbus.ObjectPath {
	if m.nowPlaying.TrackID == "" {
		return noTrackObjectPath
	}
	return dbus.ObjectPath(trackIDPrefix + encodeTrackID(m.nowPlaying.TrackID))
}

// command runs fn against the handler if control c is enabled.
func (m *Surface) command(c bridge.Control, fn func(h bridge.CommandHandler)) error {
	m.mu.Lock()
	h := m.handler
	enabled := m.controls[c]
	m.mu.Unlock()

	if !enabled {
		return errors.Wrapf(errControlDisabled, "%s", c)
	}
	if h == nil {
		return errNoHandler
	}
	fn(h)
	return nil
}

// OrgMprisMediaPlayer2Adapter implementation

func (m *Surface) Identity() (string, error) {
	return m.config.Identity, nil
}

func (m *Surface) CanQuit() (bool, error) {
	return false, nil
}

func (m *Surface) Quit() error {
	return errNotSupported
}

func (m *Surface) CanRaise() (bool, error) {
	return false, nil
}

func (m *Surface) Raise() error {
	return errNotSupported
}

func (m *Surface) HasTrackList() (bool, error) {
	return false, nil
}

func (m *Surface) SupportedUriSchemes() ([]string, error) {
	return nil, nil
}

func (m *Surface) SupportedMimeTypes() ([]string, error) {
	return nil, nil
}

// OrgMprisMediaPlayer2PlayerAdapter implementation

func (m *Surface) Next() error {
	return m.command(bridge.ControlNextTrack, func(h bridge.CommandHandler) { h.OnNext() })
}

func (m *Surface) Previous() error {
	return m.command(bridge.ControlPreviousTrack, func(h bridge.CommandHandler) { h.OnPrevious() })
}

func (m *Surface) Pause() error {
	return m.command(bridge.ControlPause, func(h bridge.CommandHandler) { h.OnPause() })
}

func (m *Surface) Play() error {
	return m.command(bridge.ControlPlay, func(h bridge.CommandHandler) { h.OnPlay() })
}

func (m *Surface) PlayPause() error {
	m.mu.Lock()
	playing := m.playback.State == bridge.StatePlaying
	m.mu.Unlock()
	if playing {
		return m.Pause()
	}
	return m.Play()
}

func (m *Surface) Stop() error {
	return m.command(bridge.ControlStop, func(h bridge.CommandHandler) { h.OnPause() })
}

func (m *Surface) Seek(offset types.Microseconds) error {
	// MPRIS seek is relative to the current position
	m.mu.Lock()
	pos := m.positionLocked() + fromMicroseconds(offset)
	m.mu.Unlock()
	if pos < 0 {
		pos = 0
	}
	return m.command(bridge.ControlChangePlaybackPosition, func(h bridge.CommandHandler) { h.OnSeek(pos) })
}

func (m *Surface) SetPosition(trackId string, position types.Microseconds) error {
	m.mu.Lock()
	current := string(m.trackPathLocked()) == trackId
	m.mu.Unlock()
	if !current || position < 0 {
		return nil
	}
	return m.command(bridge.ControlChangePlaybackPosition, func(h bridge.CommandHandler) {
		h.OnSeek(fromMicroseconds(position))
	})
}

func (m *Surface) OpenUri(uri string) error {
	return errNotSupported
}

func (m *Surface) PlaybackStatus() (types.PlaybackStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.playback.State {
	case bridge.StatePlaying:
		return types.PlaybackStatusPlaying, nil
	case bridge.StatePaused:
		return types.PlaybackStatusPaused, nil
	default:
		return types.PlaybackStatusStopped, nil
	}
}

func (m *Surface) Rate() (float64, error) {
	return 1, nil
}

func (m *Surface) SetRate(float64) error {
	return errNotSupported
}

func (m *Surface) Metadata() (types.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	np := m.nowPlaying
	var artists []string
	if np.Artist != "" {
		artists = []string{np.Artist}
	}
	return types.Metadata{
		TrackId: m.trackPathLocked(),
		Length:  toMicroseconds(m.lengthLocked()),
		Title:   np.Title,
		Album:   np.Album,
		Artist:  artists,
		ArtUrl:  m.artURL,
	}, nil
}

func (m *Surface) Volume() (float64, error) {
	return 1, nil
}

func (m *Surface) SetVolume(float64) error {
	return errNotSupported
}

func (m *Surface) Position() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(toMicroseconds(m.positionLocked())), nil
}

func (m *Surface) MinimumRate() (float64, error) {
	return 1, nil
}

func (m *Surface) MaximumRate() (float64, error) {
	return 1, nil
}

func (m *Surface) CanGoNext() (bool, error) {
	return m.enabled(bridge.ControlNextTrack), nil
}

func (m *Surface) CanGoPrevious() (bool, error) {
	return m.enabled(bridge.ControlPreviousTrack), nil
}

func (m *Surface) CanPlay() (bool, error) {
	return m.enabled(bridge.ControlPlay), nil
}

func (m *Surface) CanPause() (bool, error) {
	return m.enabled(bridge.ControlPause), nil
}

func (m *Surface) CanSeek() (bool, error) {
	return m.enabled(bridge.ControlChangePlaybackPosition), nil
}

func (m *Surface) CanControl() (bool, error) {
	return true, nil
}

func (m *Surface) enabled(c bridge.Control) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controls[c]
}

func toMicroseconds(d time.Duration) types.Microseconds {
	return types.Microseconds(d.Microseconds())
}

func fromMicroseconds(us types.Microseconds) time.Duration {
	return time.Duration(us) * time.Microsecond
}

func encodeTrackID(id string) string {
	return base32.StdEncoding.WithPadding('0').EncodeToString([]byte(id))
}
