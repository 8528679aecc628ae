// Package session provides the session manager that assembles the playback
// runtime from configuration.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playbridge/internal/app/bridge"
	"github.com/osa030/playbridge/internal/app/filter"
	"github.com/osa030/playbridge/internal/app/notification"
	"github.com/osa030/playbridge/internal/app/playback"
	"github.com/osa030/playbridge/internal/app/resolver"
	"github.com/osa030/playbridge/internal/domain/track"
	"github.com/osa030/playbridge/internal/infra/config"
)

var (
	ErrSessionNotRunning = errors.New("session is not running")
	ErrSessionRunning    = errors.New("session is already running")
)

// Rejection codes reported by Enqueue besides filter codes.
const (
	CodeTrackNotFound = "track_not_found"
	CodeLookupFailed  = "lookup_failed"
)

// bridgeStopTimeout bounds how long Close waits for the bridge to unload.
const bridgeStopTimeout = 3 * time.Second

// SpotifyClient is the Spotify API used for track lookup and playlist import.
type SpotifyClient interface {
	resolver.SpotifyClient
	GetPlaylistTracks(ctx context.Context, playlistURL string) ([]track.Track, error)
}

// SleepInhibitor keeps the system awake while playback is active.
type SleepInhibitor interface {
	SetActive(active bool)
}

// Deps holds the platform adapters the session drives.
type Deps struct {
	Engine  bridge.Engine
	Surface bridge.Surface
	Spotify SpotifyClient  // nil when Spotify is not configured
	Sleep   SleepInhibitor // optional
}

// EnqueueResult is the outcome of one enqueue request.
type EnqueueResult struct {
	TrackID  string
	Accepted bool
	Code     string
	Track    *track.Track
}

// Manager manages the playback session.
type Manager struct {
	mu sync.RWMutex
	// enqueueMu serializes Enqueue so admission filters see every earlier append.
	enqueueMu sync.Mutex

	// Configuration
	config *config.Config

	// Components
	store        *playback.Store
	resolver     *resolver.Chain
	filterChain  *filter.Chain
	notification *notification.Manager
	bridge       *bridge.Bridge
	spotify      SpotifyClient
	sleep        SleepInhibitor

	running     bool
	unsubscribe func()
	bridgeDone  chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a new session manager.
func NewManager(cfg *config.Config, deps Deps) (*Manager, error) {
	if deps.Engine == nil || deps.Surface == nil {
		return nil, errors.New("engine and surface are required")
	}

	mode, err := playback.ParsePlayMode(cfg.Queue.PlayMode)
	if err != nil {
		return nil, errors.Wrap(err, "invalid play mode")
	}

	// A nil *spotify.Client must not become a non-nil interface
	var spotifyClient resolver.SpotifyClient
	if deps.Spotify != nil {
		spotifyClient = deps.Spotify
	}
	chain, err := resolver.NewChainFromConfig(cfg, spotifyClient)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resolver chain")
	}

	store := playback.NewStore(playback.Config{
		RewindThreshold: cfg.Player.RewindThreshold(),
		PlayMode:        mode,
	})

	filterChain, err := filter.NewChainFromConfig(cfg, store)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create filter chain")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:       cfg,
		store:        store,
		resolver:     chain,
		filterChain:  filterChain,
		notification: notification.NewManager(),
		bridge: bridge.New(store, chain, deps.Engine, deps.Surface, bridge.Config{
			BackgroundMode: cfg.Player.BackgroundMode,
			ResolveTimeout: cfg.Player.ResolveTimeout(),
		}),
		spotify:    deps.Spotify,
		sleep:      deps.Sleep,
		bridgeDone: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	return m, nil
}

// Start loads the initial queue and starts the bridge.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrSessionRunning
	}
	m.mu.Unlock()

	items, start, err := m.loadInitialQueue(ctx)
	if err != nil {
		return err
	}
	m.store.SetQueue(items, start)
	zlog.Info().Msgf("session: queue loaded: tracks=%d start=%d", len(items), start)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.unsubscribe = m.store.Subscribe(m.onChange)
	go m.notification.Run(m.ctx)

	go func() {
		defer close(m.bridgeDone)
		if err := m.bridge.Run(m.ctx); err != nil {
			zlog.Error().Msgf("session: bridge stopped: %v", err)
		}
	}()
	m.running = true

	if m.config.Queue.Autoplay && len(items) > 0 {
		go func() {
			if err := m.store.Play(); err != nil {
				zlog.Debug().Msgf("session: initial play: %v", err)
			}
		}()
	}

	zlog.Info().Msg("session: started")
	return nil
}

// onChange forwards store changes to status subscribers and the sleep
// inhibitor. It runs synchronously inside store mutations and must not block.
func (m *Manager) onChange(c playback.Change) {
	if c.Fields.Has(playback.ChangedPlaying) && m.sleep != nil {
		m.sleep.SetActive(c.Snapshot.IsPlaying)
	}
	m.notification.Publish(notification.StatusFromSnapshot(c.Snapshot))
}

// Close stops the bridge, saves the queue and releases subscribers.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		wasRunning := m.running
		m.running = false
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		m.mu.Unlock()

		m.cancel()
		if wasRunning {
			select {
			case <-m.bridgeDone:
			case <-time.After(bridgeStopTimeout):
				zlog.Warn().Msg("session: bridge did not stop in time")
			}
		}
		if m.sleep != nil {
			m.sleep.SetActive(false)
		}

		if wasRunning && m.config.Queue.SavedQueueFile != "" {
			if err := SaveQueue(m.config.Queue.SavedQueueFile, m.store.Snapshot(), m.store.Tracks()); err != nil {
				zlog.Error().Msgf("session: failed to save queue: %v", err)
			} else {
				zlog.Info().Msgf("session: queue saved: path=%s", m.config.Queue.SavedQueueFile)
			}
		}

		m.notification.Close()
		close(m.done)
		zlog.Info().Msg("session: closed")
	})
}

// Done returns a channel that is closed when the session is closed.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Store returns the playback store.
func (m *Manager) Store() *playback.Store {
	return m.store
}

// Resolver returns the track resolver chain.
func (m *Manager) Resolver() *resolver.Chain {
	return m.resolver
}

func (m *Manager) isRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Play starts playback.
func (m *Manager) Play() error {
	if !m.isRunning() {
		return ErrSessionNotRunning
	}
	return m.store.Play()
}

// Pause pauses playback.
func (m *Manager) Pause() error {
	if !m.isRunning() {
		return ErrSessionNotRunning
	}
	return m.store.Pause()
}

// TogglePlay switches between playing and paused.
func (m *Manager) TogglePlay() error {
	if !m.isRunning() {
		return ErrSessionNotRunning
	}
	return m.store.TogglePlay()
}

// Next skips to the next track.
func (m *Manager) Next() error {
	if !m.isRunning() {
		return ErrSessionNotRunning
	}
	return m.store.Next()
}

// Previous moves back one track or restarts the current one.
func (m *Manager) Previous() error {
	if !m.isRunning() {
		return ErrSessionNotRunning
	}
	return m.store.Previous()
}

// Seek moves the playback position of the current track.
func (m *Manager) Seek(position time.Duration) error {
	if !m.isRunning() {
		return ErrSessionNotRunning
	}
	return m.store.RequestSeek(position)
}

// SetPlayMode changes the play mode by name.
func (m *Manager) SetPlayMode(name string) error {
	mode, err := playback.ParsePlayMode(name)
	if err != nil {
		return err
	}
	m.store.SetPlayMode(mode)
	zlog.Info().Msgf("session: play mode changed: mode=%s", mode)
	return nil
}

// ClearQueue removes every track and stops playback.
func (m *Manager) ClearQueue() {
	m.store.ClearQueue()
	zlog.Info().Msg("session: queue cleared")
}

// Queue returns the queued tracks in insertion order.
func (m *Manager) Queue() []track.QueuedTrack {
	return m.store.Tracks()
}

// Status returns the current status.
func (m *Manager) Status() *notification.Status {
	return notification.StatusFromSnapshot(m.store.Snapshot())
}

// Subscribe registers a status stream and sends it the current status.
func (m *Manager) Subscribe(stream notification.Stream) string {
	id := m.notification.Subscribe(stream)
	if err := m.notification.Send(id, m.Status()); err != nil {
		zlog.Debug().Msgf("session: failed to send initial status: id=%s err=%v", id, err)
	}
	return id
}

// Unsubscribe removes a status stream.
func (m *Manager) Unsubscribe(id string) {
	m.notification.Unsubscribe(id)
}

// Enqueue looks up each id, runs the admission filters and appends the
// accepted tracks. Results are reported per id, in request order.
func (m *Manager) Enqueue(ctx context.Context, ids []string) ([]EnqueueResult, error) {
	if !m.isRunning() {
		return nil, ErrSessionNotRunning
	}

	m.enqueueMu.Lock()
	defer m.enqueueMu.Unlock()

	wasIdle := m.store.Snapshot().CurrentTrack == nil
	firstNew := -1

	results := make([]EnqueueResult, 0, len(ids))
	for _, id := range ids {
		res := EnqueueResult{TrackID: id}

		t, err := m.resolver.Lookup(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return results, ctxErr
			}
			res.Code = CodeLookupFailed
			if errors.Is(err, resolver.ErrNotFound) {
				res.Code = CodeTrackNotFound
			}
			zlog.Warn().Msgf("session: enqueue rejected: track=%s code=%s", id, res.Code)
			results = append(results, res)
			continue
		}
		res.Track = t

		result := m.filterChain.Execute(ctx, *t, track.OriginRequest)
		zlog.Info().Msgf("session: enqueue request: track=%s title=%s result=%t code=%s", id, t.DisplayTitle(), result.Accepted, result.Code)
		if !result.Accepted {
			res.Code = result.Code
			results = append(results, res)
			continue
		}

		// Enqueue one at a time so the duplicate filter sees earlier ids of the batch
		if firstNew < 0 {
			firstNew = len(m.store.Tracks())
		}
		m.store.Enqueue(track.QueuedTrack{
			Track:   *t,
			Origin:  track.OriginRequest,
			AddedAt: time.Now(),
		})
		res.Accepted = true
		results = append(results, res)
	}

	// If playback is idle, start from the first new track
	if wasIdle && firstNew >= 0 && m.config.Queue.Autoplay {
		if err := m.store.Select(firstNew); err != nil {
			zlog.Debug().Msgf("session: select after enqueue: %v", err)
		} else if err := m.store.Play(); err != nil {
			zlog.Debug().Msgf("session: play after enqueue: %v", err)
		}
	}

	return results, nil
}

// loadInitialQueue returns the startup queue. A saved queue takes
// precedence; otherwise configured tracks are followed by the playlist.
func (m *Manager) loadInitialQueue(ctx context.Context) ([]track.QueuedTrack, int, error) {
	if path := m.config.Queue.SavedQueueFile; path != "" {
		items, index, mode, err := LoadQueue(path)
		switch {
		case err == nil && len(items) > 0:
			if mode != "" {
				if pm, err := playback.ParsePlayMode(mode); err == nil {
					m.store.SetPlayMode(pm)
				}
			}
			zlog.Info().Msgf("session: restored saved queue: path=%s tracks=%d", path, len(items))
			return items, index, nil
		case err != nil && !errors.Is(err, ErrNoSavedQueue):
			zlog.Warn().Msgf("session: ignoring unreadable saved queue: path=%s err=%v", path, err)
		}
	}

	now := time.Now()
	var items []track.QueuedTrack

	for _, id := range m.config.Queue.Tracks {
		t, err := m.resolver.Lookup(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, -1, ctxErr
			}
			// Keep the entry; resolution is retried when it plays
			zlog.Warn().Msgf("session: track lookup failed: track=%s err=%v", id, err)
			t = &track.Track{ID: id}
		}
		items = append(items, track.QueuedTrack{Track: *t, Origin: track.OriginConfig, AddedAt: now})
	}

	if url := m.config.Queue.PlaylistURL; url != "" {
		if m.spotify == nil {
			return nil, -1, errors.New("playlist_url requires spotify credentials")
		}
		tracks, err := m.spotify.GetPlaylistTracks(ctx, url)
		if err != nil {
			return nil, -1, errors.Wrap(err, "failed to load playlist")
		}
		zlog.Info().Msgf("session: loaded playlist: track_count=%d", len(tracks))
		for _, t := range tracks {
			items = append(items, track.QueuedTrack{Track: t, Origin: track.OriginPlaylist, AddedAt: now})
		}
	}

	if len(items) == 0 {
		return nil, -1, nil
	}
	return items, 0, nil
}
