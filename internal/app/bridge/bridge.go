// Package bridge keeps a media engine and the OS now-playing surface
// consistent with the playback state store.
package bridge

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playbridge/internal/app/playback"
	"github.com/osa030/playbridge/internal/app/resolver"
	"github.com/osa030/playbridge/internal/domain/track"
)

// Config holds bridge configuration.
type Config struct {
	BackgroundMode bool          // Keep playing when no client is attached
	ResolveTimeout time.Duration // Per-track resolution timeout (0 for none)
}

// Bridge drives the engine and the surface from store changes and relays
// their events back into store mutators.
//
// All reactions run on the goroutine that called Run, one at a time, in the
// order the events arrived. The fields below are owned by that goroutine.
type Bridge struct {
	store    StateSource
	resolver Resolver
	engine   Engine
	surface  Surface
	config   Config
	inbox    *mailbox

	url           string // resolved URL of the loaded source; empty when unloaded
	trackID       string // track the bridge last reacted to
	primed        bool
	playing       bool
	lastSeekSeq   uint64
	resolveGen    uint64
	cancelResolve context.CancelFunc
}

// New creates a new bridge.
func New(store StateSource, res Resolver, engine Engine, surface Surface, config Config) *Bridge {
	return &Bridge{
		store:    store,
		resolver: res,
		engine:   engine,
		surface:  surface,
		config:   config,
		inbox:    newMailbox(),
	}
}

// Run registers the bridge with its collaborators and processes events
// until ctx is canceled.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.surface.EnableBackgroundMode(b.config.BackgroundMode); err != nil {
		zlog.Warn().Err(err).Msg("bridge: failed to enable background mode")
	}
	b.surface.SetCommandHandler(commandHandler{b: b})
	for _, c := range []Control{ControlPlay, ControlPause, ControlNextTrack, ControlPreviousTrack, ControlChangePlaybackPosition} {
		b.surface.EnableControl(c, true)
	}
	b.surface.EnableControl(ControlStop, false)
	b.engine.SetListener(engineListener{b: b})

	unsubscribe := b.store.Subscribe(func(c playback.Change) {
		b.inbox.post(func() { b.onChange(ctx, c) })
	})
	defer unsubscribe()

	// Changes posted before this snapshot are older than it.
	snap := b.store.Snapshot()
	b.inbox.post(func() { b.applyInitial(ctx, snap) })

	zlog.Info().Msg("bridge: started")
	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return nil
		case <-b.inbox.signal:
			for _, fn := range b.inbox.drain() {
				fn()
			}
		}
	}
}

func (b *Bridge) shutdown() {
	if b.cancelResolve != nil {
		b.cancelResolve()
	}
	if b.url != "" {
		if err := b.engine.Unload(); err != nil {
			zlog.Debug().Err(err).Msg("bridge: failed to unload engine")
		}
		b.url = ""
	}
	if err := b.surface.SetNowPlaying(NowPlaying{}); err != nil {
		zlog.Debug().Err(err).Msg("bridge: failed to clear now playing")
	}
	if err := b.surface.EnableBackgroundMode(false); err != nil {
		zlog.Debug().Err(err).Msg("bridge: failed to disable background mode")
	}
	zlog.Info().Msg("bridge: stopped")
}

func (b *Bridge) applyInitial(ctx context.Context, snap playback.Snapshot) {
	if !b.primed || snapshotTrackID(snap) != b.trackID {
		b.onTrackChanged(ctx, snap)
	}
	b.onPlayingChanged(snap)
	b.onSeekRequested(snap)
}

func (b *Bridge) onChange(ctx context.Context, c playback.Change) {
	if c.Fields.Has(playback.ChangedTrack) {
		b.onTrackChanged(ctx, c.Snapshot)
	}
	if c.Fields.Has(playback.ChangedPlaying) {
		b.onPlayingChanged(c.Snapshot)
	} else if c.Fields.Has(playback.ChangedDuration) {
		b.updatePlayback(c.Snapshot.Elapsed, c.Snapshot.Duration)
	}
	b.onSeekRequested(c.Snapshot)
}

func (b *Bridge) onTrackChanged(ctx context.Context, snap playback.Snapshot) {
	b.primed = true
	b.trackID = snapshotTrackID(snap)
	zlog.Debug().Msgf("bridge: track changed: track=%s", b.trackID)

	b.store.SetElapsed(0)

	if b.cancelResolve != nil {
		b.cancelResolve()
		b.cancelResolve = nil
	}
	b.resolveGen++
	if b.url != "" {
		b.url = ""
		if err := b.engine.Unload(); err != nil {
			zlog.Debug().Err(err).Msg("bridge: failed to unload engine")
		}
	}

	if snap.CurrentTrack != nil {
		b.resolve(ctx, *snap.CurrentTrack)
	}
	if err := b.surface.SetNowPlaying(nowPlaying(snap.CurrentTrack)); err != nil {
		zlog.Debug().Err(err).Msgf("bridge: failed to set now playing: track=%s", b.trackID)
	}
}

func (b *Bridge) resolve(ctx context.Context, t track.Track) {
	var rctx context.Context
	var cancel context.CancelFunc
	if b.config.ResolveTimeout > 0 {
		rctx, cancel = context.WithTimeout(ctx, b.config.ResolveTimeout)
	} else {
		rctx, cancel = context.WithCancel(ctx)
	}
	b.cancelResolve = cancel
	gen := b.resolveGen

	go func() {
		url, err := b.resolver.Resolve(rctx, t.ID)
		b.inbox.post(func() { b.onResolved(gen, t.ID, url, err) })
	}()
}

func (b *Bridge) onResolved(gen uint64, id, url string, err error) {
	if gen != b.resolveGen || id != b.trackID {
		zlog.Debug().Msgf("bridge: discarding stale resolution: track=%s", id)
		return
	}
	b.cancelResolve = nil

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		if errors.Is(err, resolver.ErrNotFound) {
			zlog.Info().Msgf("bridge: track not found: track=%s", id)
		} else {
			zlog.Warn().Err(err).Msgf("bridge: failed to resolve track: track=%s", id)
		}
		b.store.MarkLoadFailed(id)
		return
	}

	playing := b.store.Snapshot().IsPlaying
	if err := b.engine.Load(url, !playing); err != nil {
		zlog.Warn().Err(err).Msgf("bridge: failed to load track: track=%s", id)
		b.store.MarkLoadFailed(id)
		return
	}
	b.url = url
	b.playing = playing
	zlog.Debug().Msgf("bridge: loaded track: track=%s paused=%t", id, !playing)
}

func (b *Bridge) onPlayingChanged(snap playback.Snapshot) {
	b.playing = snap.IsPlaying
	b.updatePlayback(snap.Elapsed, snap.Duration)
	if b.url == "" {
		return
	}
	if err := b.engine.SetPaused(!snap.IsPlaying); err != nil {
		zlog.Warn().Err(err).Msg("bridge: failed to set paused")
	}
}

func (b *Bridge) onSeekRequested(snap playback.Snapshot) {
	req := snap.PendingSeek
	if req == nil || req.Seq <= b.lastSeekSeq {
		return
	}
	b.lastSeekSeq = req.Seq
	if b.url != "" {
		if err := b.engine.Seek(req.Offset); err != nil {
			zlog.Warn().Err(err).Msgf("bridge: failed to seek: offset=%s", req.Offset)
		}
	}
	b.store.ConsumeSeek(req.Seq)
}

func (b *Bridge) updatePlayback(elapsed, duration time.Duration) {
	u := PlaybackUpdate{Elapsed: elapsed, Duration: duration}
	switch {
	case b.trackID == "":
		u.State = StateStopped
	case b.playing:
		u.State = StatePlaying
	default:
		u.State = StatePaused
	}
	if err := b.surface.UpdatePlayback(u); err != nil {
		zlog.Debug().Err(err).Msg("bridge: failed to update playback")
	}
}

// sourceCurrent reports whether the loaded source still belongs to the
// store's current track. Engine events queued before a track change fail it.
func (b *Bridge) sourceCurrent() bool {
	return b.url != "" && snapshotTrackID(b.store.Snapshot()) == b.trackID
}

func (b *Bridge) onLoadComplete(duration time.Duration) {
	if !b.sourceCurrent() {
		return
	}
	b.store.SetElapsed(0)
	b.store.SetDuration(duration)
}

func (b *Bridge) onProgress(elapsed time.Duration) {
	if !b.sourceCurrent() {
		return
	}
	b.updatePlayback(elapsed, b.store.Snapshot().Duration)
	b.store.SetElapsed(elapsed)
}

func (b *Bridge) onEnd() {
	if !b.sourceCurrent() {
		zlog.Debug().Msgf("bridge: dropping stale end of track: track=%s", b.trackID)
		return
	}
	if b.store.Snapshot().PlayMode == playback.PlayModeRepeatOne {
		if err := b.engine.Seek(0); err != nil {
			zlog.Warn().Err(err).Msg("bridge: failed to restart track")
		}
		return
	}
	if err := b.store.Next(); err != nil {
		zlog.Debug().Err(err).Msg("bridge: failed to advance after end of track")
	}
}

func (b *Bridge) onSeekComplete(elapsed time.Duration) {
	if !b.sourceCurrent() {
		return
	}
	b.store.SetElapsed(elapsed)
	b.updatePlayback(elapsed, b.store.Snapshot().Duration)
}

func (b *Bridge) onAudioBecomingNoisy() {
	zlog.Info().Msg("bridge: audio output changed, pausing")
	b.pause()
}

func (b *Bridge) onAudioFocusChanged(hasFocus bool) {
	if hasFocus || !b.store.Snapshot().IsPlaying {
		return
	}
	zlog.Info().Msg("bridge: audio focus lost, pausing")
	b.pause()
}

func (b *Bridge) onEngineError(err error) {
	if b.url == "" {
		return
	}
	zlog.Warn().Err(err).Msgf("bridge: engine error: track=%s", b.trackID)
	b.url = ""
	if err := b.engine.Unload(); err != nil {
		zlog.Debug().Err(err).Msg("bridge: failed to unload engine")
	}
	b.store.MarkLoadFailed(b.trackID)
}

func (b *Bridge) pause() {
	if err := b.store.Pause(); err != nil && !errors.Is(err, playback.ErrNoTrack) {
		zlog.Warn().Err(err).Msg("bridge: failed to pause")
	}
}

func snapshotTrackID(snap playback.Snapshot) string {
	if snap.CurrentTrack == nil {
		return ""
	}
	return snap.CurrentTrack.ID
}

func nowPlaying(t *track.Track) NowPlaying {
	if t == nil {
		return NowPlaying{}
	}
	return NowPlaying{
		TrackID:    t.ID,
		Title:      t.DisplayTitle(),
		Artist:     t.Artist,
		Album:      t.Album,
		ArtworkURL: t.ArtworkURL,
		Duration:   t.Duration,
	}
}
