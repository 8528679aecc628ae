package bridge

import (
	"context"
	"time"

	"github.com/osa030/playbridge/internal/app/playback"
)

// StateSource is the playback state the bridge observes and mutates.
type StateSource interface {
	Snapshot() playback.Snapshot
	Subscribe(fn func(playback.Change)) func()

	Play() error
	Pause() error
	Next() error
	Previous() error
	RequestSeek(offset time.Duration) error
	ConsumeSeek(seq uint64)
	SetElapsed(d time.Duration)
	SetDuration(d time.Duration)
	MarkLoadFailed(id string)
}

// Resolver maps a track id to a playable URL.
// A track that no source has is reported as resolver.ErrNotFound.
type Resolver interface {
	Resolve(ctx context.Context, trackID string) (string, error)
}

// EngineListener receives media engine events. Callbacks may be invoked
// from any goroutine.
type EngineListener interface {
	OnLoadComplete(duration time.Duration)
	OnProgress(elapsed time.Duration)
	OnEnd()
	OnSeekComplete(elapsed time.Duration)
	OnAudioBecomingNoisy()
	OnAudioFocusChanged(hasFocus bool)
	OnError(err error)
}

// Engine decodes and plays a single media source.
type Engine interface {
	SetListener(l EngineListener)
	Load(url string, paused bool) error
	Unload() error
	SetPaused(paused bool) error
	Seek(offset time.Duration) error
}

// Control is a transport control shown by the OS surface.
type Control string

const (
	ControlPlay                   Control = "play"
	ControlPause                  Control = "pause"
	ControlStop                   Control = "stop"
	ControlNextTrack              Control = "nextTrack"
	ControlPreviousTrack          Control = "previousTrack"
	ControlChangePlaybackPosition Control = "changePlaybackPosition"
)

// PlaybackState is the state shown by the OS surface.
type PlaybackState int

const (
	StateStopped PlaybackState = iota
	StatePaused
	StatePlaying
)

func (s PlaybackState) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// NowPlaying is the metadata shown by the OS surface.
// A zero value clears it.
type NowPlaying struct {
	TrackID    string
	Title      string
	Artist     string
	Album      string
	ArtworkURL string
	Duration   time.Duration
}

// PlaybackUpdate is a play state and position update for the OS surface.
type PlaybackUpdate struct {
	State    PlaybackState
	Elapsed  time.Duration
	Duration time.Duration
}

// CommandHandler receives transport commands from the OS surface.
type CommandHandler interface {
	OnPlay()
	OnPause()
	OnNext()
	OnPrevious()
	OnSeek(position time.Duration)
}

// Surface is the OS now-playing control surface.
type Surface interface {
	EnableBackgroundMode(enabled bool) error
	SetCommandHandler(h CommandHandler)
	EnableControl(c Control, enabled bool)
	SetNowPlaying(np NowPlaying) error
	UpdatePlayback(u PlaybackUpdate) error
}
