package bridge

import (
	"time"

	zlog "github.com/rs/zerolog/log"
)

// engineListener posts engine events to the bridge inbox.
type engineListener struct {
	b *Bridge
}

func (l engineListener) OnLoadComplete(duration time.Duration) {
	l.b.inbox.post(func() { l.b.onLoadComplete(duration) })
}

func (l engineListener) OnProgress(elapsed time.Duration) {
	l.b.inbox.post(func() { l.b.onProgress(elapsed) })
}

func (l engineListener) OnEnd() {
	l.b.inbox.post(l.b.onEnd)
}

func (l engineListener) OnSeekComplete(elapsed time.Duration) {
	l.b.inbox.post(func() { l.b.onSeekComplete(elapsed) })
}

func (l engineListener) OnAudioBecomingNoisy() {
	l.b.inbox.post(l.b.onAudioBecomingNoisy)
}

func (l engineListener) OnAudioFocusChanged(hasFocus bool) {
	l.b.inbox.post(func() { l.b.onAudioFocusChanged(hasFocus) })
}

func (l engineListener) OnError(err error) {
	l.b.inbox.post(func() { l.b.onEngineError(err) })
}

// commandHandler posts surface transport commands to the bridge inbox.
type commandHandler struct {
	b *Bridge
}

func (h commandHandler) OnPlay() {
	h.b.inbox.post(func() { h.run("play", h.b.store.Play) })
}

func (h commandHandler) OnPause() {
	h.b.inbox.post(func() { h.run("pause", h.b.store.Pause) })
}

func (h commandHandler) OnNext() {
	h.b.inbox.post(func() { h.run("next", h.b.store.Next) })
}

func (h commandHandler) OnPrevious() {
	h.b.inbox.post(func() { h.run("previous", h.b.store.Previous) })
}

func (h commandHandler) OnSeek(position time.Duration) {
	h.b.inbox.post(func() {
		h.run("seek", func() error { return h.b.store.RequestSeek(position) })
	})
}

func (h commandHandler) run(name string, fn func() error) {
	zlog.Debug().Msgf("bridge: surface command: command=%s", name)
	if err := fn(); err != nil {
		zlog.Debug().Err(err).Msgf("bridge: surface command failed: command=%s", name)
	}
}
