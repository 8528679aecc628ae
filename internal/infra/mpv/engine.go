// Package mpv provides the media engine backed by libmpv.
package mpv

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/supersonic-app/go-mpv"

	"github.com/osa030/playbridge/internal/app/bridge"
)

// ErrUninitialized is returned by Engine methods called before Init.
var ErrUninitialized = errors.New("mpv engine uninitialized")

// ErrLoadFailed is reported to the listener when mpv gives up on a source
// before it finished loading.
var ErrLoadFailed = errors.New("mpv failed to load media")

// Property observer ids.
const (
	obsEOF = iota + 1
	obsDevices
)

// Config holds engine configuration.
type Config struct {
	ClientName       string        // Name reported to the system audio API
	AudioDevice      string        // mpv audio-device ("auto" for default)
	CacheMB          int           // In-memory demuxer cache
	ProgressInterval time.Duration // Progress event period while playing
}

// Engine plays one source at a time through libmpv and reports lifecycle
// events to a bridge.EngineListener.
type Engine struct {
	config Config
	mpv    *mpv.Mpv

	mu          sync.Mutex
	initialized bool
	listener    bridge.EngineListener
	url         string
	loading     bool // loadfile issued, FILE_LOADED not seen yet
	loaded      bool
	paused      bool
	seeking     bool
	ended       bool
	devices     int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ bridge.Engine = (*Engine)(nil)

// New returns a new engine. Init must be called before use.
func New(config Config) *Engine {
	if config.ProgressInterval <= 0 {
		config.ProgressInterval = 250 * time.Millisecond
	}
	return &Engine{
		config:   config,
		listener: nopListener{},
		paused:   true,
	}
}

// Init creates the mpv instance and starts the event loops.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}

	m := mpv.Create()
	m.SetOptionString("idle", "yes")
	m.SetOptionString("video", "no")
	m.SetOptionString("audio-display", "no")
	m.SetOptionString("terminal", "no")
	m.SetOptionString("force-seekable", "yes")
	// Stay on the finished file so end of media is observable and a seek
	// back to the start resumes playback.
	m.SetOptionString("keep-open", "yes")
	m.SetOptionString("keep-open-pause", "no")
	m.SetOptionString("pause", "yes")

	fwd, back := cacheLimits(e.config.CacheMB)
	m.SetOptionString("demuxer-max-bytes", fwd)
	m.SetOptionString("demuxer-max-back-bytes", back)

	if e.config.ClientName != "" {
		m.SetOptionString("audio-client-name", e.config.ClientName)
	}
	if e.config.AudioDevice != "" {
		m.SetOptionString("audio-device", e.config.AudioDevice)
	}

	m.ObserveProperty(obsEOF, "eof-reached", mpv.FORMAT_FLAG)
	m.ObserveProperty(obsDevices, "audio-device-list", mpv.FORMAT_NODE)

	if err := m.Initialize(); err != nil {
		return errors.Wrap(err, "error initializing mpv")
	}
	e.mpv = m
	e.devices = e.countDevices()

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(2)
	go e.eventLoop(ctx)
	go e.progressLoop(ctx)

	e.initialized = true
	zlog.Info().Msgf("mpv: initialized: device=%s cache=%dMiB devices=%d", e.config.AudioDevice, e.config.CacheMB, e.devices)
	return nil
}

// Destroy stops the event loops and releases mpv.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return
	}
	e.initialized = false
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	_ = e.mpv.Command([]string{"stop"})
	e.mpv.TerminateDestroy()
	zlog.Info().Msg("mpv: destroyed")
}

// SetListener sets the event listener.
func (e *Engine) SetListener(l bridge.EngineListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l == nil {
		l = nopListener{}
	}
	e.listener = l
}

// Load replaces the current source with url.
func (e *Engine) Load(url string, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return ErrUninitialized
	}

	if err := e.mpv.SetProperty("pause", mpv.FORMAT_FLAG, paused); err != nil {
		return errors.Wrap(err, "failed to set pause")
	}
	if err := e.mpv.Command([]string{"loadfile", url, "replace"}); err != nil {
		return errors.Wrap(err, "failed to load file")
	}
	e.paused = paused
	e.url = url
	e.loading = true
	e.loaded = false
	e.seeking = false
	e.ended = false
	zlog.Debug().Msgf("mpv: loading: url=%s paused=%t", url, paused)
	return nil
}

// Unload pauses and detaches the current source. mpv keeps the file open
// until the next Load replaces it, so no idle transition is triggered.
func (e *Engine) Unload() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return ErrUninitialized
	}
	e.url = ""
	e.loading = false
	e.loaded = false
	e.seeking = false
	e.ended = false
	if err := e.mpv.SetProperty("pause", mpv.FORMAT_FLAG, true); err != nil {
		return errors.Wrap(err, "failed to pause")
	}
	e.paused = true
	return nil
}

// SetPaused pauses or resumes the current source.
func (e *Engine) SetPaused(paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return ErrUninitialized
	}
	if err := e.mpv.SetProperty("pause", mpv.FORMAT_FLAG, paused); err != nil {
		return errors.Wrap(err, "failed to set pause")
	}
	e.paused = paused
	return nil
}

// Seek moves the playback position to offset from the start.
func (e *Engine) Seek(offset time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return ErrUninitialized
	}
	if err := e.mpv.Command([]string{"seek", seekTarget(offset), "absolute"}); err != nil {
		return errors.Wrap(err, "failed to seek")
	}
	e.seeking = true
	e.ended = false
	return nil
}

func (e *Engine) eventLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			ev := e.mpv.WaitEvent(1 /*timeout seconds*/)
			switch ev.Event_Id {
			case mpv.EVENT_FILE_LOADED:
				e.onFileLoaded()
			case mpv.EVENT_PLAYBACK_RESTART:
				e.onPlaybackRestart()
			case mpv.EVENT_IDLE:
				e.onIdle()
			case mpv.EVENT_PROPERTY_CHANGE:
				switch ev.Reply_Userdata {
				case obsEOF:
					e.onEOFChanged()
				case obsDevices:
					e.onDevicesChanged()
				}
			}
		}
	}
}

func (e *Engine) progressLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.config.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			active := e.loaded && !e.paused && !e.seeking && !e.ended
			l := e.listener
			e.mu.Unlock()
			if !active {
				continue
			}
			if pos, ok := e.position(); ok {
				l.OnProgress(pos)
			}
		}
	}
}

func (e *Engine) onFileLoaded() {
	path := e.mpv.GetPropertyString("path")

	e.mu.Lock()
	// A replaced load may still finish; only the latest url counts
	if !e.loading || (path != "" && path != e.url) {
		e.mu.Unlock()
		return
	}
	e.loading = false
	e.loaded = true
	l := e.listener
	e.mu.Unlock()

	var duration time.Duration
	if v, err := e.mpv.GetProperty("duration", mpv.FORMAT_DOUBLE); err == nil && v != nil {
		duration = seconds(v.(float64))
	}
	zlog.Debug().Msgf("mpv: file loaded: duration=%s", duration)
	l.OnLoadComplete(duration)
}

func (e *Engine) onPlaybackRestart() {
	e.mu.Lock()
	if !e.seeking || !e.loaded {
		e.mu.Unlock()
		return
	}
	e.seeking = false
	l := e.listener
	e.mu.Unlock()

	if pos, ok := e.position(); ok {
		l.OnSeekComplete(pos)
	}
}

// onIdle reports a load failure when mpv went idle before the file loaded.
func (e *Engine) onIdle() {
	e.mu.Lock()
	if !e.loading {
		e.mu.Unlock()
		return
	}
	e.loading = false
	l := e.listener
	e.mu.Unlock()

	zlog.Warn().Msg("mpv: source went idle before loading")
	l.OnError(ErrLoadFailed)
}

func (e *Engine) onEOFChanged() {
	v, err := e.mpv.GetProperty("eof-reached", mpv.FORMAT_FLAG)
	if err != nil || v == nil || !v.(bool) {
		return
	}

	e.mu.Lock()
	if !e.loaded || e.ended {
		e.mu.Unlock()
		return
	}
	e.ended = true
	l := e.listener
	e.mu.Unlock()

	zlog.Debug().Msg("mpv: end of media")
	l.OnEnd()
}

// onDevicesChanged treats a shrinking device list as the output device
// going away (headphones unplugged).
func (e *Engine) onDevicesChanged() {
	n := e.countDevices()

	e.mu.Lock()
	prev := e.devices
	e.devices = n
	l := e.listener
	e.mu.Unlock()

	if deviceRemoved(prev, n) {
		zlog.Info().Msgf("mpv: audio device removed: before=%d after=%d", prev, n)
		l.OnAudioBecomingNoisy()
	}
}

func (e *Engine) countDevices() int {
	v, err := e.mpv.GetProperty("audio-device-list", mpv.FORMAT_NODE)
	if err != nil || v == nil {
		return 0
	}
	node, ok := v.(*mpv.Node)
	if !ok {
		return 0
	}
	list, ok := node.Data.([]*mpv.Node)
	if !ok {
		return 0
	}
	return len(list)
}

func (e *Engine) position() (time.Duration, bool) {
	v, err := e.mpv.GetProperty("playback-time", mpv.FORMAT_DOUBLE)
	if err != nil || v == nil {
		return 0, false
	}
	return seconds(v.(float64)), true
}

// cacheLimits splits the cache budget into forward and back buffers.
func cacheLimits(cacheMB int) (fwd, back string) {
	backMB := cacheMB / 3
	return fmt.Sprintf("%dMiB", cacheMB-backMB), fmt.Sprintf("%dMiB", backMB)
}

func seekTarget(offset time.Duration) string {
	if offset < 0 {
		offset = 0
	}
	return fmt.Sprintf("%0.3f", offset.Seconds())
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

func deviceRemoved(before, after int) bool {
	return before > 0 && after < before
}

// nopListener discards events until a listener is set.
type nopListener struct{}

func (nopListener) OnLoadComplete(time.Duration) {}
func (nopListener) OnProgress(time.Duration)     {}
func (nopListener) OnEnd()                       {}
func (nopListener) OnSeekComplete(time.Duration) {}
func (nopListener) OnAudioBecomingNoisy()        {}
func (nopListener) OnAudioFocusChanged(bool)     {}
func (nopListener) OnError(error)                {}
