package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/playbridge/internal/app/bridge"
	"github.com/osa030/playbridge/internal/app/notification"
	"github.com/osa030/playbridge/internal/app/playback"
	"github.com/osa030/playbridge/internal/domain/track"
	"github.com/osa030/playbridge/internal/infra/config"
)

type nopEngine struct {
	mu    sync.Mutex
	loads []string
}

func (e *nopEngine) SetListener(l bridge.EngineListener) {}
func (e *nopEngine) Unload() error                       { return nil }
func (e *nopEngine) SetPaused(paused bool) error         { return nil }
func (e *nopEngine) Seek(offset time.Duration) error     { return nil }

func (e *nopEngine) Load(url string, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads = append(e.loads, url)
	return nil
}

func (e *nopEngine) loaded() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.loads...)
}

type nopSurface struct{}

func (nopSurface) EnableBackgroundMode(enabled bool) error      { return nil }
func (nopSurface) SetCommandHandler(h bridge.CommandHandler)    {}
func (nopSurface) EnableControl(c bridge.Control, enabled bool) {}
func (nopSurface) SetNowPlaying(np bridge.NowPlaying) error     { return nil }
func (nopSurface) UpdatePlayback(u bridge.PlaybackUpdate) error { return nil }

type fakeInhibitor struct {
	mu     sync.Mutex
	states []bool
}

func (f *fakeInhibitor) SetActive(active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, active)
}

func (f *fakeInhibitor) last() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.states) == 0 {
		return false, false
	}
	return f.states[len(f.states)-1], true
}

type statusStream struct {
	mu   sync.Mutex
	msgs []*notification.Status
}

func (s *statusStream) Send(st *notification.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, st)
	return nil
}

func (s *statusStream) lastPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs) > 0 && s.msgs[len(s.msgs)-1].IsPlaying
}

const testConfig = `
queue:
  tracks: ["static:a", "static:b", "static:missing"]
  autoplay: %s
  saved_queue_file: %q
sources:
  - type: static
    settings:
      tracks:
        - id: a
          url: "https://media.example.com/a.mp3"
          title: "Song A"
          artist: "Band"
          duration_sec: 200
        - id: b
          url: "https://media.example.com/b.mp3"
          title: "Song B"
          artist: "Band"
          duration_sec: 180
        - id: c
          url: "https://media.example.com/c.mp3"
          title: "Song C"
          artist: "Other Band"
          duration_sec: 240
        - id: long
          url: "https://media.example.com/long.mp3"
          title: "Long Song"
          duration_sec: 3600
filters:
  duplicate_track_filter:
    enabled: true
  duration_limit_filter:
    enabled: true
    settings:
      max_duration_sec: 900
`

func newTestManager(t *testing.T, autoplay bool, savedPath string) (*Manager, *nopEngine, *fakeInhibitor) {
	t.Helper()
	ap := "false"
	if autoplay {
		ap = "true"
	}
	cfg, err := config.Parse([]byte(fmt.Sprintf(testConfig, ap, savedPath)))
	require.NoError(t, err)

	engine := &nopEngine{}
	sleep := &fakeInhibitor{}
	m, err := NewManager(cfg, Deps{Engine: engine, Surface: nopSurface{}, Sleep: sleep})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, engine, sleep
}

func TestNewManager_RequiresAdapters(t *testing.T) {
	cfg, err := config.Parse([]byte(fmt.Sprintf(testConfig, "false", "")))
	require.NoError(t, err)

	_, err = NewManager(cfg, Deps{Surface: nopSurface{}})
	assert.Error(t, err)
}

func TestManager_StartLoadsConfiguredTracks(t *testing.T) {
	m, engine, _ := newTestManager(t, false, "")
	require.NoError(t, m.Start(context.Background()))

	q := m.Queue()
	require.Len(t, q, 3)
	assert.Equal(t, "static:a", q[0].Track.ID)
	assert.Equal(t, "Song A", q[0].Track.Title)
	assert.Equal(t, 200*time.Second, q[0].Track.Duration)
	assert.Equal(t, track.OriginConfig, q[0].Origin)
	// Unknown ids stay queued without metadata
	assert.Equal(t, "static:missing", q[2].Track.ID)
	assert.Empty(t, q[2].Track.Title)

	snap := m.Store().Snapshot()
	require.NotNil(t, snap.CurrentTrack)
	assert.Equal(t, "static:a", snap.CurrentTrack.ID)
	assert.False(t, snap.IsPlaying)

	// The selected track is loaded paused even without autoplay
	require.Eventually(t, func() bool { return len(engine.loaded()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "https://media.example.com/a.mp3", engine.loaded()[0])

	assert.ErrorIs(t, m.Start(context.Background()), ErrSessionRunning)
}

func TestManager_Autoplay(t *testing.T) {
	m, _, sleep := newTestManager(t, true, "")
	stream := &statusStream{}
	m.Subscribe(stream)
	require.NoError(t, m.Start(context.Background()))

	require.Eventually(t, func() bool { return m.Store().Snapshot().IsPlaying }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, stream.lastPlaying, 2*time.Second, 5*time.Millisecond)
	active, ok := sleep.last()
	assert.True(t, ok)
	assert.True(t, active)

	require.NoError(t, m.Pause())
	active, _ = sleep.last()
	assert.False(t, active)
}

func TestManager_ControlsRequireRunningSession(t *testing.T) {
	m, _, _ := newTestManager(t, false, "")

	assert.ErrorIs(t, m.Play(), ErrSessionNotRunning)
	assert.ErrorIs(t, m.Next(), ErrSessionNotRunning)
	assert.ErrorIs(t, m.Seek(time.Second), ErrSessionNotRunning)
	_, err := m.Enqueue(context.Background(), []string{"static:c"})
	assert.ErrorIs(t, err, ErrSessionNotRunning)
}

func TestManager_Enqueue(t *testing.T) {
	m, _, _ := newTestManager(t, false, "")
	require.NoError(t, m.Start(context.Background()))

	results, err := m.Enqueue(context.Background(), []string{
		"static:c",       // accepted
		"static:c",       // duplicate of the previous entry in the batch
		"static:a",       // already queued
		"static:long",    // too long
		"static:unknown", // not in any source
	})
	require.NoError(t, err)
	require.Len(t, results, 5)

	tests := []struct {
		accepted bool
		code     string
	}{
		{true, ""},
		{false, "duplicate_track"},
		{false, "duplicate_track"},
		{false, "duration_limit_exceeded"},
		{false, CodeTrackNotFound},
	}
	for i, tt := range tests {
		assert.Equal(t, tt.accepted, results[i].Accepted, "result %d", i)
		assert.Equal(t, tt.code, results[i].Code, "result %d", i)
	}

	q := m.Queue()
	require.Len(t, q, 4)
	assert.Equal(t, "static:c", q[3].Track.ID)
	assert.Equal(t, track.OriginRequest, q[3].Origin)
}

func TestManager_ConcurrentEnqueueAcceptsOnce(t *testing.T) {
	m, _, _ := newTestManager(t, false, "")
	require.NoError(t, m.Start(context.Background()))

	const workers = 8
	var wg sync.WaitGroup
	accepted := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := m.Enqueue(context.Background(), []string{"static:c"})
			if err != nil || len(results) != 1 {
				t.Errorf("enqueue: results=%v err=%v", results, err)
				return
			}
			if results[0].Accepted {
				accepted <- results[0].TrackID
			}
		}()
	}
	wg.Wait()
	close(accepted)

	assert.Len(t, accepted, 1)
	count := 0
	for _, qt := range m.Queue() {
		if qt.Track.ID == "static:c" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestManager_EnqueueWhileIdleStartsNewTrack(t *testing.T) {
	m, _, _ := newTestManager(t, true, "")
	require.NoError(t, m.Start(context.Background()))
	m.ClearQueue()

	results, err := m.Enqueue(context.Background(), []string{"static:c"})
	require.NoError(t, err)
	require.True(t, results[0].Accepted)

	snap := m.Store().Snapshot()
	require.NotNil(t, snap.CurrentTrack)
	assert.Equal(t, "static:c", snap.CurrentTrack.ID)
	assert.True(t, snap.IsPlaying)
}

func TestManager_SetPlayMode(t *testing.T) {
	m, _, _ := newTestManager(t, false, "")

	require.NoError(t, m.SetPlayMode("repeat_one"))
	assert.Equal(t, playback.PlayModeRepeatOne, m.Store().Snapshot().PlayMode)
	assert.Error(t, m.SetPlayMode("loop"))
}

func TestManager_SavedQueueRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")

	m, _, _ := newTestManager(t, false, path)
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Next())
	require.NoError(t, m.SetPlayMode("shuffle"))
	m.Close()
	<-m.Done()

	_, err := os.Stat(path)
	require.NoError(t, err)

	// A new session prefers the saved queue over configured tracks
	m2, _, _ := newTestManager(t, false, path)
	require.NoError(t, m2.Start(context.Background()))

	q := m2.Queue()
	require.Len(t, q, 3)
	assert.Equal(t, track.OriginSaved, q[0].Origin)
	snap := m2.Store().Snapshot()
	assert.Equal(t, playback.PlayModeShuffle, snap.PlayMode)
	require.NotNil(t, snap.CurrentTrack)
	assert.Equal(t, "static:b", snap.CurrentTrack.ID)
}

func TestLoadQueue(t *testing.T) {
	dir := t.TempDir()

	_, _, _, err := LoadQueue(filepath.Join(dir, "absent.json"))
	assert.ErrorIs(t, err, ErrNoSavedQueue)

	tests := []struct {
		name      string
		content   string
		wantErr   bool
		wantLen   int
		wantIndex int
	}{
		{
			name:      "valid",
			content:   `{"version":1,"index":1,"play_mode":"normal","tracks":[{"id":"a"},{"id":"b","duration_ms":1000}]}`,
			wantLen:   2,
			wantIndex: 1,
		},
		{
			name:      "index out of range",
			content:   `{"version":1,"index":5,"tracks":[{"id":"a"}]}`,
			wantLen:   1,
			wantIndex: -1,
		},
		{
			name:      "entries without id skipped",
			content:   `{"version":1,"index":-1,"tracks":[{"id":""},{"id":"b"}]}`,
			wantLen:   1,
			wantIndex: -1,
		},
		{
			name:    "unknown version",
			content: `{"version":9,"tracks":[]}`,
			wantErr: true,
		},
		{
			name:    "not json",
			content: `queue`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "queue.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			items, index, _, err := LoadQueue(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, items, tt.wantLen)
			assert.Equal(t, tt.wantIndex, index)
		})
	}
}
