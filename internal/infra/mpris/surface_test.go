package mpris

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/quarckster/go-mpris-server/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/playbridge/internal/app/bridge"
)

type recordingHandler struct {
	mu    sync.Mutex
	calls []string
	seeks []time.Duration
}

func (h *recordingHandler) record(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, name)
}

func (h *recordingHandler) OnPlay()     { h.record("play") }
func (h *recordingHandler) OnPause()    { h.record("pause") }
func (h *recordingHandler) OnNext()     { h.record("next") }
func (h *recordingHandler) OnPrevious() { h.record("previous") }

func (h *recordingHandler) OnSeek(position time.Duration) {
	h.record("seek")
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seeks = append(h.seeks, position)
}

type fakeArtwork struct {
	url string
	err error
}

func (f fakeArtwork) ArtworkURL(ctx context.Context, trackName, artistName string) (string, error) {
	return f.url, f.err
}

func newTestSurface(t *testing.T, cfg Config) (*Surface, *recordingHandler, *time.Time) {
	t.Helper()
	if cfg.PlayerName == "" {
		cfg.PlayerName = "playbridge"
	}
	s := New(cfg)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	h := &recordingHandler{}
	s.SetCommandHandler(h)
	for _, c := range []bridge.Control{
		bridge.ControlPlay, bridge.ControlPause, bridge.ControlNextTrack,
		bridge.ControlPreviousTrack, bridge.ControlChangePlaybackPosition,
	} {
		s.EnableControl(c, true)
	}
	return s, h, &now
}

func TestSurface_Identity(t *testing.T) {
	s := New(Config{PlayerName: "playbridge"})
	id, err := s.Identity()
	require.NoError(t, err)
	assert.Equal(t, "playbridge", id)

	s = New(Config{PlayerName: "playbridge", Identity: "Living Room"})
	id, err = s.Identity()
	require.NoError(t, err)
	assert.Equal(t, "Living Room", id)
}

func TestSurface_Metadata(t *testing.T) {
	s, _, _ := newTestSurface(t, Config{})

	md, err := s.Metadata()
	require.NoError(t, err)
	assert.Equal(t, "/org/mpris/MediaPlayer2/TrackList/NoTrack", string(md.TrackId))
	assert.Empty(t, md.Title)

	require.NoError(t, s.SetNowPlaying(bridge.NowPlaying{
		TrackID:    "static:a",
		Title:      "Song",
		Artist:     "Band",
		Album:      "Record",
		ArtworkURL: "http://art/a.png",
		Duration:   3 * time.Minute,
	}))

	md, err = s.Metadata()
	require.NoError(t, err)
	assert.Equal(t, trackIDPrefix+encodeTrackID("static:a"), string(md.TrackId))
	assert.Equal(t, "Song", md.Title)
	assert.Equal(t, []string{"Band"}, md.Artist)
	assert.Equal(t, "Record", md.Album)
	assert.Equal(t, "http://art/a.png", md.ArtUrl)
	assert.Equal(t, types.Microseconds(180_000_000), md.Length)

	// Engine duration wins over metadata duration
	require.NoError(t, s.UpdatePlayback(bridge.PlaybackUpdate{State: bridge.StatePaused, Duration: 2 * time.Minute}))
	md, err = s.Metadata()
	require.NoError(t, err)
	assert.Equal(t, types.Microseconds(120_000_000), md.Length)

	// Zero value clears
	require.NoError(t, s.SetNowPlaying(bridge.NowPlaying{}))
	md, err = s.Metadata()
	require.NoError(t, err)
	assert.Equal(t, noTrackObjectPath, string(md.TrackId))
	assert.Nil(t, md.Artist)
}

func TestSurface_PlaybackStatus(t *testing.T) {
	s, _, _ := newTestSurface(t, Config{})

	tests := []struct {
		state bridge.PlaybackState
		want  types.PlaybackStatus
	}{
		{state: bridge.StateStopped, want: types.PlaybackStatusStopped},
		{state: bridge.StatePaused, want: types.PlaybackStatusPaused},
		{state: bridge.StatePlaying, want: types.PlaybackStatusPlaying},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			require.NoError(t, s.UpdatePlayback(bridge.PlaybackUpdate{State: tt.state}))
			got, err := s.PlaybackStatus()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSurface_Position(t *testing.T) {
	s, _, now := newTestSurface(t, Config{})

	require.NoError(t, s.UpdatePlayback(bridge.PlaybackUpdate{
		State:    bridge.StatePlaying,
		Elapsed:  5 * time.Second,
		Duration: 10 * time.Second,
	}))

	pos, err := s.Position()
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), pos)

	// Extrapolated while playing
	*now = now.Add(2 * time.Second)
	pos, err = s.Position()
	require.NoError(t, err)
	assert.Equal(t, int64(7_000_000), pos)

	// Clamped to the length
	*now = now.Add(time.Minute)
	pos, err = s.Position()
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), pos)

	// Frozen while paused
	require.NoError(t, s.UpdatePlayback(bridge.PlaybackUpdate{
		State:    bridge.StatePaused,
		Elapsed:  6 * time.Second,
		Duration: 10 * time.Second,
	}))
	*now = now.Add(time.Minute)
	pos, err = s.Position()
	require.NoError(t, err)
	assert.Equal(t, int64(6_000_000), pos)
}

func TestSurface_Commands(t *testing.T) {
	s, h, _ := newTestSurface(t, Config{})

	require.NoError(t, s.Play())
	require.NoError(t, s.Pause())
	require.NoError(t, s.Next())
	require.NoError(t, s.Previous())

	// PlayPause follows the reported state
	require.NoError(t, s.UpdatePlayback(bridge.PlaybackUpdate{State: bridge.StatePlaying}))
	require.NoError(t, s.PlayPause())
	require.NoError(t, s.UpdatePlayback(bridge.PlaybackUpdate{State: bridge.StatePaused}))
	require.NoError(t, s.PlayPause())

	assert.Equal(t, []string{"play", "pause", "next", "previous", "pause", "play"}, h.calls)
}

func TestSurface_DisabledControl(t *testing.T) {
	s, h, _ := newTestSurface(t, Config{})
	s.EnableControl(bridge.ControlNextTrack, false)

	canNext, err := s.CanGoNext()
	require.NoError(t, err)
	assert.False(t, canNext)

	err = s.Next()
	assert.True(t, errors.Is(err, errControlDisabled))

	// Stop is never enabled by the bridge
	err = s.Stop()
	assert.True(t, errors.Is(err, errControlDisabled))
	assert.Empty(t, h.calls)
}

func TestSurface_NoHandler(t *testing.T) {
	s := New(Config{PlayerName: "playbridge"})
	s.EnableControl(bridge.ControlPlay, true)
	assert.ErrorIs(t, s.Play(), errNoHandler)
}

func TestSurface_Seek(t *testing.T) {
	s, h, _ := newTestSurface(t, Config{})
	require.NoError(t, s.SetNowPlaying(bridge.NowPlaying{TrackID: "a", Title: "A"}))
	require.NoError(t, s.UpdatePlayback(bridge.PlaybackUpdate{
		State:    bridge.StatePaused,
		Elapsed:  10 * time.Second,
		Duration: time.Minute,
	}))

	// Relative seek
	require.NoError(t, s.Seek(types.Microseconds(5_000_000)))
	// Backwards past the start clamps to zero
	require.NoError(t, s.Seek(types.Microseconds(-30_000_000)))
	// Absolute seek on the current track
	require.NoError(t, s.SetPosition(trackIDPrefix+encodeTrackID("a"), types.Microseconds(42_000_000)))
	// Absolute seek on a stale track is ignored
	require.NoError(t, s.SetPosition(trackIDPrefix+encodeTrackID("b"), types.Microseconds(1_000_000)))

	assert.Equal(t, []time.Duration{15 * time.Second, 0, 42 * time.Second}, h.seeks)
}

func TestSurface_ArtworkFallback(t *testing.T) {
	tests := []struct {
		name    string
		np      bridge.NowPlaying
		artwork fakeArtwork
		want    string
	}{
		{
			name:    "looked up when missing",
			np:      bridge.NowPlaying{TrackID: "a", Title: "Song", Artist: "Band"},
			artwork: fakeArtwork{url: "http://lastfm/a.png"},
			want:    "http://lastfm/a.png",
		},
		{
			name:    "own artwork kept",
			np:      bridge.NowPlaying{TrackID: "a", Title: "Song", Artist: "Band", ArtworkURL: "http://own"},
			artwork: fakeArtwork{url: "http://lastfm/a.png"},
			want:    "http://own",
		},
		{
			name:    "lookup failure leaves it empty",
			np:      bridge.NowPlaying{TrackID: "a", Title: "Song", Artist: "Band"},
			artwork: fakeArtwork{err: errors.New("boom")},
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestSurface(t, Config{Artwork: tt.artwork})
			require.NoError(t, s.SetNowPlaying(tt.np))

			if tt.want == "" {
				time.Sleep(20 * time.Millisecond)
				md, err := s.Metadata()
				require.NoError(t, err)
				assert.Empty(t, md.ArtUrl)
				return
			}
			assert.Eventually(t, func() bool {
				md, err := s.Metadata()
				return err == nil && md.ArtUrl == tt.want
			}, time.Second, 5*time.Millisecond)
		})
	}
}

func TestSurface_ArtworkForStaleTrackDropped(t *testing.T) {
	release := make(chan struct{})
	lookup := &blockingArtwork{release: release, url: "http://lastfm/a.png"}
	s, _, _ := newTestSurface(t, Config{Artwork: lookup})

	require.NoError(t, s.SetNowPlaying(bridge.NowPlaying{TrackID: "a", Title: "A", Artist: "X"}))
	require.NoError(t, s.SetNowPlaying(bridge.NowPlaying{TrackID: "b", Title: "B", ArtworkURL: "http://own/b"}))
	close(release)

	require.Eventually(t, func() bool { return lookup.finished() }, time.Second, 5*time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	md, err := s.Metadata()
	require.NoError(t, err)
	assert.Equal(t, "http://own/b", md.ArtUrl)
}

type blockingArtwork struct {
	release chan struct{}
	url     string

	mu   sync.Mutex
	done bool
}

func (b *blockingArtwork) ArtworkURL(ctx context.Context, trackName, artistName string) (string, error) {
	<-b.release
	b.mu.Lock()
	b.done = true
	b.mu.Unlock()
	return b.url, nil
}

func (b *blockingArtwork) finished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

func TestEncodeTrackID(t *testing.T) {
	// Object path elements allow only [A-Za-z0-9_]
	for _, id := range []string{"static:a", "subsonic:tr-1", "spotify:track:4uLU6hMCjMI75M1A2tKUQC", "日本語"} {
		enc := encodeTrackID(id)
		for _, r := range enc {
			ok := (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			assert.True(t, ok, "id=%s encoded=%s", id, enc)
		}
	}
}
