package playback

import (
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playbridge/internal/domain/queue"
	"github.com/osa030/playbridge/internal/domain/track"
)

// Errors
var (
	ErrNoTrack    = errors.New("no track selected")
	ErrQueueEmpty = errors.New("queue is empty")
)

// DefaultRewindThreshold is the elapsed time after which Previous restarts
// the current track instead of moving back.
const DefaultRewindThreshold = 3 * time.Second

// Config holds store configuration.
type Config struct {
	RewindThreshold time.Duration // Previous restarts the track past this position (0 restarts it once anything played)
	PlayMode        PlayMode      // Initial play mode
	Rand            *rand.Rand    // Shuffle source (nil for time-seeded)
}

// Store holds the playback state and notifies subscribers of every change.
// Each field is written only through its dedicated mutator.
//
// Subscribers are called synchronously, in mutation order, outside the state
// lock. They may call Snapshot but must not call mutators.
type Store struct {
	// notifyMu serializes mutate+notify so subscribers observe changes in order.
	notifyMu sync.Mutex
	mu       sync.RWMutex

	queue        *queue.Queue
	elapsed      time.Duration
	duration     time.Duration
	playing      bool
	mode         PlayMode
	pendingSeek  *SeekRequest
	seekSeq      uint64
	loadFailures int

	config Config

	subMu     sync.Mutex
	subs      map[uint64]func(Change)
	nextSubID uint64
}

// NewStore creates a new playback store.
func NewStore(config Config) *Store {
	if config.RewindThreshold < 0 {
		config.RewindThreshold = 0
	}
	s := &Store{
		queue:  queue.New(config.Rand),
		mode:   config.PlayMode,
		config: config,
		subs:   make(map[uint64]func(Change)),
	}
	s.queue.SetShuffle(config.PlayMode == PlayModeShuffle)
	return s
}

// Subscribe registers fn to receive every change.
// The returned function removes the subscription.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Tracks returns a copy of the queued tracks in insertion order.
func (s *Store) Tracks() []track.QueuedTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue.Items()
}

// SetQueue replaces the queue and selects the track at start.
// A negative start selects nothing.
func (s *Store) SetQueue(items []track.QueuedTrack, start int) {
	_ = s.apply(func() (ChangeSet, error) {
		s.queue.Replace(items, start)
		s.loadFailures = 0
		return ChangedQueue, nil
	})
}

// Enqueue appends tracks to the queue.
func (s *Store) Enqueue(items ...track.QueuedTrack) {
	if len(items) == 0 {
		return
	}
	_ = s.apply(func() (ChangeSet, error) {
		s.queue.Append(items...)
		return ChangedQueue, nil
	})
}

// ClearQueue removes every track and stops playback.
func (s *Store) ClearQueue() {
	_ = s.apply(func() (ChangeSet, error) {
		s.queue.Clear()
		return ChangedQueue | s.setPlayingLocked(false), nil
	})
}

// Play starts playback. If nothing is selected, playback starts from the
// beginning of the queue.
func (s *Store) Play() error {
	return s.apply(func() (ChangeSet, error) {
		var fields ChangeSet
		if cur, _ := s.queue.Current(); cur == nil {
			if !s.queue.Rewind() {
				return 0, ErrQueueEmpty
			}
			fields |= ChangedQueue
		}
		s.loadFailures = 0
		return fields | s.setPlayingLocked(true), nil
	})
}

// Select makes the track at insertion index idx current.
func (s *Store) Select(idx int) error {
	return s.apply(func() (ChangeSet, error) {
		if !s.queue.Select(idx) {
			return 0, errors.Newf("no track at index %d", idx)
		}
		s.loadFailures = 0
		return ChangedQueue, nil
	})
}

// Pause pauses playback.
func (s *Store) Pause() error {
	return s.apply(func() (ChangeSet, error) {
		if cur, _ := s.queue.Current(); cur == nil {
			return 0, ErrNoTrack
		}
		return s.setPlayingLocked(false), nil
	})
}

// TogglePlay switches between playing and paused.
func (s *Store) TogglePlay() error {
	s.mu.RLock()
	playing := s.playing
	s.mu.RUnlock()
	if playing {
		return s.Pause()
	}
	return s.Play()
}

// Next advances to the next track. In normal and repeat-one mode playback
// stops after the last track; in shuffle mode a new permutation starts.
func (s *Store) Next() error {
	return s.apply(func() (ChangeSet, error) {
		if s.queue.Len() == 0 {
			return 0, ErrQueueEmpty
		}
		return s.advanceLocked(), nil
	})
}

// Previous moves back one track, or restarts the current track when its
// elapsed time exceeds the rewind threshold or it is the first one.
func (s *Store) Previous() error {
	return s.apply(func() (ChangeSet, error) {
		if cur, _ := s.queue.Current(); cur == nil {
			return 0, ErrNoTrack
		}
		if s.elapsed > s.config.RewindThreshold || !s.queue.Previous() {
			return s.requestSeekLocked(0), nil
		}
		return ChangedQueue, nil
	})
}

// SetPlayMode changes the play mode.
func (s *Store) SetPlayMode(mode PlayMode) {
	_ = s.apply(func() (ChangeSet, error) {
		if s.mode == mode {
			return 0, nil
		}
		s.mode = mode
		s.queue.SetShuffle(mode == PlayModeShuffle)
		return ChangedPlayMode | ChangedQueue, nil
	})
}

// RequestSeek asks for the playback position to move to offset.
func (s *Store) RequestSeek(offset time.Duration) error {
	return s.apply(func() (ChangeSet, error) {
		if cur, _ := s.queue.Current(); cur == nil {
			return 0, ErrNoTrack
		}
		return s.requestSeekLocked(offset), nil
	})
}

// ConsumeSeek clears the pending seek if it is still request seq.
func (s *Store) ConsumeSeek(seq uint64) {
	_ = s.apply(func() (ChangeSet, error) {
		if s.pendingSeek == nil || s.pendingSeek.Seq != seq {
			return 0, nil
		}
		s.pendingSeek = nil
		return ChangedSeek, nil
	})
}

// SetElapsed stores the playback position.
func (s *Store) SetElapsed(d time.Duration) {
	_ = s.apply(func() (ChangeSet, error) {
		if s.elapsed == d {
			return 0, nil
		}
		s.elapsed = d
		return ChangedElapsed, nil
	})
}

// SetDuration stores the duration of the loaded media.
// A positive duration means the media loaded, which resets the
// consecutive load failure count.
func (s *Store) SetDuration(d time.Duration) {
	_ = s.apply(func() (ChangeSet, error) {
		if d > 0 {
			s.loadFailures = 0
		}
		if s.duration == d {
			return 0, nil
		}
		s.duration = d
		return ChangedDuration, nil
	})
}

// MarkLoadFailed records that the track with id could not be loaded and
// advances past it. Reports for a track that is no longer current are
// ignored. Once every queued track has failed in a row, playback stops.
func (s *Store) MarkLoadFailed(id string) {
	_ = s.apply(func() (ChangeSet, error) {
		cur, _ := s.queue.Current()
		if cur == nil || cur.Track.ID != id {
			zlog.Debug().Msgf("playback: ignoring load failure for non-current track: track=%s", id)
			return 0, nil
		}
		s.loadFailures++
		zlog.Warn().Msgf("playback: track failed to load: track=%s consecutive=%d", id, s.loadFailures)
		if s.loadFailures >= s.queue.Len() {
			s.queue.Deselect()
			s.loadFailures = 0
			return ChangedQueue | s.setPlayingLocked(false), nil
		}
		return s.advanceLocked(), nil
	})
}

// apply runs fn under the state lock and notifies subscribers of the result.
// Track identity changes are detected here rather than by each mutator.
func (s *Store) apply(fn func() (ChangeSet, error)) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	before, _ := s.queue.Current()
	fields, err := fn()
	after, _ := s.queue.Current()
	if !sameTrack(before, after) {
		fields |= ChangedTrack
		s.elapsed = 0
		s.duration = 0
		s.pendingSeek = nil
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if fields != 0 {
		s.notify(Change{Fields: fields, Snapshot: snap})
	}
	return err
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	subs := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(c)
	}
}

// advanceLocked moves to the next track according to the play mode.
// Must be called with lock held.
func (s *Store) advanceLocked() ChangeSet {
	prev, _ := s.queue.Current()
	if !s.queue.Next() {
		if s.mode != PlayModeShuffle || !s.queue.Rewind() {
			return ChangedQueue | s.setPlayingLocked(false)
		}
	}
	next, _ := s.queue.Current()
	if prev != nil && next != nil && prev.Track.ID == next.Track.ID {
		// Same track again: identity does not change, so replay it explicitly.
		return ChangedQueue | s.requestSeekLocked(0)
	}
	return ChangedQueue
}

func (s *Store) requestSeekLocked(offset time.Duration) ChangeSet {
	if offset < 0 {
		offset = 0
	}
	s.seekSeq++
	s.pendingSeek = &SeekRequest{Seq: s.seekSeq, Offset: offset}
	return ChangedSeek
}

func (s *Store) setPlayingLocked(playing bool) ChangeSet {
	if s.playing == playing {
		return 0
	}
	s.playing = playing
	return ChangedPlaying
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Elapsed:      s.elapsed,
		Duration:     s.duration,
		IsPlaying:    s.playing,
		PlayMode:     s.mode,
		QueueIndex:   -1,
		QueueLength:  s.queue.Len(),
		LoadFailures: s.loadFailures,
	}
	if cur, idx := s.queue.Current(); cur != nil {
		t := cur.Track
		snap.CurrentTrack = &t
		snap.QueueIndex = idx
	}
	if s.pendingSeek != nil {
		req := *s.pendingSeek
		snap.PendingSeek = &req
	}
	return snap
}

func sameTrack(a, b *track.QueuedTrack) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Track.ID == b.Track.ID
}
