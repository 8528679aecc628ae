// Package queue provides the play queue domain entity.
package queue

import (
	"math/rand"
	"time"

	"github.com/osa030/playbridge/internal/domain/track"
)

// Queue is an ordered list of tracks with a play cursor.
// When shuffled, the cursor walks a permutation of the items instead of
// their insertion order. Queue is not safe for concurrent use.
type Queue struct {
	items    []track.QueuedTrack
	order    []int // play order as indexes into items
	pos      int   // position in order; -1 when nothing is selected
	shuffled bool
	rng      *rand.Rand
}

// New creates an empty queue. rng is used for shuffle permutations;
// nil selects a time-seeded source.
func New(rng *rand.Rand) *Queue {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Queue{pos: -1, rng: rng}
}

// Len returns the number of queued tracks.
func (q *Queue) Len() int {
	return len(q.items)
}

// Items returns a copy of the queued tracks in insertion order.
func (q *Queue) Items() []track.QueuedTrack {
	result := make([]track.QueuedTrack, len(q.items))
	copy(result, q.items)
	return result
}

// Current returns the selected track and its insertion index.
func (q *Queue) Current() (*track.QueuedTrack, int) {
	if q.pos < 0 || q.pos >= len(q.order) {
		return nil, -1
	}
	idx := q.order[q.pos]
	qt := q.items[idx]
	return &qt, idx
}

// Position returns the cursor position within the play order (-1 if none).
func (q *Queue) Position() int {
	return q.pos
}

// Replace replaces all tracks and selects the track at start
// (insertion index). A negative or out of range start selects nothing.
func (q *Queue) Replace(items []track.QueuedTrack, start int) {
	q.items = make([]track.QueuedTrack, len(items))
	copy(q.items, items)
	q.rebuildOrder(start)
}

// Append adds tracks to the end of the queue. In shuffle mode they are
// appended to the end of the current permutation.
func (q *Queue) Append(items ...track.QueuedTrack) {
	for _, it := range items {
		q.items = append(q.items, it)
		q.order = append(q.order, len(q.items)-1)
	}
}

// Clear removes all tracks.
func (q *Queue) Clear() {
	q.items = nil
	q.order = nil
	q.pos = -1
}

// Select moves the cursor to the track at insertion index idx.
func (q *Queue) Select(idx int) bool {
	for p, i := range q.order {
		if i == idx {
			q.pos = p
			return true
		}
	}
	return false
}

// Next moves the cursor forward. Returns false at the end of the order,
// leaving the cursor past the last track (nothing selected).
func (q *Queue) Next() bool {
	if q.pos+1 < len(q.order) {
		q.pos++
		return true
	}
	q.pos = -1
	return false
}

// Previous moves the cursor back. Returns false at the start of the order.
func (q *Queue) Previous() bool {
	if q.pos > 0 {
		q.pos--
		return true
	}
	return false
}

// Rewind selects the first track of the order, drawing a fresh
// permutation when shuffled.
func (q *Queue) Rewind() bool {
	if len(q.items) == 0 {
		return false
	}
	if q.shuffled {
		q.order = q.rng.Perm(len(q.items))
	}
	q.pos = 0
	return true
}

// Shuffled reports whether the play order is a permutation.
func (q *Queue) Shuffled() bool {
	return q.shuffled
}

// SetShuffle switches between insertion order and a random permutation.
// The current track stays selected.
func (q *Queue) SetShuffle(shuffle bool) {
	if q.shuffled == shuffle {
		return
	}
	q.shuffled = shuffle
	_, cur := q.Current()
	q.rebuildOrder(cur)
}

// TrackIDs returns all track IDs in insertion order.
func (q *Queue) TrackIDs() []string {
	ids := make([]string, len(q.items))
	for i, qt := range q.items {
		ids[i] = qt.Track.ID
	}
	return ids
}

// Contains reports whether a track with id is queued.
func (q *Queue) Contains(id string) bool {
	for _, qt := range q.items {
		if qt.Track.ID == id {
			return true
		}
	}
	return false
}

// TotalDuration returns the total duration of all tracks.
func (q *Queue) TotalDuration() time.Duration {
	var total time.Duration
	for _, qt := range q.items {
		total += qt.Track.Duration
	}
	return total
}

// rebuildOrder rebuilds the play order and selects insertion index cur.
// In shuffle mode the selected track is moved to the front of the permutation.
func (q *Queue) rebuildOrder(cur int) {
	n := len(q.items)
	if q.shuffled {
		q.order = q.rng.Perm(n)
		if cur >= 0 && cur < n {
			for p, i := range q.order {
				if i == cur {
					q.order[0], q.order[p] = q.order[p], q.order[0]
					break
				}
			}
			q.pos = 0
			return
		}
	} else {
		q.order = make([]int, n)
		for i := range q.order {
			q.order[i] = i
		}
	}
	q.pos = -1
	if cur >= 0 && cur < n {
		q.Select(cur)
	}
}

// Deselect clears the cursor without touching the tracks.
func (q *Queue) Deselect() {
	q.pos = -1
}
