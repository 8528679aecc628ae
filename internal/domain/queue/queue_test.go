package queue

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/playbridge/internal/domain/track"
)

func makeTracks(ids ...string) []track.QueuedTrack {
	result := make([]track.QueuedTrack, len(ids))
	for i, id := range ids {
		result[i] = track.QueuedTrack{
			Track:  track.Track{ID: id, Duration: time.Minute},
			Origin: track.OriginConfig,
		}
	}
	return result
}

func currentID(q *Queue) string {
	qt, _ := q.Current()
	if qt == nil {
		return ""
	}
	return qt.Track.ID
}

func TestQueue_NextPrevious(t *testing.T) {
	q := New(rand.New(rand.NewSource(1)))
	q.Replace(makeTracks("a", "b", "c"), 0)

	assert.Equal(t, "a", currentID(q))
	assert.True(t, q.Next())
	assert.Equal(t, "b", currentID(q))
	assert.True(t, q.Next())
	assert.Equal(t, "c", currentID(q))
	assert.True(t, q.Previous())
	assert.Equal(t, "b", currentID(q))

	assert.True(t, q.Next())
	assert.False(t, q.Next(), "next past the end should report false")
	assert.Equal(t, "", currentID(q))
}

func TestQueue_PreviousAtStart(t *testing.T) {
	q := New(nil)
	q.Replace(makeTracks("a", "b"), 0)

	assert.False(t, q.Previous())
	assert.Equal(t, "a", currentID(q))
}

func TestQueue_ReplaceOutOfRangeSelectsNothing(t *testing.T) {
	q := New(nil)
	q.Replace(makeTracks("a", "b"), 5)

	qt, idx := q.Current()
	assert.Nil(t, qt)
	assert.Equal(t, -1, idx)
	assert.Equal(t, 2, q.Len())
}

func TestQueue_Append(t *testing.T) {
	q := New(nil)
	q.Replace(makeTracks("a"), 0)
	q.Append(makeTracks("b", "c")...)

	assert.Equal(t, []string{"a", "b", "c"}, q.TrackIDs())
	assert.True(t, q.Contains("c"))
	assert.False(t, q.Contains("d"))
	assert.Equal(t, 3*time.Minute, q.TotalDuration())
}

func TestQueue_ShuffleKeepsCurrentAndVisitsAll(t *testing.T) {
	q := New(rand.New(rand.NewSource(42)))
	q.Replace(makeTracks("a", "b", "c", "d", "e"), 2)
	require.Equal(t, "c", currentID(q))

	q.SetShuffle(true)
	assert.True(t, q.Shuffled())
	assert.Equal(t, "c", currentID(q), "current track should survive shuffling")

	seen := map[string]bool{currentID(q): true}
	for q.Next() {
		seen[currentID(q)] = true
	}
	assert.Len(t, seen, 5, "a shuffled pass should visit every track once")
}

func TestQueue_UnshuffleRestoresInsertionOrder(t *testing.T) {
	q := New(rand.New(rand.NewSource(7)))
	q.Replace(makeTracks("a", "b", "c"), 1)
	q.SetShuffle(true)
	q.SetShuffle(false)

	assert.Equal(t, "b", currentID(q))
	assert.True(t, q.Next())
	assert.Equal(t, "c", currentID(q))
}

func TestQueue_Rewind(t *testing.T) {
	q := New(nil)
	assert.False(t, q.Rewind(), "empty queue cannot rewind")

	q.Replace(makeTracks("a", "b"), 1)
	q.Next()
	assert.True(t, q.Rewind())
	assert.Equal(t, "a", currentID(q))
}

func TestQueue_ItemsReturnsCopy(t *testing.T) {
	q := New(nil)
	q.Replace(makeTracks("a"), 0)

	items := q.Items()
	items[0].Track.ID = "mutated"
	assert.Equal(t, []string{"a"}, q.TrackIDs())
}

func TestQueue_Clear(t *testing.T) {
	q := New(nil)
	q.Replace(makeTracks("a", "b"), 0)
	q.Clear()

	assert.Equal(t, 0, q.Len())
	assert.Equal(t, "", currentID(q))
	assert.Equal(t, -1, q.Position())
}
