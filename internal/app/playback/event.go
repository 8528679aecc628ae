package playback

import (
	"strings"
	"time"

	"github.com/osa030/playbridge/internal/domain/track"
)

// ChangeSet is a bitmask of snapshot fields touched by a mutation.
type ChangeSet uint16

const (
	ChangedTrack    ChangeSet = 1 << iota // Current track identity changed (including to/from none)
	ChangedPlaying                        // Play/pause flag changed
	ChangedSeek                           // Pending seek set or cleared
	ChangedElapsed                        // Elapsed time changed
	ChangedDuration                       // Duration changed
	ChangedPlayMode                       // Play mode changed
	ChangedQueue                          // Queue contents or cursor changed
)

// Has reports whether all fields in f are set.
func (c ChangeSet) Has(f ChangeSet) bool {
	return c&f == f
}

// String returns the string representation of the change set.
func (c ChangeSet) String() string {
	names := []string{"track", "playing", "seek", "elapsed", "duration", "play_mode", "queue"}
	var parts []string
	for i, n := range names {
		if c&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// SeekRequest is a pending request to move the playback position.
// Seq is unique per request, so two requests for the same offset are distinct.
type SeekRequest struct {
	Seq    uint64
	Offset time.Duration
}

// Snapshot is a read-only copy of the playback state.
type Snapshot struct {
	CurrentTrack *track.Track // nil when nothing is selected
	Elapsed      time.Duration
	Duration     time.Duration
	IsPlaying    bool
	PlayMode     PlayMode
	PendingSeek  *SeekRequest // nil when no seek is pending
	QueueIndex   int          // insertion index of the current track, -1 if none
	QueueLength  int
	LoadFailures int // consecutive load failures
}

// Change is delivered to subscribers after every mutation.
type Change struct {
	Fields   ChangeSet
	Snapshot Snapshot
}
