// Package playback provides the observable playback state store.
package playback

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// PlayMode controls end-of-track behavior and queue order.
type PlayMode int

const (
	PlayModeNormal    PlayMode = iota // Advance through the queue, stop at the end
	PlayModeShuffle                   // Advance through a random permutation
	PlayModeRepeatOne                 // Replay the current track when it ends
)

// String returns the string representation of the play mode.
func (m PlayMode) String() string {
	switch m {
	case PlayModeNormal:
		return "normal"
	case PlayModeShuffle:
		return "shuffle"
	case PlayModeRepeatOne:
		return "repeat_one"
	default:
		return "unknown"
	}
}

// ParsePlayMode parses a play mode name as written in config files.
func ParsePlayMode(s string) (PlayMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal", "":
		return PlayModeNormal, nil
	case "shuffle":
		return PlayModeShuffle, nil
	case "repeat_one", "repeat-one", "repeatone":
		return PlayModeRepeatOne, nil
	default:
		return PlayModeNormal, errors.Newf("unknown play mode: %q", s)
	}
}
