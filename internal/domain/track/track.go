// Package track provides the Track domain entity.
package track

import (
	"strings"
	"time"
)

// Track represents a playable track.
// Immutable once fetched; identity is ID.
type Track struct {
	ID         string        // Source-qualified track ID
	Title      string        // Track title
	Artist     string        // Display artist
	Album      string        // Album name
	ArtworkURL string        // Artwork URL (may be empty)
	Duration   time.Duration // Track duration (0 if unknown)
	Source     string        // Name of the source the track was fetched from
}

// Origin represents where a queued track came from.
type Origin string

const (
	OriginConfig   Origin = "CONFIG"   // Listed in the config file
	OriginPlaylist Origin = "PLAYLIST" // Imported from a remote playlist
	OriginSaved    Origin = "SAVED"    // Restored from the saved queue file
	OriginRequest  Origin = "REQUEST"  // Enqueued through the control API
)

// QueuedTrack represents a track in the playback queue.
type QueuedTrack struct {
	Track   Track     // Track info
	Origin  Origin    // Where the track came from
	AddedAt time.Time // Time when added to queue
}

// SameAs reports whether t and other refer to the same track.
// A nil track is only the same as another nil track.
func (t *Track) SameAs(other *Track) bool {
	if t == nil || other == nil {
		return t == nil && other == nil
	}
	return t.ID == other.ID
}

// DisplayTitle returns the title, falling back to the ID.
func (t *Track) DisplayTitle() string {
	if strings.TrimSpace(t.Title) != "" {
		return t.Title
	}
	return t.ID
}

// SplitID splits a source-qualified ID ("subsonic:123") into the source
// prefix and the source-local ID. IDs without a known prefix return an
// empty source.
func SplitID(id string) (source, localID string) {
	id = strings.TrimSpace(id)
	// Spotify URIs keep their own scheme: spotify:track:XXXX
	if strings.HasPrefix(id, "spotify:") {
		return "spotify", id
	}
	if i := strings.Index(id, ":"); i > 0 {
		prefix := id[:i]
		if isSourcePrefix(prefix) {
			return prefix, id[i+1:]
		}
	}
	return "", id
}

func isSourcePrefix(s string) bool {
	switch s {
	case "subsonic", "static":
		return true
	}
	return false
}
