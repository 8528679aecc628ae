package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/playbridge/internal/app/playback"
	"github.com/osa030/playbridge/internal/domain/track"
)

// ErrNoSavedQueue is returned by LoadQueue when the file does not exist.
var ErrNoSavedQueue = errors.New("no saved queue")

const savedQueueVersion = 1

type savedQueue struct {
	Version  int          `json:"version"`
	Index    int          `json:"index"`
	PlayMode string       `json:"play_mode"`
	SavedAt  time.Time    `json:"saved_at"`
	Tracks   []savedTrack `json:"tracks"`
}

type savedTrack struct {
	ID         string    `json:"id"`
	Title      string    `json:"title,omitempty"`
	Artist     string    `json:"artist,omitempty"`
	Album      string    `json:"album,omitempty"`
	ArtworkURL string    `json:"artwork_url,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Source     string    `json:"source,omitempty"`
	AddedAt    time.Time `json:"added_at"`
}

// SaveQueue writes the queue and the current position to path.
// The file is replaced atomically.
func SaveQueue(path string, snap playback.Snapshot, items []track.QueuedTrack) error {
	sq := savedQueue{
		Version:  savedQueueVersion,
		Index:    snap.QueueIndex,
		PlayMode: snap.PlayMode.String(),
		SavedAt:  time.Now(),
		Tracks:   make([]savedTrack, 0, len(items)),
	}
	for _, qt := range items {
		t := qt.Track
		sq.Tracks = append(sq.Tracks, savedTrack{
			ID:         t.ID,
			Title:      t.Title,
			Artist:     t.Artist,
			Album:      t.Album,
			ArtworkURL: t.ArtworkURL,
			DurationMs: t.Duration.Milliseconds(),
			Source:     t.Source,
			AddedAt:    qt.AddedAt,
		})
	}

	data, err := json.MarshalIndent(sq, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode queue")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create queue directory")
	}
	tmp, err := os.CreateTemp(dir, ".queue-*.json")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write queue")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to write queue")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "failed to replace queue file")
	}
	return nil
}

// LoadQueue reads a queue written by SaveQueue. Restored tracks have
// OriginSaved. The returned index is -1 when no track was current or the
// saved index is out of range.
func LoadQueue(path string) ([]track.QueuedTrack, int, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, -1, "", ErrNoSavedQueue
		}
		return nil, -1, "", errors.Wrap(err, "failed to read queue file")
	}

	var sq savedQueue
	if err := json.Unmarshal(data, &sq); err != nil {
		return nil, -1, "", errors.Wrap(err, "failed to decode queue file")
	}
	if sq.Version != savedQueueVersion {
		return nil, -1, "", errors.Newf("unsupported queue file version: %d", sq.Version)
	}

	items := make([]track.QueuedTrack, 0, len(sq.Tracks))
	for _, st := range sq.Tracks {
		if st.ID == "" {
			continue
		}
		items = append(items, track.QueuedTrack{
			Track: track.Track{
				ID:         st.ID,
				Title:      st.Title,
				Artist:     st.Artist,
				Album:      st.Album,
				ArtworkURL: st.ArtworkURL,
				Duration:   time.Duration(st.DurationMs) * time.Millisecond,
				Source:     st.Source,
			},
			Origin:  track.OriginSaved,
			AddedAt: st.AddedAt,
		})
	}

	index := sq.Index
	if index < 0 || index >= len(items) {
		index = -1
	}
	return items, index, sq.PlayMode, nil
}
