// Package notification provides the notification manager for broadcasting status.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playbridge/internal/app/playback"
)

// sendTimeout bounds a single subscriber send.
const sendTimeout = 500 * time.Millisecond

// TrackInfo is the track part of a status message.
type TrackInfo struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Artist     string `json:"artist,omitempty"`
	Album      string `json:"album,omitempty"`
	ArtworkURL string `json:"artwork_url,omitempty"`
	Source     string `json:"source,omitempty"`
}

// Status is the message pushed to subscribers.
type Status struct {
	SequenceNo  uint64     `json:"sequence_no"`
	Track       *TrackInfo `json:"track"`
	IsPlaying   bool       `json:"is_playing"`
	ElapsedMs   int64      `json:"elapsed_ms"`
	DurationMs  int64      `json:"duration_ms"`
	PlayMode    string     `json:"play_mode"`
	QueueIndex  int        `json:"queue_index"`
	QueueLength int        `json:"queue_length"`
}

// StatusFromSnapshot projects a playback snapshot into a status message.
// SequenceNo is left zero; the manager assigns it on broadcast.
func StatusFromSnapshot(s playback.Snapshot) *Status {
	st := &Status{
		IsPlaying:   s.IsPlaying,
		ElapsedMs:   s.Elapsed.Milliseconds(),
		DurationMs:  s.Duration.Milliseconds(),
		PlayMode:    s.PlayMode.String(),
		QueueIndex:  s.QueueIndex,
		QueueLength: s.QueueLength,
	}
	if t := s.CurrentTrack; t != nil {
		st.Track = &TrackInfo{
			ID:         t.ID,
			Title:      t.DisplayTitle(),
			Artist:     t.Artist,
			Album:      t.Album,
			ArtworkURL: t.ArtworkURL,
			Source:     t.Source,
		}
	}
	return st
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Status) error
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	stream Stream
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex

	// latest-wins slot for Publish
	pendingMu sync.Mutex
	pending   *Status
	signal    chan struct{}
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
		signal:        make(chan struct{}, 1),
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:     id,
		stream: stream,
	}
	zlog.Debug().Msgf("notification: subscribed: id=%s", id)
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[subscriptionID]; ok {
		delete(m.subscriptions, subscriptionID)
		zlog.Debug().Msgf("notification: unsubscribed: id=%s", subscriptionID)
	}
}

// NextSequenceNo returns the next sequence number and increments the counter.
func (m *Manager) NextSequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	m.sequenceNo++
	return m.sequenceNo
}

// Publish queues a status for broadcast. Only the most recent status not yet
// broadcast is kept, so a slow subscriber never sees a backlog.
func (m *Manager) Publish(status *Status) {
	m.pendingMu.Lock()
	m.pending = status
	m.pendingMu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Run broadcasts published statuses until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.signal:
			m.pendingMu.Lock()
			status := m.pending
			m.pending = nil
			m.pendingMu.Unlock()

			if status != nil {
				m.Broadcast(status)
			}
		}
	}
}

// Broadcast sends a status to all subscribers.
// Each stream send is done in a goroutine with a timeout to prevent blocking.
// Subscribers whose send fails are dropped.
func (m *Manager) Broadcast(status *Status) {
	msg := *status
	msg.SequenceNo = m.NextSequenceNo()

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(&msg)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Msgf("notification: send failed, dropping subscriber: id=%s err=%v", s.id, err)
					m.Unsubscribe(s.id)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("notification: send timed out: id=%s seq=%d", s.id, msg.SequenceNo)
			}
		}(sub)
	}

	wg.Wait()
}

// Send sends a status to a specific subscriber.
func (m *Manager) Send(subscriptionID string, status *Status) error {
	m.mu.RLock()
	sub, ok := m.subscriptions[subscriptionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	msg := *status
	msg.SequenceNo = m.NextSequenceNo()
	return sub.stream.Send(&msg)
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close closes the manager and removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
