// Package bus fans job progress and lifecycle events out to WebSocket
// subscribers. Progress updates are lossy under backpressure; status
// changes ride a reserved lane so terminal transitions survive a slow
// reader.
package bus

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/vodarr/vodarr/internal/models"
)

// ErrSubscriberLimit is returned by Subscribe once the connection cap
// is reached. The WS handler maps it to close code 1013.
var ErrSubscriberLimit = errors.New("subscriber limit reached")

// Bus routes events to attached subscribers. Emission never holds the
// subscriber table lock across a channel send.
type Bus struct {
	logger *slog.Logger
	max    int

	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscriber
}

// New creates a bus capped at max concurrent subscribers.
func New(max int, logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger.With(slog.String("component", "bus")),
		max:    max,
		subs:   make(map[uuid.UUID]*Subscriber),
	}
}

// Subscribe attaches a new subscriber with an empty filter.
func (b *Bus) Subscribe() (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) >= b.max {
		return nil, ErrSubscriberLimit
	}
	sub := newSubscriber()
	b.subs[sub.id] = sub
	b.logger.Debug("subscriber attached",
		slog.String("subscriber_id", sub.id.String()),
		slog.Int("total", len(b.subs)))
	return sub, nil
}

// Unsubscribe detaches a subscriber. Safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.remove(sub, "unsubscribed")
}

// SubscriberCount reports how many subscribers are attached.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// PublishProgress fans a progress snapshot out to matching
// subscribers. Slow consumers lose progress events silently.
func (b *Bus) PublishProgress(jobID string, data ProgressData) {
	ev := NewProgressEvent(jobID, data)
	for _, sub := range b.snapshot() {
		if !sub.Wants(jobID) {
			continue
		}
		_, slowConsumer := sub.offerProgress(ev)
		if slowConsumer {
			b.closeSlow(sub)
		}
	}
}

// PublishStatus fans a lifecycle transition out to matching
// subscribers on the reserved lane.
func (b *Bus) PublishStatus(jobID string, status models.JobStatus, errorMessage string) {
	ev := NewStatusEvent(jobID, status, errorMessage)
	for _, sub := range b.snapshot() {
		if !sub.Wants(jobID) {
			continue
		}
		delivered, slowConsumer := sub.offerStatus(ev)
		if !delivered {
			b.logger.Warn("status event dropped",
				slog.String("subscriber_id", sub.id.String()),
				slog.String("job_id", jobID),
				slog.String("status", string(status)))
		}
		if slowConsumer {
			b.closeSlow(sub)
		}
	}
}

func (b *Bus) snapshot() []*Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	return subs
}

func (b *Bus) closeSlow(sub *Subscriber) {
	b.logger.Warn("closing slow consumer",
		slog.String("subscriber_id", sub.id.String()),
		slog.Int64("dropped", sub.Dropped()))
	b.remove(sub, "slow consumer")
}

func (b *Bus) remove(sub *Subscriber, reason string) {
	sub.close(reason)
	b.mu.Lock()
	_, present := b.subs[sub.id]
	delete(b.subs, sub.id)
	total := len(b.subs)
	b.mu.Unlock()
	if present {
		b.logger.Debug("subscriber detached",
			slog.String("subscriber_id", sub.id.String()),
			slog.String("reason", reason),
			slog.Int("total", total))
	}
}
