package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	progressLaneCap = 256
	statusLaneCap   = 32

	// statusBlockMax bounds how long a status publish waits on a full
	// status lane before spilling into the progress lane.
	statusBlockMax = 100 * time.Millisecond

	// slowConsumerGrace is how long a subscriber may sit with an
	// exhausted progress lane before it is disconnected.
	slowConsumerGrace = 30 * time.Second
)

// Subscriber is one bus attachment, usually backing a WebSocket
// connection. Progress events ride a lossy buffered lane; status
// changes ride a smaller lane that is effectively never dropped.
// The consumer drains both, status lane first.
type Subscriber struct {
	id uuid.UUID

	mu   sync.Mutex
	all  bool
	jobs map[string]struct{}

	progress chan Event
	status   chan Event

	dropped atomic.Int64
	// exhaustedAt is the unix nano timestamp of the moment the
	// progress lane was last found full, 0 while the lane has room.
	exhaustedAt atomic.Int64

	closeOnce   sync.Once
	closed      chan struct{}
	closeReason atomic.Value
}

func newSubscriber() *Subscriber {
	return &Subscriber{
		id:       uuid.New(),
		jobs:     make(map[string]struct{}),
		progress: make(chan Event, progressLaneCap),
		status:   make(chan Event, statusLaneCap),
		closed:   make(chan struct{}),
	}
}

// ID identifies the subscriber in logs.
func (s *Subscriber) ID() uuid.UUID {
	return s.id
}

// Progress is the lossy event lane. Drain it after Status.
func (s *Subscriber) Progress() <-chan Event {
	return s.progress
}

// Status is the reserved lane for lifecycle transitions.
func (s *Subscriber) Status() <-chan Event {
	return s.status
}

// Closed is signalled when the bus detaches the subscriber.
func (s *Subscriber) Closed() <-chan struct{} {
	return s.closed
}

// CloseReason reports why the subscriber was detached, empty while
// still attached.
func (s *Subscriber) CloseReason() string {
	if reason, ok := s.closeReason.Load().(string); ok {
		return reason
	}
	return ""
}

// Dropped reports how many progress events were discarded because the
// consumer fell behind.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

// SubscribeAll widens the filter to every job.
func (s *Subscriber) SubscribeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = true
}

// SubscribeJobs adds job IDs to the filter.
func (s *Subscriber) SubscribeJobs(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.jobs[id] = struct{}{}
	}
}

// UnsubscribeJobs removes job IDs from the filter. It also narrows a
// subscribe-all filter down to the remaining explicit set, which for
// a plain subscribe-all is the empty set.
func (s *Subscriber) UnsubscribeJobs(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = false
	for _, id := range ids {
		delete(s.jobs, id)
	}
}

// Wants reports whether the filter matches a job.
func (s *Subscriber) Wants(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.all {
		return true
	}
	_, ok := s.jobs[jobID]
	return ok
}

func (s *Subscriber) close(reason string) {
	s.closeOnce.Do(func() {
		s.closeReason.Store(reason)
		close(s.closed)
	})
}

func (s *Subscriber) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// offerProgress delivers on the lossy lane: full lane drops the oldest
// event and retries once, anything beyond that is counted as dropped.
// The second return value turns true once the lane has been exhausted
// past the slow consumer grace period.
func (s *Subscriber) offerProgress(ev Event) (delivered, slow bool) {
	if s.isClosed() {
		return false, false
	}
	select {
	case s.progress <- ev:
		s.exhaustedAt.Store(0)
		return true, false
	default:
	}

	now := time.Now().UnixNano()
	if since := s.exhaustedAt.Load(); since == 0 {
		s.exhaustedAt.Store(now)
	} else if now-since > int64(slowConsumerGrace) {
		slow = true
	}

	select {
	case <-s.progress:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.progress <- ev:
		return true, slow
	default:
		s.dropped.Add(1)
		return false, slow
	}
}

// offerStatus delivers on the reserved lane, waiting briefly when it
// is full before spilling into the progress lane.
func (s *Subscriber) offerStatus(ev Event) (delivered, slow bool) {
	if s.isClosed() {
		return false, false
	}
	select {
	case s.status <- ev:
		return true, false
	default:
	}

	timer := time.NewTimer(statusBlockMax)
	defer timer.Stop()
	select {
	case s.status <- ev:
		return true, false
	case <-s.closed:
		return false, false
	case <-timer.C:
	}
	return s.offerProgress(ev)
}
