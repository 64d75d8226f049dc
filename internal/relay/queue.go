package relay

import (
	"sync"

	"github.com/tajhlande/listen-to-wiki-changes/internal/domain"
)

// EvictingQueue is a bounded FIFO ring buffer. When full, Push drops the
// oldest unread event to admit the new one. It is safe for one producer and
// one consumer running concurrently.
type EvictingQueue struct {
	mu      sync.Mutex
	items   []domain.RefinedEvent
	head    int // next read position
	size    int
	evicted uint64

	// ready holds at most one pending signal that items may be available.
	ready chan struct{}
}

func NewEvictingQueue(capacity int) *EvictingQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &EvictingQueue{
		items: make([]domain.RefinedEvent, capacity),
		ready: make(chan struct{}, 1),
	}
}

// Push enqueues ev without blocking. It reports whether an older event was
// evicted to make room.
func (q *EvictingQueue) Push(ev domain.RefinedEvent) bool {
	q.mu.Lock()
	evicted := false
	if q.size == len(q.items) {
		q.items[q.head] = domain.RefinedEvent{}
		q.head = (q.head + 1) % len(q.items)
		q.size--
		q.evicted++
		evicted = true
	}
	q.items[(q.head+q.size)%len(q.items)] = ev
	q.size++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return evicted
}

// Pop removes and returns the oldest event, or false when the queue is empty.
func (q *EvictingQueue) Pop() (domain.RefinedEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return domain.RefinedEvent{}, false
	}
	ev := q.items[q.head]
	q.items[q.head] = domain.RefinedEvent{}
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return ev, true
}

// Ready is signalled after every Push. A signal may be stale, so consumers
// must treat an empty Pop after it as normal.
func (q *EvictingQueue) Ready() <-chan struct{} {
	return q.ready
}

func (q *EvictingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *EvictingQueue) Cap() int {
	return len(q.items)
}

// Evicted returns how many events were dropped on overflow.
func (q *EvictingQueue) Evicted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}
