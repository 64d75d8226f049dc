package relay

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/tajhlande/listen-to-wiki-changes/internal/domain"
)

var ErrHubClosed = errors.New("relay hub closed")

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
	StateGraceWait  State = "grace_wait"
)

// Matcher decides whether a subscriber wants an event.
type Matcher interface {
	Matches(ev domain.RefinedEvent) bool
}

type HubConfig struct {
	QueueCapacity     int
	KeepAliveInterval time.Duration
}

// Status is a point-in-time view of the relay.
type Status struct {
	Connected   bool  `json:"stream_connected"`
	Subscribers int   `json:"active_subscribers"`
	State       State `json:"state"`
}

// Hub is the subscriber registry shared by the Controller and every
// Subscription. The registry lock is only held for map mutation and
// snapshots.
type Hub struct {
	cfg      HubConfig
	clock    clockwork.Clock
	recorder Recorder

	mu        sync.Mutex
	subs      map[*Subscription]struct{}
	closed    bool
	state     State
	connected bool

	// wake coalesces "registry became non-empty" and "registry became empty"
	// notifications for the Controller.
	wake chan struct{}
	done chan struct{}
}

func NewHub(cfg HubConfig, clock clockwork.Clock, recorder Recorder) *Hub {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Hub{
		cfg:      cfg,
		clock:    clock,
		recorder: recorder,
		subs:     make(map[*Subscription]struct{}),
		state:    StateIdle,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Subscribe registers a new queue filtered by m. The first registration into
// an empty registry wakes the Controller.
func (h *Hub) Subscribe(m Matcher) (*Subscription, error) {
	sub := &Subscription{
		id:     uuid.NewString(),
		hub:    h,
		queue:  NewEvictingQueue(h.cfg.QueueCapacity),
		filter: m,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	wasEmpty := len(h.subs) == 0
	h.subs[sub] = struct{}{}
	count := len(h.subs)
	// Recorded under the lock so concurrent changes reach the gauge in order.
	h.recorder.SubscribersChanged(count)
	h.mu.Unlock()

	if wasEmpty {
		slog.Info("First subscriber connected, waking controller", "subscriber_id", sub.id)
		h.signalWake()
	} else {
		slog.Debug("Subscriber connected", "subscriber_id", sub.id, "subscribers", count)
	}
	return sub, nil
}

func (h *Hub) unregister(sub *Subscription) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, sub)
	remaining := len(h.subs)
	h.recorder.SubscribersChanged(remaining)
	h.mu.Unlock()

	if remaining == 0 {
		slog.Info("Last subscriber disconnected, waking controller", "subscriber_id", sub.id)
		h.signalWake()
	} else {
		slog.Debug("Subscriber disconnected", "subscriber_id", sub.id, "subscribers", remaining)
	}
}

// Publish enqueues ev on a snapshot of every registered queue and returns
// how many queues received it. Enqueue never blocks, so one full queue
// cannot delay the others.
func (h *Hub) Publish(ev domain.RefinedEvent) int {
	subs := h.snapshot()
	for _, sub := range subs {
		if sub.queue.Push(ev) {
			h.recorder.EventEvicted()
		}
	}
	return len(subs)
}

func (h *Hub) snapshot() []*Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	return subs
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *Hub) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Hub) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Status{
		Connected:   h.connected,
		Subscribers: len(h.subs),
		State:       h.state,
	}
}

func (h *Hub) setState(state State, connected bool) {
	h.mu.Lock()
	changed := h.state != state
	h.state = state
	h.connected = connected
	h.mu.Unlock()

	if changed {
		h.recorder.StateChanged(state)
	}
}

func (h *Hub) markDisconnected() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = false
}

func (h *Hub) signalWake() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Close rejects new subscriptions and ends every open Subscription's wait.
// It is safe to call more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
}
