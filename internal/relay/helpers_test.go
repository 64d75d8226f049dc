package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"github.com/tajhlande/listen-to-wiki-changes/internal/domain"
)

const (
	testKeepAlive = 15 * time.Second
	testGrace     = 30 * time.Second
	testPoll      = 5 * time.Second
	testReconnect = 5 * time.Second
	waitFor       = 2 * time.Second
	tick          = 5 * time.Millisecond
)

type matchAll struct{}

func (matchAll) Matches(domain.RefinedEvent) bool { return true }

type matchCode string

func (m matchCode) Matches(ev domain.RefinedEvent) bool { return ev.Code == string(m) }

type countingRecorder struct {
	nopRecorder
	mu        sync.Mutex
	dropped   map[string]int
	ended     []string
	evicted   int
	relayed   int
	delivered int
	keepAlive int
	gauge     int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{dropped: make(map[string]int)}
}

func (r *countingRecorder) EventDropped(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped[reason]++
}

func (r *countingRecorder) SessionEnded(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, reason)
}

func (r *countingRecorder) EventEvicted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted++
}

func (r *countingRecorder) EventRelayed(int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relayed++
}

func (r *countingRecorder) EventDelivered() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered++
}

func (r *countingRecorder) KeepAliveSent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keepAlive++
}

func (r *countingRecorder) SubscribersChanged(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauge = count
}

func (r *countingRecorder) droppedFor(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped[reason]
}

func (r *countingRecorder) endings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ended...)
}

type fakeSession struct {
	payloads  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		payloads: make(chan []byte),
		closed:   make(chan struct{}),
	}
}

func (s *fakeSession) Next(ctx context.Context) ([]byte, error) {
	select {
	case p, ok := <-s.payloads:
		if !ok {
			return nil, domain.ErrUpstreamClosed
		}
		return p, nil
	case <-s.closed:
		return nil, domain.ErrUpstreamClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSession) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSession) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// send delivers payload to the controller's reader, failing the test if the
// session is not being read.
func (s *fakeSession) send(t *testing.T, payload string) {
	t.Helper()
	select {
	case s.payloads <- []byte(payload):
	case <-time.After(waitFor):
		t.Fatal("upstream session is not being read")
	}
}

type fakeDialer struct {
	dials    atomic.Int32
	failures atomic.Int32
	sessions chan *fakeSession
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{sessions: make(chan *fakeSession, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context) (domain.UpstreamSession, error) {
	d.dials.Add(1)
	if d.failures.Load() > 0 {
		d.failures.Add(-1)
		return nil, context.DeadlineExceeded
	}
	s := newFakeSession()
	d.sessions <- s
	return s, nil
}

func (d *fakeDialer) next(t *testing.T) *fakeSession {
	t.Helper()
	select {
	case s := <-d.sessions:
		return s
	case <-time.After(waitFor):
		t.Fatal("controller did not dial upstream")
		return nil
	}
}

// blockUntil waits for n fake clock waiters so an Advance cannot race a
// timer that has not been created yet.
func blockUntil(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, n))
}

func newTestHub(clock clockwork.Clock, recorder Recorder) *Hub {
	return NewHub(HubConfig{QueueCapacity: 100, KeepAliveInterval: testKeepAlive}, clock, recorder)
}
