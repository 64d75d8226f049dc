package relay

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tajhlande/listen-to-wiki-changes/internal/domain"
	"github.com/tajhlande/listen-to-wiki-changes/internal/refine"
)

type staticCatalog struct{}

func (staticCatalog) LookupByHostname(host string) (string, bool) {
	if host == "en.wikipedia.org" {
		return "en_wikipedia", true
	}
	return "", false
}

func (staticCatalog) Metadata(code string) (domain.WikiMetadata, bool) {
	if code == "en_wikipedia" {
		return domain.WikiMetadata{Code: code, Type: "wikipedia", Language: "English"}, true
	}
	return domain.WikiMetadata{}, false
}

const (
	newPagePayload  = `{"id":1,"type":"new","namespace":0,"meta":{"domain":"en.wikipedia.org"},"title":"Foo","length":{"old":0,"new":120}}`
	talkEditPayload = `{"id":2,"type":"edit","namespace":1,"meta":{"domain":"en.wikipedia.org"},"title":"Talk:Foo"}`
)

type controllerHarness struct {
	clock    *clockwork.FakeClock
	hub      *Hub
	dialer   *fakeDialer
	recorder *countingRecorder
	cancel   context.CancelFunc
	done     chan struct{}
}

func startController(t *testing.T) *controllerHarness {
	t.Helper()

	h := &controllerHarness{
		clock:    clockwork.NewFakeClock(),
		dialer:   newFakeDialer(),
		recorder: newCountingRecorder(),
		done:     make(chan struct{}),
	}
	h.hub = newTestHub(h.clock, h.recorder)

	ctrl := NewController(h.hub, h.dialer, refine.New(staticCatalog{}), h.clock, ControllerConfig{
		GracePeriod:    testGrace,
		PollInterval:   testPoll,
		ReconnectDelay: testReconnect,
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		ctrl.Run(ctx)
	}()

	t.Cleanup(h.stop)
	return h
}

func (h *controllerHarness) stop() {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(waitFor):
	}
}

func (h *controllerHarness) subscribe(t *testing.T) *Subscription {
	t.Helper()
	sub, err := h.hub.Subscribe(matchAll{})
	require.NoError(t, err)
	return sub
}

func (h *controllerHarness) waitStatus(t *testing.T, connected bool, state State) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := h.hub.Status()
		return s.Connected == connected && s.State == state
	}, waitFor, tick, "want connected=%v state=%s, have %+v", connected, state, h.hub.Status())
}

func TestController_IdleWithoutSubscribers(t *testing.T) {
	h := startController(t)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Status{Connected: false, Subscribers: 0, State: StateIdle}, h.hub.Status())
	assert.Zero(t, h.dialer.dials.Load())
}

func TestController_FirstSubscriberConnectsAndRelays(t *testing.T) {
	h := startController(t)

	sub := h.subscribe(t)
	defer sub.Close()

	session := h.dialer.next(t)
	h.waitStatus(t, true, StateStreaming)

	session.send(t, newPagePayload)
	require.Eventually(t, func() bool { return sub.queue.Len() == 1 }, waitFor, tick)

	ev, ok := sub.queue.Pop()
	require.True(t, ok)
	assert.Equal(t, domain.EventNewPage, ev.EventType)
	assert.Equal(t, "en_wikipedia", ev.Code)
	assert.Equal(t, "wikipedia", ev.WikiType)
	assert.Equal(t, "English", ev.Language)
	assert.Equal(t, int64(120), ev.ChangeInLength)
}

func TestController_SkipsFilteredAndMalformedEvents(t *testing.T) {
	h := startController(t)

	sub := h.subscribe(t)
	defer sub.Close()

	session := h.dialer.next(t)
	session.send(t, talkEditPayload)
	session.send(t, `not json`)
	session.send(t, `{"type":"edit"}`)
	session.send(t, newPagePayload)

	require.Eventually(t, func() bool { return sub.queue.Len() == 1 }, waitFor, tick)
	ev, _ := sub.queue.Pop()
	assert.Equal(t, "Foo", ev.Title)

	assert.Equal(t, 1, h.recorder.droppedFor(DropFiltered))
	assert.Equal(t, 1, h.recorder.droppedFor(DropParse))
	assert.Equal(t, 1, h.recorder.droppedFor(DropValidate))
	assert.False(t, session.isClosed(), "bad events never end the session")
}

func TestController_DisconnectsAfterGracePeriod(t *testing.T) {
	h := startController(t)

	sub := h.subscribe(t)
	session := h.dialer.next(t)
	h.waitStatus(t, true, StateStreaming)

	sub.Close()
	h.waitStatus(t, true, StateGraceWait)
	assert.False(t, session.isClosed(), "session is held during the grace period")

	blockUntil(t, h.clock, 2) // poll ticker and grace timer
	h.clock.Advance(testGrace - time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.True(t, h.hub.Connected())

	h.clock.Advance(time.Second)
	h.waitStatus(t, false, StateIdle)
	assert.True(t, session.isClosed())
	assert.Equal(t, []string{EndGraceExpired}, h.recorder.endings())
}

func TestController_SubscriberReturningWithinGraceKeepsSession(t *testing.T) {
	h := startController(t)

	first := h.subscribe(t)
	session := h.dialer.next(t)
	h.waitStatus(t, true, StateStreaming)

	first.Close()
	h.waitStatus(t, true, StateGraceWait)
	blockUntil(t, h.clock, 2)
	h.clock.Advance(testGrace / 2)

	second := h.subscribe(t)
	defer second.Close()
	h.waitStatus(t, true, StateStreaming)

	// The old grace deadline passes without a disconnect.
	h.clock.Advance(testGrace)
	time.Sleep(20 * time.Millisecond)
	assert.True(t, h.hub.Connected())
	assert.False(t, session.isClosed())
	assert.Equal(t, int32(1), h.dialer.dials.Load())

	session.send(t, newPagePayload)
	require.Eventually(t, func() bool { return second.queue.Len() == 1 }, waitFor, tick)
}

func TestController_ReconnectsAfterUpstreamFailure(t *testing.T) {
	h := startController(t)

	sub := h.subscribe(t)
	defer sub.Close()

	first := h.dialer.next(t)
	h.waitStatus(t, true, StateStreaming)

	close(first.payloads)
	h.waitStatus(t, false, StateGraceWait)

	blockUntil(t, h.clock, 1)
	h.clock.Advance(testReconnect)

	second := h.dialer.next(t)
	h.waitStatus(t, true, StateStreaming)
	assert.Equal(t, int32(2), h.dialer.dials.Load())
	assert.True(t, first.isClosed())

	second.send(t, newPagePayload)
	require.Eventually(t, func() bool { return sub.queue.Len() == 1 }, waitFor, tick)
	assert.Equal(t, []string{EndUpstream}, h.recorder.endings())
}

func TestController_RetriesFailedDial(t *testing.T) {
	h := startController(t)
	h.dialer.failures.Store(1)

	sub := h.subscribe(t)
	defer sub.Close()

	h.waitStatus(t, false, StateGraceWait)
	blockUntil(t, h.clock, 1)
	h.clock.Advance(testReconnect)

	h.dialer.next(t)
	h.waitStatus(t, true, StateStreaming)
	assert.Equal(t, int32(2), h.dialer.dials.Load())
	assert.Equal(t, []string{EndDialFailed}, h.recorder.endings())
}

func TestController_FailureWithoutSubscribersGoesIdle(t *testing.T) {
	h := startController(t)

	sub := h.subscribe(t)
	session := h.dialer.next(t)
	h.waitStatus(t, true, StateStreaming)

	sub.Close()
	h.waitStatus(t, true, StateGraceWait)
	close(session.payloads)
	h.waitStatus(t, false, StateGraceWait)

	blockUntil(t, h.clock, 1)
	h.clock.Advance(testGrace)
	h.waitStatus(t, false, StateIdle)
	assert.Equal(t, int32(1), h.dialer.dials.Load())
}

func TestController_LastSubscriberLeavingDuringReconnectDelayGetsFullGrace(t *testing.T) {
	h := startController(t)

	sub := h.subscribe(t)
	session := h.dialer.next(t)
	h.waitStatus(t, true, StateStreaming)

	close(session.payloads)
	h.waitStatus(t, false, StateGraceWait)
	blockUntil(t, h.clock, 1)

	sub.Close()
	require.Eventually(t, func() bool { return len(h.hub.wake) == 0 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)

	// The reconnect delay no longer applies once nobody is listening.
	h.clock.Advance(testReconnect)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateGraceWait, h.hub.State())

	h.clock.Advance(testGrace - testReconnect)
	h.waitStatus(t, false, StateIdle)
	assert.Equal(t, int32(1), h.dialer.dials.Load())
}

func TestController_NewSubscriberDuringDisconnectedGraceReconnects(t *testing.T) {
	h := startController(t)

	sub := h.subscribe(t)
	session := h.dialer.next(t)
	h.waitStatus(t, true, StateStreaming)

	sub.Close()
	h.waitStatus(t, true, StateGraceWait)
	close(session.payloads)
	h.waitStatus(t, false, StateGraceWait)

	again := h.subscribe(t)
	defer again.Close()

	h.dialer.next(t)
	h.waitStatus(t, true, StateStreaming)
}

func TestController_ShutdownClosesSession(t *testing.T) {
	h := startController(t)

	sub := h.subscribe(t)
	defer sub.Close()
	session := h.dialer.next(t)
	h.waitStatus(t, true, StateStreaming)

	h.cancel()
	select {
	case <-h.done:
	case <-time.After(waitFor):
		t.Fatal("controller did not stop")
	}

	assert.True(t, session.isClosed())
	assert.False(t, h.hub.Connected())
	assert.Equal(t, StateIdle, h.hub.State())
}

func TestController_ReconnectDelayBoundedByGrace(t *testing.T) {
	ctrl := NewController(newTestHub(clockwork.NewFakeClock(), nil), newFakeDialer(), refine.New(staticCatalog{}), clockwork.NewFakeClock(), ControllerConfig{
		GracePeriod:    time.Second,
		PollInterval:   time.Second,
		ReconnectDelay: time.Minute,
	})
	assert.Equal(t, time.Second, ctrl.cfg.ReconnectDelay)
}
