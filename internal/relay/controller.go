package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tajhlande/listen-to-wiki-changes/internal/domain"
	"github.com/tajhlande/listen-to-wiki-changes/internal/platform/correlation"
	"github.com/tajhlande/listen-to-wiki-changes/internal/refine"
)

// EventRefiner turns one upstream payload into a RefinedEvent. Errors are
// classified with the refine package's sentinels and StageError.
type EventRefiner interface {
	Refine(payload []byte) (domain.RefinedEvent, error)
}

type ControllerConfig struct {
	GracePeriod    time.Duration
	PollInterval   time.Duration
	ReconnectDelay time.Duration
}

// Controller runs the upstream connection state machine:
//
//	IDLE -> CONNECTING -> STREAMING -> GRACE_WAIT -> (STREAMING | CONNECTING | IDLE)
//
// When the registry empties the session is held in GRACE_WAIT for the grace
// period; a returning subscriber resumes STREAMING on the same session. When
// the session itself fails, GRACE_WAIT runs disconnected and reconnects after
// the reconnect delay if subscribers remain.
type Controller struct {
	hub     *Hub
	dialer  domain.UpstreamDialer
	refiner EventRefiner
	clock   clockwork.Clock
	cfg     ControllerConfig
}

func NewController(hub *Hub, dialer domain.UpstreamDialer, refiner EventRefiner, clock clockwork.Clock, cfg ControllerConfig) *Controller {
	if cfg.ReconnectDelay > cfg.GracePeriod {
		cfg.ReconnectDelay = cfg.GracePeriod
	}
	return &Controller{
		hub:     hub,
		dialer:  dialer,
		refiner: refiner,
		clock:   clock,
		cfg:     cfg,
	}
}

// Run blocks until ctx is cancelled. Any open upstream session is closed
// before it returns.
func (c *Controller) Run(ctx context.Context) {
	slog.Info("Relay controller started",
		"grace_period", c.cfg.GracePeriod,
		"poll_interval", c.cfg.PollInterval,
	)
	defer func() {
		c.hub.setState(StateIdle, false)
		slog.Info("Relay controller stopped")
	}()

	for {
		c.hub.setState(StateIdle, false)
		if !c.awaitDemand(ctx) {
			return
		}
		if !c.serve(ctx) {
			return
		}
	}
}

func (c *Controller) awaitDemand(ctx context.Context) bool {
	for {
		if c.hub.Count() > 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-c.hub.wake:
		}
	}
}

// serve keeps reconnecting while there is demand. It returns false on
// shutdown and true when the controller should go idle.
func (c *Controller) serve(ctx context.Context) bool {
	for {
		end := c.runSession(ctx)
		c.hub.recorder.SessionEnded(end)

		switch end {
		case EndShutdown:
			return false
		case EndGraceExpired:
			return true
		}

		if !c.waitAfterFailure(ctx) {
			return ctx.Err() == nil
		}
	}
}

// waitAfterFailure is the disconnected GRACE_WAIT. It reports whether to
// reconnect.
func (c *Controller) waitAfterFailure(ctx context.Context) bool {
	c.hub.setState(StateGraceWait, false)

	retrying := c.hub.Count() > 0
	wait := c.cfg.GracePeriod
	if retrying {
		wait = c.cfg.ReconnectDelay
		slog.Info("Upstream session lost with subscribers present, reconnecting", "delay", wait)
	}

	timer := c.clock.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-c.hub.wake:
			if c.hub.Count() == 0 {
				// Demand left during the reconnect delay: the grace period
				// starts now.
				if retrying {
					retrying = false
					resetTimer(timer, c.cfg.GracePeriod)
				}
				continue
			}
			if !retrying {
				return true
			}
		case <-timer.Chan():
			if c.hub.Count() == 0 {
				slog.Debug("Grace period expired, staying disconnected")
				return false
			}
			return true
		}
	}
}

func (c *Controller) runSession(ctx context.Context) string {
	ctx = correlation.WithID(ctx, correlation.NewID())

	c.hub.setState(StateConnecting, false)
	slog.InfoContext(ctx, "Connecting to upstream feed")

	session, err := c.dialer.Dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return EndShutdown
		}
		slog.WarnContext(ctx, "Upstream dial failed", "error", err)
		return EndDialFailed
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	payloads := make(chan []byte)
	readErr := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		readPayloads(sessionCtx, session, payloads, readErr)
	}()

	defer func() {
		cancel()
		if err := session.Close(); err != nil {
			slog.DebugContext(ctx, "Failed to close upstream session", "error", err)
		}
		wg.Wait()
		c.hub.markDisconnected()
		slog.InfoContext(ctx, "Upstream session closed")
	}()

	c.hub.setState(StateStreaming, true)
	slog.InfoContext(ctx, "Connected to upstream feed")

	poll := c.clock.NewTicker(c.cfg.PollInterval)
	defer poll.Stop()

	var grace clockwork.Timer
	var graceCh <-chan time.Time
	defer func() {
		if grace != nil {
			grace.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return EndShutdown
		case payload := <-payloads:
			c.relay(ctx, payload)
		case err := <-readErr:
			if ctx.Err() != nil {
				return EndShutdown
			}
			if errors.Is(err, domain.ErrUpstreamClosed) {
				slog.WarnContext(ctx, "Upstream feed ended")
			} else {
				slog.ErrorContext(ctx, "Upstream feed failed", "error", err)
			}
			return EndUpstream
		case <-c.hub.wake:
		case <-poll.Chan():
		case <-graceCh:
			if c.hub.Count() == 0 {
				slog.InfoContext(ctx, "Grace period expired, disconnecting", "grace_period", c.cfg.GracePeriod)
				return EndGraceExpired
			}
		}

		n := c.hub.Count()
		switch {
		case n == 0 && graceCh == nil:
			grace = c.clock.NewTimer(c.cfg.GracePeriod)
			graceCh = grace.Chan()
			c.hub.setState(StateGraceWait, true)
			slog.InfoContext(ctx, "No subscribers left, holding upstream session", "grace_period", c.cfg.GracePeriod)
		case n > 0 && graceCh != nil:
			grace.Stop()
			grace, graceCh = nil, nil
			c.hub.setState(StateStreaming, true)
			slog.InfoContext(ctx, "Subscriber returned within grace period", "subscribers", n)
		}
	}
}

func (c *Controller) relay(ctx context.Context, payload []byte) {
	ev, err := c.refiner.Refine(payload)
	if err != nil {
		var stageErr *refine.StageError
		switch {
		case errors.Is(err, refine.ErrFiltered):
			c.hub.recorder.EventDropped(DropFiltered)
		case errors.Is(err, refine.ErrUnknownEventType):
			c.hub.recorder.EventDropped(DropUnknownType)
			slog.DebugContext(ctx, "Dropping event of unknown type", "error", err)
		case errors.As(err, &stageErr):
			c.hub.recorder.EventDropped(string(stageErr.Stage))
			slog.DebugContext(ctx, "Dropping malformed upstream event", "stage", stageErr.Stage, "error", stageErr.Err)
		default:
			c.hub.recorder.EventDropped(DropParse)
			slog.DebugContext(ctx, "Dropping upstream event", "error", err)
		}
		return
	}

	if ev.EventType == domain.EventUnknown {
		c.hub.recorder.EventDropped(DropUnknownType)
		return
	}

	c.hub.recorder.EventRelayed(c.hub.Publish(ev))
}

func readPayloads(ctx context.Context, session domain.UpstreamSession, out chan<- []byte, errs chan<- error) {
	for {
		payload, err := session.Next(ctx)
		if err != nil {
			errs <- err
			return
		}
		select {
		case out <- payload:
		case <-ctx.Done():
			return
		}
	}
}

func resetTimer(t clockwork.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
	t.Reset(d)
}
