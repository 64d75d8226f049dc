// Package upstream connects to the Wikimedia EventStreams recent-change feed
// over server-sent events.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/tajhlande/listen-to-wiki-changes/internal/domain"
	"github.com/tajhlande/listen-to-wiki-changes/internal/platform/correlation"
)

const (
	breakerFailureThreshold = 5
	breakerDelay            = 30 * time.Second
	responseHeaderTimeout   = 15 * time.Second
)

// StatusError is returned when the feed answers with a non-200 status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string   { return fmt.Sprintf("unexpected upstream status %d", e.Code) }
func (e *StatusError) StatusCode() int { return e.Code }

// BreakerObserver is told about circuit breaker transitions.
type BreakerObserver interface {
	BreakerStateChanged(state string)
}

type Config struct {
	URL       string
	UserAgent string
}

// Dialer opens SSE sessions against the feed. Dials pass through a circuit
// breaker that opens after consecutive failures and fails fast until its
// delay elapses.
type Dialer struct {
	cfg     Config
	client  *http.Client
	breaker circuitbreaker.CircuitBreaker[any]
}

var _ domain.UpstreamDialer = (*Dialer)(nil)

// NewDialer builds a Dialer. A nil client gets one without an overall
// timeout, since sessions are long-lived.
func NewDialer(cfg Config, client *http.Client, observer BreakerObserver) *Dialer {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: responseHeaderTimeout,
			},
		}
	}

	breaker := circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(breakerFailureThreshold).
		WithDelay(breakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "upstream",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			if observer != nil {
				observer.BreakerStateChanged(e.NewState.String())
			}
		}).
		Build()

	return &Dialer{cfg: cfg, client: client, breaker: breaker}
}

// Dial connects to the feed. ctx bounds the whole session, not only the
// connect; Close on the returned session releases it.
func (d *Dialer) Dial(ctx context.Context) (domain.UpstreamSession, error) {
	if !d.breaker.TryAcquirePermit() {
		return nil, fmt.Errorf("dial upstream: %w", circuitbreaker.ErrOpen)
	}

	session, err := d.open(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.breaker.RecordError(err)
		}
		return nil, fmt.Errorf("dial upstream: %w", err)
	}
	d.breaker.RecordSuccess()
	return session, nil
}

func (d *Dialer) open(ctx context.Context) (*Session, error) {
	sessionCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(sessionCtx, http.MethodGet, d.cfg.URL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}
	if id, ok := correlation.ID(ctx); ok {
		req.Header.Set(correlation.HeaderName, id)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		return nil, &StatusError{Code: resp.StatusCode}
	}

	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err != nil || mediaType != "text/event-stream" {
		slog.WarnContext(ctx, "Upstream did not declare an event stream", "content_type", resp.Header.Get("Content-Type"))
	}

	return &Session{
		body:   resp.Body,
		reader: newSSEReader(resp.Body),
		cancel: cancel,
	}, nil
}

// Session is one open connection to the feed. Next must not be called
// concurrently; Close may be called from any goroutine.
type Session struct {
	body      io.ReadCloser
	reader    *sseReader
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

var _ domain.UpstreamSession = (*Session)(nil)

// Next returns the data of the next "message" event. Other event types are
// skipped. The end of the body yields domain.ErrUpstreamClosed.
func (s *Session) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ev, err := s.reader.next()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, io.EOF) {
				return nil, domain.ErrUpstreamClosed
			}
			return nil, fmt.Errorf("read upstream: %w", err)
		}

		if ev.name != "" && ev.name != "message" {
			continue
		}
		return ev.data, nil
	}
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
