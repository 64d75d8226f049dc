package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tajhlande/listen-to-wiki-changes/internal/domain"
	"github.com/tajhlande/listen-to-wiki-changes/internal/filter"
	"github.com/tajhlande/listen-to-wiki-changes/internal/platform/correlation"
	apperrors "github.com/tajhlande/listen-to-wiki-changes/internal/platform/errors"
	"github.com/tajhlande/listen-to-wiki-changes/internal/relay"
)

const (
	sseEventName     = "wiki_event"
	msgFilterMissing = "At least one filter must be specified: codes, types, or languages"
)

func (s *Server) handleEvents(c echo.Context) error {
	f, err := s.parseFilter(c)
	if err != nil {
		return err
	}

	release, err := s.acquireStream(c.RealIP())
	if err != nil {
		return err
	}
	defer release()

	sub, err := s.hub.Subscribe(f)
	if err != nil {
		return apperrors.UnavailableError("event stream is shutting down", err)
	}

	ctx := correlation.WithSubscriber(c.Request().Context(), sub.ID())
	s.streamMetrics.Active.WithLabelValues("sse").Inc()
	defer s.streamMetrics.Active.WithLabelValues("sse").Dec()

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	slog.InfoContext(ctx, "Event stream opened", "transport", "sse", "remote_ip", c.RealIP())
	err = sub.Stream(ctx, &sseSink{w: c.Response()})
	logStreamEnd(ctx, "sse", err)
	return nil
}

// parseFilter reads codes, types and languages as comma-separated lists,
// repeated parameters allowed, plus an optional CEL expression in expr.
func (s *Server) parseFilter(c echo.Context) (filter.Filter, error) {
	q := c.QueryParams()
	codes := splitParams(q["codes"])
	types := splitParams(q["types"])
	languages := filter.ResolveLanguages(splitParams(q["languages"]), s.catalog.LanguageName)

	f, err := filter.New(codes, types, languages)
	if err != nil {
		if errors.Is(err, filter.ErrEmptyFilter) {
			return filter.Filter{}, apperrors.ValidationError(msgFilterMissing)
		}
		return filter.Filter{}, apperrors.ValidationError(err.Error())
	}

	expr, err := filter.Compile(q.Get("expr"))
	if err != nil {
		return filter.Filter{}, apperrors.ValidationError(err.Error()).WithField("expr", q.Get("expr"))
	}
	return f.WithExpression(expr), nil
}

func splitParams(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, filter.SplitList(v)...)
	}
	return out
}

// acquireStream reserves a stream slot for ip and returns its release func.
func (s *Server) acquireStream(ip string) (func(), error) {
	ok, reason := s.limits.Acquire(ip)
	if !ok {
		s.streamMetrics.Rejected.WithLabelValues(string(reason)).Inc()
		if reason == LimitReasonRate {
			return nil, apperrors.RateLimitedError("too many streams opened, slow down")
		}
		return nil, apperrors.UnavailableError("too many concurrent streams", nil).
			WithField("reason", string(reason))
	}
	return func() { s.limits.Release(ip) }, nil
}

func logStreamEnd(ctx context.Context, transport string, err error) {
	if err != nil {
		slog.DebugContext(ctx, "Event stream write failed", "transport", transport, "error", err)
	}
	slog.InfoContext(ctx, "Event stream closed", "transport", transport)
}

// sseSink frames items as server-sent events and flushes after each one.
type sseSink struct {
	w *echo.Response
}

var _ relay.Sink = (*sseSink)(nil)

func (s *sseSink) SendEvent(_ context.Context, ev domain.RefinedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", sseEventName, data); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

func (s *sseSink) SendKeepAlive(context.Context) error {
	if _, err := io.WriteString(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}
