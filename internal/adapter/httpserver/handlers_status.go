package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tajhlande/listen-to-wiki-changes/internal/domain"
	"github.com/tajhlande/listen-to-wiki-changes/internal/filter"
	apperrors "github.com/tajhlande/listen-to-wiki-changes/internal/platform/errors"
)

const healthProbeKey = "health_check"

var errNoEvent = errors.New("no event received before timeout")

func (s *Server) handleStreamStatus(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.hub.Status()); err != nil {
		return fmt.Errorf("failed to write status response: %w", err)
	}
	return nil
}

// handleHealthCheck returns the next event seen on any wiki type. Concurrent
// callers share one probe subscription.
func (s *Server) handleHealthCheck(c echo.Context) error {
	ch := s.probes.DoChan(healthProbeKey, func() (any, error) {
		return s.awaitEvent(context.WithoutCancel(c.Request().Context()))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return apperrors.UnavailableError("health check failed", res.Err).
				WithField("timeout", s.config.HealthCheckTimeout.String())
		}
		if err := c.JSON(http.StatusOK, res.Val); err != nil {
			return fmt.Errorf("failed to write health check response: %w", err)
		}
		return nil
	case <-c.Request().Context().Done():
		return nil
	}
}

// awaitEvent subscribes across every known wiki type and waits up to the
// configured timeout for one event, ignoring keep-alives.
func (s *Server) awaitEvent(ctx context.Context) (domain.RefinedEvent, error) {
	f, err := filter.New(nil, s.catalog.TypeNames(), nil)
	if err != nil {
		return domain.RefinedEvent{}, err
	}
	sub, err := s.hub.Subscribe(f)
	if err != nil {
		return domain.RefinedEvent{}, err
	}
	defer sub.Close()

	ctx, cancel := context.WithTimeout(ctx, s.config.HealthCheckTimeout)
	defer cancel()

	for {
		item, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				slog.WarnContext(ctx, "Health check timed out waiting for an event",
					"timeout", s.config.HealthCheckTimeout,
				)
				return domain.RefinedEvent{}, errNoEvent
			}
			return domain.RefinedEvent{}, err
		}
		if !item.KeepAlive {
			return item.Event, nil
		}
	}
}
