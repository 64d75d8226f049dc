// Package httpserver exposes the relay over HTTP: SSE and WebSocket event
// streams, relay status, the catalog read API and operational endpoints.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/tajhlande/listen-to-wiki-changes/internal/adapter/metrics"
	"github.com/tajhlande/listen-to-wiki-changes/internal/domain"
	"github.com/tajhlande/listen-to-wiki-changes/internal/platform/config"
	"github.com/tajhlande/listen-to-wiki-changes/internal/relay"
)

type eventHub interface {
	Subscribe(m relay.Matcher) (*relay.Subscription, error)
	Status() relay.Status
}

type wikiCatalog interface {
	Metadata(code string) (domain.WikiMetadata, bool)
	Wikis() map[string]domain.WikiMetadata
	WikiCodes() []domain.WikiCode
	Types() []domain.WikiType
	TypeNames() []string
	Languages() []domain.Language
	LanguageName(code string) (string, bool)
}

// Dependencies are the collaborators the server routes requests to.
type Dependencies struct {
	Hub          eventHub
	Catalog      wikiCatalog
	Registry     *prometheus.Registry
	HealthChecks []HealthCheck
	Clock        clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	hub     eventHub
	catalog wikiCatalog

	registry      *prometheus.Registry
	httpMetrics   *metrics.HTTPMetrics
	streamMetrics *metrics.StreamMetrics

	limits   *ConnectionLimits
	upgrader websocket.Upgrader
	probes   singleflight.Group

	healthChecks []HealthCheck
	clock        clockwork.Clock
	startTime    time.Time
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httpErrorHandler

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	reg := deps.Registry
	if reg == nil {
		reg = metrics.NewRegistry()
	}

	srv := &Server{
		echo:          e,
		config:        cfg,
		hub:           deps.Hub,
		catalog:       deps.Catalog,
		registry:      reg,
		httpMetrics:   metrics.NewHTTPMetrics(reg, routeEvents, routeEventsWS),
		streamMetrics: metrics.NewStreamMetrics(reg),
		limits: NewConnectionLimits(
			cfg.MaxStreams, cfg.MaxStreamsPerIP,
			cfg.EventsRateLimit, cfg.EventsRateBurst,
			clock,
		),
		healthChecks: deps.HealthChecks,
		clock:        clock,
		startTime:    clock.Now(),
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     srv.checkOrigin,
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// checkOrigin applies the CORS allow-list to WebSocket upgrades. Requests
// without an Origin header come from non-browser clients and are allowed.
// In development localhost origins are allowed as well.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.config.CORSAllowedOrigins, "*") ||
		slices.Contains(s.config.CORSAllowedOrigins, origin) {
		return true
	}
	if s.config.AppEnv == "development" && isLocalhostOrigin(origin) {
		return true
	}

	slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
	return false
}

func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
