package httpserver

import (
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tajhlande/listen-to-wiki-changes/internal/adapter/metrics"
)

const (
	apiRateLimit = 20
	apiRateBurst = 40

	routeEvents   = "/api/events"
	routeEventsWS = "/api/events/ws"
)

func (s *Server) registerRoutes() {
	// Existing clients call /api/events/ and /api/wikis/ with a trailing slash.
	s.echo.Pre(middleware.RemoveTrailingSlash())

	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(s.httpMetrics.Middleware())
	s.echo.Use(ErrorHandlingMiddleware())
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.config.CORSAllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	}))
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         63072000, // 2 years; only sent over HTTPS
		HSTSPreloadEnabled: true,
		ContentSecurityPolicy: "default-src 'self'; " +
			"connect-src 'self'; " +
			"style-src 'self' 'unsafe-inline'; " +
			"frame-ancestors 'none'",
		ReferrerPolicy: "strict-origin-when-cross-origin",
	}))

	s.echo.GET("/", func(c echo.Context) error {
		return c.Redirect(http.StatusTemporaryRedirect, "/app")
	})
	s.registerStaticRoutes()

	s.registerHealthRoutes()
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler(s.registry)))

	s.registerAPIRoutes()
}

func (s *Server) registerStaticRoutes() {
	dir := s.config.StaticDir
	if dir == "" {
		return
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		slog.Warn("Static app directory not found, /app disabled", "dir", dir)
		return
	}
	s.echo.Static("/app", dir)
}

// registerAPIRoutes mounts the stream endpoints, which are limited by
// ConnectionLimits, and the request/response endpoints, which share a
// per-IP request rate limit.
func (s *Server) registerAPIRoutes() {
	s.echo.GET(routeEvents, s.handleEvents)
	s.echo.GET(routeEventsWS, s.handleEventsWS)

	limited := newRateLimiter(apiRateLimit, apiRateBurst)
	s.echo.GET("/api/stream_status", s.handleStreamStatus, limited)
	s.echo.GET("/api/health_check", s.handleHealthCheck, limited)
	s.echo.GET("/api/wikis", s.handleWikis, limited)
	s.echo.GET("/api/wiki_codes", s.handleWikiCodes, limited)
	s.echo.GET("/api/wiki/:code", s.handleWiki, limited)
	s.echo.GET("/api/types", s.handleTypes, limited)
	s.echo.GET("/api/languages", s.handleLanguages, limited)
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		Skipper: func(c echo.Context) bool {
			p := c.Path()
			return p == "/metrics" || strings.HasPrefix(p, "/health/")
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}
