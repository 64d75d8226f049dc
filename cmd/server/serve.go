package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/tajhlande/listen-to-wiki-changes/internal/adapter/httpserver"
	"github.com/tajhlande/listen-to-wiki-changes/internal/adapter/metrics"
	"github.com/tajhlande/listen-to-wiki-changes/internal/adapter/redis"
	"github.com/tajhlande/listen-to-wiki-changes/internal/adapter/upstream"
	"github.com/tajhlande/listen-to-wiki-changes/internal/adapter/wikistats"
	"github.com/tajhlande/listen-to-wiki-changes/internal/catalog"
	"github.com/tajhlande/listen-to-wiki-changes/internal/domain"
	"github.com/tajhlande/listen-to-wiki-changes/internal/platform/config"
	"github.com/tajhlande/listen-to-wiki-changes/internal/platform/logging"
	"github.com/tajhlande/listen-to-wiki-changes/internal/platform/version"
	"github.com/tajhlande/listen-to-wiki-changes/internal/refine"
	"github.com/tajhlande/listen-to-wiki-changes/internal/relay"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func setupConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

type backends struct {
	redis *goredis.Client
	cache catalog.SnapshotCache
}

// setupRedis connects the optional catalog snapshot cache. A Redis outage
// at startup degrades to fetching the listing directly.
func setupRedis(ctx context.Context, cfg *config.Config, breakers *metrics.BreakerMetrics, redisMetrics *metrics.RedisMetrics, cacheMetrics *metrics.CacheMetrics) backends {
	if cfg.RedisURL == "" {
		slog.Info("REDIS_URL not set, wiki listing cache disabled")
		return backends{}
	}

	client, err := redis.NewClient(ctx, cfg.RedisURL,
		redis.NewMetricsHook(redisMetrics),
		redis.NewCircuitBreakerHook(breakers.For("redis")),
	)
	if err != nil {
		slog.Warn("Redis unavailable, wiki listing cache disabled", "url", sanitizeURL(cfg.RedisURL), "error", err)
		return backends{}
	}
	slog.Info("Connected to Redis", "url", sanitizeURL(cfg.RedisURL))

	return backends{
		redis: client,
		cache: redis.NewCatalogCache(client, redis.DefaultCatalogKey, cacheMetrics),
	}
}

func loadCatalog(ctx context.Context, cfg *config.Config, cache catalog.SnapshotCache) (*catalog.Catalog, error) {
	source := wikistats.NewClient(cfg.CatalogURL, version.UserAgent(cfg.UserAgent), nil, wikistats.DefaultPolicy())
	loader := catalog.NewLoader(source, cache, cfg.CatalogCacheTTL)

	cat, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load wiki catalog: %w", err)
	}
	slog.Info("Wiki catalog ready", "wikis", cat.Len(), "types", len(cat.Types()), "languages", len(cat.Languages()))
	return cat, nil
}

func runServe(ctx context.Context) error {
	cfg, err := setupConfig()
	if err != nil {
		return err
	}
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().Version)

	clock := clockwork.NewRealClock()
	reg := metrics.NewRegistry()
	breakerMetrics := metrics.NewBreakerMetrics(reg)
	relayMetrics := metrics.NewRelayMetrics(reg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	be := setupRedis(ctx, cfg, breakerMetrics, metrics.NewRedisMetrics(reg), metrics.NewCacheMetrics(reg))
	if be.redis != nil {
		defer func() { _ = be.redis.Close() }()
	}

	cat, err := loadCatalog(ctx, cfg, be.cache)
	if err != nil {
		return err
	}

	hub := relay.NewHub(relay.HubConfig{
		QueueCapacity:     cfg.QueueCapacity,
		KeepAliveInterval: cfg.KeepAliveInterval,
	}, clock, relayMetrics)

	dialer := upstream.NewDialer(upstream.Config{
		URL:       cfg.UpstreamURL,
		UserAgent: version.UserAgent(cfg.UserAgent),
	}, nil, breakerMetrics.For("upstream"))

	controller := relay.NewController(hub, dialer, refine.New(cat), clock, relay.ControllerConfig{
		GracePeriod:    cfg.GracePeriod,
		PollInterval:   cfg.PollInterval,
		ReconnectDelay: cfg.ReconnectDelay,
	})

	healthChecks := []httpserver.HealthCheck{{
		Name: "catalog",
		Check: func(context.Context) error {
			if cat.Len() == 0 {
				return domain.ErrCatalogEmpty
			}
			return nil
		},
	}}
	if be.redis != nil {
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return be.redis.Ping(ctx).Err() },
		})
	}

	srv := httpserver.NewServer(cfg, httpserver.Dependencies{
		Hub:          hub,
		Catalog:      cat,
		Registry:     reg,
		HealthChecks: healthChecks,
		Clock:        clock,
	})

	controllerDone := make(chan struct{})
	go func() {
		defer close(controllerDone)
		controller.Run(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received, cleaning up...")
	case err = <-serverErr:
		slog.Error("Server error", "error", err)
		stop()
	}

	// Ending every stream first lets Shutdown drain the long-lived requests.
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Error("Server shutdown error", "error", shutdownErr)
	}
	<-controllerDone

	slog.Info("Shutdown complete")
	return err
}
