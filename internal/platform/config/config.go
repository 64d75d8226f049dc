package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8000"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	UpstreamURL string `env:"UPSTREAM_URL" default:"https://stream.wikimedia.org/v2/stream/recentchange"`
	CatalogURL  string `env:"CATALOG_URL" default:"https://wikistats.wmcloud.org/wikimedias_csv.php"`
	UserAgent   string `env:"USER_AGENT" default:"listen-to-wiki-changes/%s (https://listen-to-wiki-changes.toolforge.org/)"`

	QueueCapacity      int           `env:"QUEUE_CAPACITY" default:"100"`
	GracePeriod        time.Duration `env:"GRACE_PERIOD" default:"30s"`
	PollInterval       time.Duration `env:"POLL_INTERVAL" default:"5s"`
	KeepAliveInterval  time.Duration `env:"KEEPALIVE_INTERVAL" default:"15s"`
	ReconnectDelay     time.Duration `env:"RECONNECT_DELAY" default:"5s"`
	HealthCheckTimeout time.Duration `env:"HEALTH_CHECK_TIMEOUT" default:"30s"`

	RedisURL        string        `env:"REDIS_URL"`
	CatalogCacheTTL time.Duration `env:"CATALOG_CACHE_TTL" default:"24h"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" default:"*"`
	StaticDir          string   `env:"STATIC_DIR" default:"web_app/dist"`

	MaxStreams      int     `env:"MAX_STREAMS" default:"10000"`
	MaxStreamsPerIP int     `env:"MAX_STREAMS_PER_IP" default:"20"`
	EventsRateLimit float64 `env:"EVENTS_RATE_LIMIT" default:"2"`
	EventsRateBurst int     `env:"EVENTS_RATE_BURST" default:"10"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, &env.Options{SliceSep: ","}); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	urls := map[string]string{
		"UPSTREAM_URL": cfg.UpstreamURL,
		"CATALOG_URL":  cfg.CatalogURL,
	}
	for name, value := range urls {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
		u, err := url.Parse(value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s must be an absolute http(s) URL", name)
		}
	}

	if cfg.QueueCapacity < 1 {
		return errors.New("QUEUE_CAPACITY must be at least 1")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"GRACE_PERIOD", cfg.GracePeriod},
		{"POLL_INTERVAL", cfg.PollInterval},
		{"KEEPALIVE_INTERVAL", cfg.KeepAliveInterval},
		{"RECONNECT_DELAY", cfg.ReconnectDelay},
		{"HEALTH_CHECK_TIMEOUT", cfg.HealthCheckTimeout},
		{"CATALOG_CACHE_TTL", cfg.CatalogCacheTTL},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}

	if cfg.ReconnectDelay > cfg.GracePeriod {
		return errors.New("RECONNECT_DELAY must not exceed GRACE_PERIOD")
	}

	if cfg.MaxStreams < 1 || cfg.MaxStreamsPerIP < 1 {
		return errors.New("MAX_STREAMS and MAX_STREAMS_PER_IP must be at least 1")
	}
	if cfg.EventsRateLimit <= 0 || cfg.EventsRateBurst < 1 {
		return errors.New("EVENTS_RATE_LIMIT must be positive and EVENTS_RATE_BURST at least 1")
	}

	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	return nil
}
