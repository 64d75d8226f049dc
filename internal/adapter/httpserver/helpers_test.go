package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/tajhlande/listen-to-wiki-changes/internal/catalog"
	"github.com/tajhlande/listen-to-wiki-changes/internal/domain"
	"github.com/tajhlande/listen-to-wiki-changes/internal/platform/config"
	"github.com/tajhlande/listen-to-wiki-changes/internal/relay"
)

const (
	testKeepAlive = time.Second
	testListing   = "rank,prefix,type,language,loclang\n" +
		"1,en,wikipedia,English,English\n" +
		"2,fr,wikipedia,French,Français\n" +
		"3,en,wiktionary,English,English\n" +
		"4,commons.wikimedia.org,special,Multilingual,Multilingual\n"
)

type testServer struct {
	*Server
	hub   *relay.Hub
	clock *clockwork.FakeClock
}

type serverOption func(*config.Config, *Dependencies)

func withHealthChecks(checks ...HealthCheck) serverOption {
	return func(_ *config.Config, d *Dependencies) {
		d.HealthChecks = checks
	}
}

func withConfig(fn func(*config.Config)) serverOption {
	return func(c *config.Config, _ *Dependencies) {
		fn(c)
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		QueueCapacity:      16,
		KeepAliveInterval:  testKeepAlive,
		HealthCheckTimeout: 2 * time.Second,
		CORSAllowedOrigins: []string{"*"},
		MaxStreams:         10,
		MaxStreamsPerIP:    5,
		EventsRateLimit:    100,
		EventsRateBurst:    100,
	}
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	cat, err := catalog.Build([]byte(testListing))
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	cfg := testConfig()
	hub := relay.NewHub(relay.HubConfig{QueueCapacity: cfg.QueueCapacity, KeepAliveInterval: cfg.KeepAliveInterval}, clock, nil)
	t.Cleanup(hub.Close)

	deps := Dependencies{
		Hub:      hub,
		Catalog:  cat,
		Registry: prometheus.NewRegistry(),
		Clock:    clock,
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}

	return &testServer{Server: NewServer(cfg, deps), hub: hub, clock: clock}
}

func (ts *testServer) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = testRemoteAddr
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) waitForSubscribers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return ts.hub.Count() == n }, 2*time.Second, 5*time.Millisecond)
}

func refined(code, wikiType, language, title string) domain.RefinedEvent {
	return domain.RefinedEvent{
		ID:        json.RawMessage(`1`),
		Domain:    "example.org",
		WikiType:  wikiType,
		EventType: domain.EventEdit,
		Code:      code,
		Language:  language,
		Title:     title,
		Timestamp: json.RawMessage(`1700000000`),
		User:      "Alice",
		Bot:       json.RawMessage(`false`),
	}
}

type matchNothing struct{}

func (matchNothing) Matches(domain.RefinedEvent) bool { return false }

func writeFile(dir, name, content string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600)
}
