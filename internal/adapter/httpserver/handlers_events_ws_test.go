package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tajhlande/listen-to-wiki-changes/internal/platform/config"
)

func dialWS(t *testing.T, srv *httptest.Server, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events/ws?" + query
	return websocket.DefaultDialer.Dial(url, header)
}

func TestHandleEventsWS_DeliversFramesAndPings(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.Handler())
	defer srv.Close()

	conn, _, err := dialWS(t, srv, "types=wiktionary", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	ts.waitForSubscribers(t, 1)
	ts.hub.Publish(refined("en_wikipedia", "wikipedia", "English", "Skipped"))
	ts.hub.Publish(refined("en_wiktionary", "wiktionary", "English", "word"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	msgType, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)

	var frame struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(payload, &frame))
	assert.Equal(t, "wiki_event", frame.Event)
	assert.Equal(t, "en_wiktionary", frame.Data["code"])

	pings := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.clock.BlockUntilContext(ctx, 1))
	ts.clock.Advance(testKeepAlive)

	select {
	case <-pings:
	case <-ctx.Done():
		t.Fatal("no keep-alive ping received")
	}

	require.NoError(t, conn.Close())
	ts.waitForSubscribers(t, 0)
}

func TestHandleEventsWS_RejectsMissingFilterBeforeUpgrade(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.Handler())
	defer srv.Close()

	_, resp, err := dialWS(t, srv, "", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, ts.hub.Count())
}

func TestCheckOrigin(t *testing.T) {
	ts := newTestServer(t, withConfig(func(c *config.Config) {
		c.CORSAllowedOrigins = []string{"https://wiki.example.org"}
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/events/ws", nil)
	assert.True(t, ts.checkOrigin(req), "no Origin header")

	req.Header.Set("Origin", "https://wiki.example.org")
	assert.True(t, ts.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, ts.checkOrigin(req))
}

func TestCheckOrigin_LocalhostOnlyInDevelopment(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/events/ws", nil)
	req.Header.Set("Origin", "http://localhost:5173")

	dev := newTestServer(t, withConfig(func(c *config.Config) {
		c.AppEnv = "development"
		c.CORSAllowedOrigins = []string{"https://wiki.example.org"}
	}))
	assert.True(t, dev.checkOrigin(req))

	prod := newTestServer(t, withConfig(func(c *config.Config) {
		c.AppEnv = "production"
		c.CORSAllowedOrigins = []string{"https://wiki.example.org"}
	}))
	assert.False(t, prod.checkOrigin(req))
}
