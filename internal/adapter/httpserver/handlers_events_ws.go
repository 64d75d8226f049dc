package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/tajhlande/listen-to-wiki-changes/internal/domain"
	"github.com/tajhlande/listen-to-wiki-changes/internal/platform/correlation"
	apperrors "github.com/tajhlande/listen-to-wiki-changes/internal/platform/errors"
	"github.com/tajhlande/listen-to-wiki-changes/internal/relay"
)

const (
	wsWriteDeadline = 5 * time.Second
	wsMinPongWait   = 60 * time.Second
	wsMaxReadBytes  = 512
)

type wsFrame struct {
	Event string              `json:"event"`
	Data  domain.RefinedEvent `json:"data"`
}

// handleEventsWS serves the same filtered stream as handleEvents over a
// WebSocket. Keep-alives are pings; a client that stops answering pings
// or closes the socket ends the stream.
func (s *Server) handleEventsWS(c echo.Context) error {
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
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		slog.DebugContext(c.Request().Context(), "WebSocket upgrade failed", "error", err)
		return nil
	}

	ctx, cancel := context.WithCancel(correlation.WithSubscriber(c.Request().Context(), sub.ID()))
	defer cancel()

	s.streamMetrics.Active.WithLabelValues("ws").Inc()
	defer s.streamMetrics.Active.WithLabelValues("ws").Dec()

	sink := newWSSink(conn, s.pongWait())
	go sink.readPump(cancel)

	slog.InfoContext(ctx, "Event stream opened", "transport", "ws", "remote_ip", c.RealIP())
	err = sub.Stream(ctx, sink)
	sink.close("stream ended")
	logStreamEnd(ctx, "ws", err)
	return nil
}

// pongWait allows at least three keep-alive intervals for a pong.
func (s *Server) pongWait() time.Duration {
	return max(wsMinPongWait, 3*s.config.KeepAliveInterval)
}

// wsSink writes stream items to one connection. Only the stream goroutine
// writes; readPump only reads, so gorilla's one-writer rule holds. Socket
// deadlines are wall-clock times.
type wsSink struct {
	conn     *websocket.Conn
	pongWait time.Duration
}

var _ relay.Sink = (*wsSink)(nil)

func newWSSink(conn *websocket.Conn, pongWait time.Duration) *wsSink {
	w := &wsSink{conn: conn, pongWait: pongWait}
	conn.SetReadLimit(wsMaxReadBytes)
	w.updateReadDeadline()
	conn.SetPongHandler(func(string) error {
		w.updateReadDeadline()
		return nil
	})
	return w
}

func (w *wsSink) SendEvent(_ context.Context, ev domain.RefinedEvent) error {
	msg, err := json.Marshal(wsFrame{Event: sseEventName, Data: ev})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	w.updateWriteDeadline()
	return w.conn.WriteMessage(websocket.TextMessage, msg)
}

func (w *wsSink) SendKeepAlive(context.Context) error {
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteDeadline))
}

// readPump drains client frames so control frames are processed, and
// cancels the stream when the connection fails or the client closes it.
func (w *wsSink) readPump(cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// close sends a normal close frame and closes the connection.
func (w *wsSink) close(reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteDeadline))
	_ = w.conn.Close()
}

func (w *wsSink) updateWriteDeadline() {
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
}

func (w *wsSink) updateReadDeadline() {
	_ = w.conn.SetReadDeadline(time.Now().Add(w.pongWait))
}
