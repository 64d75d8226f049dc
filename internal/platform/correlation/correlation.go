// Package correlation tags contexts with request and subscriber identifiers
// and injects them into every log record written through Handler.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

// HeaderName is read on inbound requests and echoed on responses.
const HeaderName = "X-Request-ID"

const maxHeaderIDLen = 64

type (
	requestKey    struct{}
	subscriberKey struct{}
)

// NewID generates an 8-character hex ID (4 random bytes).
func NewID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// FromHeader reuses a client-supplied request ID when it is short and
// printable, and mints a fresh one otherwise.
func FromHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || len(value) > maxHeaderIDLen {
		return NewID()
	}
	for _, r := range value {
		if r < 0x21 || r > 0x7e {
			return NewID()
		}
	}
	return value
}

func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestKey{}, id)
}

func ID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestKey{}).(string)
	return id, ok && id != ""
}

// WithSubscriber marks ctx as belonging to one relay subscription.
func WithSubscriber(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, subscriberKey{}, id)
}

func Subscriber(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(subscriberKey{}).(string)
	return id, ok && id != ""
}

// Handler wraps an slog.Handler and adds "request_id" and "subscriber_id"
// attributes when the context carries them.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ID(ctx); ok {
		r.AddAttrs(slog.String("request_id", id))
	}
	if id, ok := Subscriber(ctx); ok {
		r.AddAttrs(slog.String("subscriber_id", id))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
