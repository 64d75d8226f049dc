package domain

import "context"

// UpstreamSession yields raw JSON payloads from one upstream connection.
// Next returns ErrUpstreamClosed (possibly wrapped) when the feed ends.
type UpstreamSession interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

type UpstreamDialer interface {
	Dial(ctx context.Context) (UpstreamSession, error)
}
