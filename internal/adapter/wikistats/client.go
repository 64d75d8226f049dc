// Package wikistats downloads the Wikimedia wiki listing CSV.
package wikistats

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tajhlande/listen-to-wiki-changes/internal/platform/retry"
)

const maxListingBytes = 16 << 20

// StatusError reports a non-200 response from the listing service.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("wikistats responded with status %d", e.Code)
}

func (e *StatusError) StatusCode() int { return e.Code }

// Client fetches the listing with retries. It satisfies catalog.Source.
type Client struct {
	url       string
	userAgent string
	http      *http.Client
	policy    retry.Policy
}

// DefaultPolicy retries three times with exponential backoff.
func DefaultPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:      3,
		InitialBackoff:   time.Second,
		MaxBackoff:       10 * time.Second,
		RateLimitBackoff: 30 * time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Wiki listing fetch failed, retrying",
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
			)
		},
	}
}

// NewClient returns a Client. A nil httpClient uses a 30s timeout client.
func NewClient(url, userAgent string, httpClient *http.Client, policy retry.Policy) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{url: url, userAgent: userAgent, http: httpClient, policy: policy}
}

func (c *Client) Fetch(ctx context.Context) ([]byte, error) {
	slog.Info("Loading wiki list", "url", c.url)
	return retry.Do(ctx, c.policy, retry.ClassifyHTTP, c.fetchOnce)
}

func (c *Client) fetchOnce(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build wikistats request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/csv, text/plain;q=0.9, */*;q=0.1")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wikistats request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingBytes))
	if err != nil {
		return nil, fmt.Errorf("read wikistats response: %w", err)
	}
	return body, nil
}
