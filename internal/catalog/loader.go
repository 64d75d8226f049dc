package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tajhlande/listen-to-wiki-changes/internal/domain"
)

// Source fetches the raw wiki listing.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// SnapshotCache stores a previously fetched listing so restarts do not hit
// the listing service.
type SnapshotCache interface {
	Get(ctx context.Context) ([]byte, bool, error)
	Set(ctx context.Context, data []byte, ttl time.Duration) error
}

// Loader builds a Catalog from a cached snapshot when one exists and from
// the source otherwise.
type Loader struct {
	source Source
	cache  SnapshotCache
	ttl    time.Duration
}

// NewLoader returns a Loader. cache may be nil.
func NewLoader(source Source, cache SnapshotCache, ttl time.Duration) *Loader {
	return &Loader{source: source, cache: cache, ttl: ttl}
}

func (l *Loader) Load(ctx context.Context) (*Catalog, error) {
	if l.cache != nil {
		if cat, ok := l.fromCache(ctx); ok {
			return cat, nil
		}
	}

	data, err := l.source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch wiki listing: %w", err)
	}
	cat, err := Build(data)
	if err != nil {
		return nil, err
	}
	if cat.Rows() == 0 {
		return nil, domain.ErrCatalogEmpty
	}

	if l.cache != nil {
		if err := l.cache.Set(ctx, data, l.ttl); err != nil {
			slog.Warn("Failed to cache wiki listing", "error", err)
		}
	}
	return cat, nil
}

func (l *Loader) fromCache(ctx context.Context) (*Catalog, bool) {
	data, ok, err := l.cache.Get(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("Wiki listing cache unavailable", "error", err)
		}
		return nil, false
	}
	if !ok {
		slog.Debug("Wiki listing cache miss")
		return nil, false
	}

	cat, err := Build(data)
	if err != nil || cat.Rows() == 0 {
		slog.Warn("Ignoring unusable cached wiki listing", "error", err)
		return nil, false
	}
	slog.Info("Loaded wiki listing from cache", "wikis", cat.Len())
	return cat, true
}
