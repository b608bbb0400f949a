package metaapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/adhocracy/adhocracy-client/internal/cache"
	"github.com/adhocracy/adhocracy-client/pkg/transport"
)

const (
	// DefaultPath is where the backend serves the schema document
	DefaultPath = "/meta_api"
	// CacheKey is the cache entry holding the raw schema document
	CacheKey = "meta_api"
)

// Loader fetches the schema document once and keeps it in a cache
type Loader struct {
	transport transport.Transport
	cache     cache.Cache
	path      string
	ttl       time.Duration
	logger    *zap.Logger
}

// LoaderOption configures a Loader
type LoaderOption func(*Loader)

// WithCache stores fetched documents in c
func WithCache(c cache.Cache, ttl time.Duration) LoaderOption {
	return func(l *Loader) {
		l.cache = c
		l.ttl = ttl
	}
}

// WithPath overrides DefaultPath
func WithPath(path string) LoaderOption {
	return func(l *Loader) {
		l.path = path
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a loader reading through t
func NewLoader(t transport.Transport, opts ...LoaderOption) *Loader {
	l := &Loader{
		transport: t,
		cache:     cache.Nop{},
		path:      DefaultPath,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the schema, from cache when possible
func (l *Loader) Load(ctx context.Context) (*Query, error) {
	raw, err := l.cache.Get(ctx, CacheKey)
	switch {
	case err == nil:
		q, parseErr := Parse(raw)
		if parseErr == nil {
			l.logger.Debug("meta api loaded from cache")
			return q, nil
		}
		l.logger.Warn("discarding corrupt cached meta api", zap.Error(parseErr))
		if delErr := l.cache.Delete(ctx, CacheKey); delErr != nil {
			l.logger.Warn("failed to evict meta api", zap.Error(delErr))
		}
	case !errors.Is(err, cache.ErrMiss):
		l.logger.Warn("meta api cache unavailable", zap.Error(err))
	}

	return l.fetch(ctx)
}

func (l *Loader) fetch(ctx context.Context) (*Query, error) {
	resp, err := l.transport.Do(ctx, &transport.Request{Method: http.MethodGet, Path: l.path})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch meta api: %w", err)
	}
	if _, ok := resp.Body.(map[string]interface{}); !ok {
		return nil, fmt.Errorf("failed to fetch meta api: expected object, got %T", resp.Body)
	}

	raw, err := json.Marshal(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode meta api: %w", err)
	}
	q, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	if err := l.cache.Set(ctx, CacheKey, raw, l.ttl); err != nil {
		l.logger.Warn("failed to cache meta api", zap.Error(err))
	}
	l.logger.Info("meta api fetched",
		zap.Int("resources", len(q.resourceNames)),
		zap.Int("sheets", len(q.sheetNames)),
	)
	return q, nil
}
