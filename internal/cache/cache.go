// Package cache stores fetched schema documents between client runs.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned when a key is not cached or has expired
var ErrMiss = errors.New("cache miss")

// Cache is the storage used for the meta_api document
type Cache interface {
	// Get retrieves a value, returning ErrMiss if absent
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with a TTL; zero means the backend default
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value
	Delete(ctx context.Context, key string) error

	// Close releases background resources
	Close() error
}

// Backend names accepted by Open
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Options selects and configures a cache backend
type Options struct {
	Backend    string
	DefaultTTL time.Duration
	Prefix     string
	Redis      RedisOptions
}

// DefaultPrefix namespaces cache keys
const DefaultPrefix = "adhocracy:"

// Open builds the cache selected by opts.Backend
func Open(opts Options) (Cache, error) {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	switch opts.Backend {
	case "", BackendNone:
		return Nop{}, nil
	case BackendMemory:
		return NewMemory(opts.Prefix, opts.DefaultTTL), nil
	case BackendRedis:
		return NewRedis(opts.Redis, opts.Prefix, opts.DefaultTTL)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

// Nop never stores anything
type Nop struct{}

func (Nop) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, fmt.Errorf("%w: %s", ErrMiss, key)
}

func (Nop) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (Nop) Delete(ctx context.Context, key string) error {
	return nil
}

func (Nop) Close() error {
	return nil
}
