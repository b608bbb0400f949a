package commands

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/adhocracy/adhocracy-client/internal/cache"
	"github.com/adhocracy/adhocracy-client/internal/config"
	"github.com/adhocracy/adhocracy-client/internal/logging"
	"github.com/adhocracy/adhocracy-client/internal/metrics"
	"github.com/adhocracy/adhocracy-client/pkg/client"
	"github.com/adhocracy/adhocracy-client/pkg/metaapi"
	"github.com/adhocracy/adhocracy-client/pkg/transport"
)

// app bundles everything a command needs to talk to the backend
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	cache    cache.Cache
	client   *client.Client
}

// loadConfig reads the configuration with the global flags and extra
// applied on top
func loadConfig(extra map[string]interface{}) (*config.Config, error) {
	overrides := make(map[string]interface{}, len(extra)+2)
	for k, v := range extra {
		overrides[k] = v
	}
	if globals.url != "" {
		overrides["backend.url"] = globals.url
	}
	if globals.logLevel != "" {
		overrides["log.level"] = globals.logLevel
	}
	return config.Load(globals.configFile, overrides)
}

// newBase sets up config, logging and metrics without contacting the backend
func newBase(extra map[string]interface{}) (*app, error) {
	cfg, err := loadConfig(extra)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.metrics = metrics.New()
		if err := a.metrics.Register(a.registry); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return a, nil
}

// newApp builds a ready client: the schema is loaded through the cache
// before the first command request is sent
func newApp(ctx context.Context) (*app, error) {
	a, err := newBase(nil)
	if err != nil {
		return nil, err
	}
	cfg := a.cfg

	a.cache, err = cache.Open(cfg.Cache.CacheOptions())
	if err != nil {
		a.close()
		return nil, err
	}

	tr, err := transport.NewHTTP(cfg.Backend.URL,
		transport.WithTimeout(cfg.Backend.Timeout),
		transport.WithAuth(cfg.Auth.Token, cfg.Auth.UserPath),
		transport.WithLogger(a.logger),
		transport.WithMetrics(a.metrics),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	loader := metaapi.NewLoader(tr,
		metaapi.WithPath(cfg.Backend.MetaAPIPath),
		metaapi.WithCache(a.cache, cfg.Cache.TTL),
		metaapi.WithLogger(a.logger),
	)
	meta, err := loader.Load(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	a.client = client.New(tr, meta,
		client.WithLogger(a.logger),
		client.WithMetrics(a.metrics),
		client.WithBatchPath(cfg.Backend.BatchPath),
		client.WithRetry(client.RetryConfig{
			MaxAttempts: cfg.Retry.NoForkAttempts,
			BaseBackoff: cfg.Retry.Backoff,
		}),
	)
	return a, nil
}

func (a *app) close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("failed to close cache", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
