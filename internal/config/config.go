// Package config loads adhocracyctl settings from adhocracy.yml, ADHOCRACY_*
// environment variables and command line overrides.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/adhocracy/adhocracy-client/internal/cache"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "ADHOCRACY"

var validate = validator.New()

func init() {
	// Report fields by their config key rather than the Go field name
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Config is the full client configuration
type Config struct {
	Backend BackendConfig `mapstructure:"backend"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Log     LogConfig     `mapstructure:"log"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Mock    MockConfig    `mapstructure:"mock"`
}

// BackendConfig locates the backend
type BackendConfig struct {
	URL         string        `mapstructure:"url" validate:"required,url"`
	BatchPath   string        `mapstructure:"batch_path" validate:"required,startswith=/"`
	MetaAPIPath string        `mapstructure:"meta_api_path" validate:"required,startswith=/"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// AuthConfig holds the session sent with every request
type AuthConfig struct {
	Token    string `mapstructure:"token"`
	UserPath string `mapstructure:"user_path"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

// CacheConfig configures where the meta_api document is cached
type CacheConfig struct {
	Backend string        `mapstructure:"backend" validate:"oneof=none memory redis"`
	TTL     time.Duration `mapstructure:"ttl" validate:"gte=0"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds redis connection settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// RetryConfig tunes no-fork version posting
type RetryConfig struct {
	NoForkAttempts int           `mapstructure:"no_fork_attempts" validate:"gte=1"`
	Backoff        time.Duration `mapstructure:"backoff" validate:"gte=0"`
}

// MetricsConfig toggles prometheus instrumentation
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// MockConfig configures the development backend
type MockConfig struct {
	Addr              string `mapstructure:"addr" validate:"required"`
	Driver            string `mapstructure:"driver" validate:"oneof=memory sqlite3 pgx postgres"`
	DSN               string `mapstructure:"dsn"`
	SchemaFile        string `mapstructure:"schema_file"`
	LegacyErrorTuples bool   `mapstructure:"legacy_error_tuples"`
}

// CacheOptions converts the cache section for cache.Open
func (c CacheConfig) CacheOptions() cache.Options {
	return cache.Options{
		Backend:    c.Backend,
		DefaultTTL: c.TTL,
		Redis: cache.RedisOptions{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.url", "http://localhost:6541")
	v.SetDefault("backend.batch_path", "/batch")
	v.SetDefault("backend.meta_api_path", "/meta_api")
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("auth.token", "")
	v.SetDefault("auth.user_path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("cache.backend", cache.BackendMemory)
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("cache.redis.addr", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("retry.no_fork_attempts", 5)
	v.SetDefault("retry.backoff", 250*time.Millisecond)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("mock.addr", ":6541")
	v.SetDefault("mock.driver", "memory")
	v.SetDefault("mock.dsn", "")
	v.SetDefault("mock.schema_file", "")
	v.SetDefault("mock.legacy_error_tuples", false)
}

// Load reads the configuration. With an empty path, adhocracy.yml or
// adhocracy.yaml is looked up in the working directory and its absence is
// not an error. overrides take precedence over every other source; empty
// string values are ignored.
func Load(path string, overrides map[string]interface{}) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("adhocracy")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for key, value := range overrides {
		if s, ok := value.(string); ok && s == "" {
			continue
		}
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateConfig runs the struct tags and the checks spanning several keys
func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var valErrs validator.ValidationErrors
		if errors.As(err, &valErrs) {
			messages := make([]string, 0, len(valErrs))
			for _, ve := range valErrs {
				messages = append(messages, configKey(ve)+": "+formatValidationError(ve))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(messages, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Cache.Backend == cache.BackendRedis && cfg.Cache.Redis.Addr == "" {
		return fmt.Errorf("invalid config: cache.redis.addr is required when cache.backend is redis")
	}
	if cfg.Mock.Driver != "memory" && cfg.Mock.DSN == "" {
		return fmt.Errorf("invalid config: mock.dsn is required for driver %s", cfg.Mock.Driver)
	}
	if strings.HasSuffix(cfg.Backend.URL, "/") {
		cfg.Backend.URL = strings.TrimSuffix(cfg.Backend.URL, "/")
	}
	return nil
}

// configKey turns "Config.backend.url" into "backend.url"
func configKey(ve validator.FieldError) string {
	ns := ve.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return ns
}

func formatValidationError(ve validator.FieldError) string {
	switch ve.Tag() {
	case "required":
		return "required"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", ve.Param())
	case "startswith":
		return fmt.Sprintf("must start with %q", ve.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", ve.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", ve.Param())
	default:
		if ve.Param() != "" {
			return fmt.Sprintf("failed %s=%s validation", ve.Tag(), ve.Param())
		}
		return fmt.Sprintf("failed %s validation", ve.Tag())
	}
}
