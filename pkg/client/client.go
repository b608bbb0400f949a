// Package client is the entry point for talking to an adhocracy backend. It
// sends single requests, walks the version graph, and opens transactions for
// batched writes.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/adhocracy/adhocracy-client/internal/metrics"
	"github.com/adhocracy/adhocracy-client/pkg/apierrors"
	"github.com/adhocracy/adhocracy-client/pkg/convert"
	"github.com/adhocracy/adhocracy-client/pkg/metaapi"
	"github.com/adhocracy/adhocracy-client/pkg/preliminary"
	"github.com/adhocracy/adhocracy-client/pkg/resource"
	"github.com/adhocracy/adhocracy-client/pkg/transaction"
	"github.com/adhocracy/adhocracy-client/pkg/transport"
)

var (
	// ErrUnresolvable is returned by Resolve for values that are neither a
	// path nor a resource
	ErrUnresolvable = errors.New("value is neither a path nor a resource")
	// ErrPreliminaryPath is returned when a preliminary path is requested
	// outside the transaction that minted it
	ErrPreliminaryPath = errors.New("preliminary path cannot be fetched")
)

// Client sends requests to the backend. It holds no state besides its
// dependencies and is safe for concurrent use.
type Client struct {
	transport transport.Transport
	meta      *metaapi.Query
	logger    *zap.Logger
	metrics   *metrics.Metrics
	batchPath string
	retry     RetryConfig
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger backend errors are reported to
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics records backend errors and commits in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithBatchPath sets the batch endpoint used by transactions
func WithBatchPath(path string) Option {
	return func(c *Client) {
		c.batchPath = path
	}
}

// WithRetry configures PostNewVersionNoFork
func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// New creates a client. meta is shared read-only by the client and every
// transaction it opens.
func New(t transport.Transport, meta *metaapi.Query, opts ...Option) *Client {
	c := &Client{
		transport: t,
		meta:      meta,
		logger:    zap.NewNop(),
		batchPath: transaction.DefaultBatchPath,
		retry:     DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Meta returns the schema the client filters writes with
func (c *Client) Meta() *metaapi.Query {
	return c.meta
}

// Get fetches the resource at path
func (c *Client) Get(ctx context.Context, path string) (*resource.Resource, error) {
	if preliminary.IsPreliminary(path) {
		return nil, fmt.Errorf("%w: %s", ErrPreliminaryPath, path)
	}
	return c.do(ctx, &transport.Request{Method: http.MethodGet, Path: path})
}

// Put replaces the writable fields of the resource at path
func (c *Client) Put(ctx context.Context, path string, r *resource.Resource) (*resource.Resource, error) {
	body, err := convert.ExportContent(c.meta, r)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, &transport.Request{Method: http.MethodPut, Path: path, Body: body})
}

// Post creates r inside the container at path
func (c *Client) Post(ctx context.Context, path string, r *resource.Resource) (*resource.Resource, error) {
	body, err := convert.ExportContent(c.meta, r)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, &transport.Request{Method: http.MethodPost, Path: path, Body: body})
}

// PostToPool creates r inside the pool at poolPath
func (c *Client) PostToPool(ctx context.Context, poolPath string, r *resource.Resource) (*resource.Resource, error) {
	return c.Post(ctx, poolPath, r)
}

// Resolve normalizes "a path or an already fetched resource" into a
// resource. Strings are fetched, resources are returned unchanged and
// generic JSON objects are decoded without a round trip.
func (c *Client) Resolve(ctx context.Context, v interface{}) (*resource.Resource, error) {
	switch x := v.(type) {
	case string:
		return c.Get(ctx, x)
	case *resource.Resource:
		if x == nil {
			return nil, ErrUnresolvable
		}
		return x, nil
	case resource.Resource:
		return &x, nil
	case map[string]interface{}:
		return resource.FromObject(x)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnresolvable, v)
	}
}

// Allowed is the reply to an OPTIONS request
type Allowed struct {
	// Methods lists the permitted HTTP methods, sorted
	Methods []string
	// Body is the backend's per-method description, if any
	Body map[string]interface{}
}

// Can reports whether method is permitted
func (a *Allowed) Can(method string) bool {
	for _, m := range a.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// Options asks the backend which methods the current user may use on path
func (c *Client) Options(ctx context.Context, path string) (*Allowed, error) {
	req := &transport.Request{Method: http.MethodOptions, Path: path}
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return nil, c.requestError(req, err)
	}

	allowed := &Allowed{}
	if body, ok := resp.Body.(map[string]interface{}); ok {
		allowed.Body = body
		for key := range body {
			if key == strings.ToUpper(key) {
				allowed.Methods = append(allowed.Methods, key)
			}
		}
	}
	if len(allowed.Methods) == 0 && resp.Header != nil {
		for _, m := range strings.Split(resp.Header.Get("Allow"), ",") {
			if m = strings.TrimSpace(m); m != "" {
				allowed.Methods = append(allowed.Methods, strings.ToUpper(m))
			}
		}
	}
	sort.Strings(allowed.Methods)
	return allowed, nil
}

func (c *Client) do(ctx context.Context, req *transport.Request) (*resource.Resource, error) {
	start := time.Now()
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return nil, c.requestError(req, err)
	}

	r, err := convert.ImportResource(resp)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}

	c.logger.Debug("request completed",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Duration("duration", time.Since(start)),
	)
	return r, nil
}

// requestError logs backend error payloads and passes transport failures
// through with request context
func (c *Client) requestError(req *transport.Request, err error) error {
	var statusErr *transport.StatusError
	if errors.As(err, &statusErr) && statusErr.Response != nil {
		c.metrics.BackendError("single")
		return apierrors.LogBackendError(c.logger.With(
			zap.String("method", req.Method),
			zap.String("path", req.Path),
		), statusErr.Response)
	}
	return fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
}
