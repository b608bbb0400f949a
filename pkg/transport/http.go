package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adhocracy/adhocracy-client/internal/metrics"
)

// Header names understood by the backend
const (
	HeaderRequestID = "X-Request-ID"
	HeaderUserToken = "X-User-Token"
	HeaderUserPath  = "X-User-Path"
)

// DefaultTimeout bounds a single round trip
const DefaultTimeout = 30 * time.Second

// HTTPTransport implements Transport over net/http
type HTTPTransport struct {
	client    *http.Client
	baseURL   *url.URL
	header    http.Header
	logger    *zap.Logger
	metrics   *metrics.Metrics
	requestID func() string
}

// Option configures an HTTPTransport
type Option func(*HTTPTransport)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTPTransport) {
		t.client = c
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) {
		t.client.Timeout = d
	}
}

// WithHeader adds a static header to every request
func WithHeader(key, value string) Option {
	return func(t *HTTPTransport) {
		t.header.Set(key, value)
	}
}

// WithAuth sets the session headers. Empty values are skipped.
func WithAuth(token, userPath string) Option {
	return func(t *HTTPTransport) {
		if token != "" {
			t.header.Set(HeaderUserToken, token)
		}
		if userPath != "" {
			t.header.Set(HeaderUserPath, userPath)
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = l
	}
}

// WithMetrics enables request instrumentation
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *HTTPTransport) {
		t.metrics = m
	}
}

// WithRequestIDGenerator replaces the UUID request ID generator
func WithRequestIDGenerator(gen func() string) Option {
	return func(t *HTTPTransport) {
		t.requestID = gen
	}
}

// NewHTTP creates a transport rooted at baseURL. Relative request paths are
// resolved against it; absolute URLs (as returned by the backend) are used
// as they are.
func NewHTTP(baseURL string, opts ...Option) (*HTTPTransport, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url: %q must be absolute", baseURL)
	}

	t := &HTTPTransport{
		client:    &http.Client{Timeout: DefaultTimeout},
		baseURL:   u,
		header:    make(http.Header),
		logger:    zap.NewNop(),
		requestID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// URL resolves a request path against the base URL
func (t *HTTPTransport) URL(path string, query url.Values) (string, error) {
	var u *url.URL
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		parsed, err := url.Parse(path)
		if err != nil {
			return "", fmt.Errorf("invalid path %q: %w", path, err)
		}
		u = parsed
	} else {
		c := *t.baseURL
		c.Path = strings.TrimSuffix(t.baseURL.Path, "/") + "/" + strings.TrimPrefix(path, "/")
		c.RawPath = ""
		u = &c
	}

	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Do performs the request
func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	target, err := t.URL(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range t.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	requestID := t.requestID()
	httpReq.Header.Set(HeaderRequestID, requestID)

	start := time.Now()
	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		t.metrics.ObserveRequest(req.Method, 0, time.Since(start))
		t.logger.Debug("request failed",
			zap.String("method", req.Method),
			zap.String("url", target),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	duration := time.Since(start)
	t.metrics.ObserveRequest(req.Method, httpResp.StatusCode, duration)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	t.logger.Debug("request completed",
		zap.String("method", req.Method),
		zap.String("url", target),
		zap.String("request_id", requestID),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("duration", duration),
	)

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       decodeBody(raw),
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return resp, &StatusError{Method: req.Method, Path: req.Path, Response: resp}
	}
	return resp, nil
}

// decodeBody decodes JSON, falling back to the raw text
func decodeBody(raw []byte) interface{} {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return string(raw)
	}
	return v
}
