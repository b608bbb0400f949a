// Package transport carries JSON requests to the backend and decodes the
// replies into generic values.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// ErrStatus is returned when the backend answers with a non-2xx status
var ErrStatus = errors.New("unexpected response status")

// Request is one backend call
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   interface{}
}

// Response is a decoded backend reply.
// Body holds the decoded JSON value, or the raw text if it was not JSON.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       interface{}
}

// Transport performs a single request. A non-2xx reply is returned together
// with a *StatusError so callers can inspect the error payload.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// StatusError wraps a response whose status signals failure
type StatusError struct {
	Method   string
	Path     string
	Response *Response
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Response.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return ErrStatus
}

// Func adapts a function to the Transport interface
type Func func(ctx context.Context, req *Request) (*Response, error)

// Do calls f
func (f Func) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
