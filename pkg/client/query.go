package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/schema"

	"github.com/adhocracy/adhocracy-client/pkg/preliminary"
	"github.com/adhocracy/adhocracy-client/pkg/resource"
	"github.com/adhocracy/adhocracy-client/pkg/transport"
)

var schemaEncoder = schema.NewEncoder()

// PoolQuery filters the listing of a pool
type PoolQuery struct {
	ContentType string `schema:"content_type,omitempty"`
	Depth       string `schema:"depth,omitempty"`
	// Elements is one of "paths", "content" or "omit"
	Elements string `schema:"elements,omitempty"`
	Count    bool   `schema:"count,omitempty"`
	Limit    int    `schema:"limit,omitempty"`
	Offset   int    `schema:"offset,omitempty"`
	Sort     string `schema:"sort,omitempty"`
	Reverse  bool   `schema:"reverse,omitempty"`
	Tag      string `schema:"tag,omitempty"`
}

// GetWithParams fetches path with params encoded as query string. params
// must be a struct (or pointer to one) with schema tags, such as PoolQuery.
func (c *Client) GetWithParams(ctx context.Context, path string, params interface{}) (*resource.Resource, error) {
	query := url.Values{}
	if params != nil {
		if err := schemaEncoder.Encode(params, query); err != nil {
			return nil, fmt.Errorf("failed to encode query: %w", err)
		}
	}
	return c.GetWithQuery(ctx, path, query)
}

// GetWithQuery fetches path with a raw query string
func (c *Client) GetWithQuery(ctx context.Context, path string, query url.Values) (*resource.Resource, error) {
	if preliminary.IsPreliminary(path) {
		return nil, fmt.Errorf("%w: %s", ErrPreliminaryPath, path)
	}
	return c.do(ctx, &transport.Request{Method: http.MethodGet, Path: path, Query: query})
}
