package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/adhocracy/adhocracy-client/internal/testschema"
	"github.com/adhocracy/adhocracy-client/pkg/apierrors"
	"github.com/adhocracy/adhocracy-client/pkg/convert"
	"github.com/adhocracy/adhocracy-client/pkg/resource"
	"github.com/adhocracy/adhocracy-client/pkg/transaction"
	"github.com/adhocracy/adhocracy-client/pkg/transport"
)

type call struct {
	Method string
	Path   string
	Query  url.Values
	Body   map[string]interface{}
}

// fakeBackend records requests in their wire form and answers through
// handle, or with an empty resource echoing the path.
type fakeBackend struct {
	mu     sync.Mutex
	calls  []call
	handle func(c call) *transport.Response
}

func (f *fakeBackend) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := call{Method: req.Method, Path: req.Path, Query: req.Query}
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &c.Body); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, c)
	handle := f.handle
	f.mu.Unlock()

	var resp *transport.Response
	if handle != nil {
		resp = handle(c)
	}
	if resp == nil {
		resp = &transport.Response{StatusCode: 200, Body: map[string]interface{}{
			"content_type": "x", "path": req.Path, "data": map[string]interface{}{},
		}}
	}
	if resp.StatusCode >= 300 {
		return resp, &transport.StatusError{Method: req.Method, Path: req.Path, Response: resp}
	}
	return resp, nil
}

func (f *fakeBackend) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func errorResponse(name, description string) *transport.Response {
	return &transport.Response{StatusCode: 400, Body: map[string]interface{}{
		"status": "error",
		"errors": []interface{}{
			map[string]interface{}{"name": name, "location": "body", "description": description},
		},
	}}
}

func lastTag(heads ...string) *transport.Response {
	elements := make([]interface{}, len(heads))
	for i, h := range heads {
		elements[i] = h
	}
	return &transport.Response{StatusCode: 200, Body: map[string]interface{}{
		"content_type": testschema.Tag,
		"data": map[string]interface{}{
			resource.SheetTag: map[string]interface{}{"elements": elements},
		},
	}}
}

func newClient(t *testing.T, backend *fakeBackend, opts ...Option) *Client {
	t.Helper()
	return New(backend, testschema.Query(t), opts...)
}

func TestGet(t *testing.T) {
	backend := &fakeBackend{}
	c := newClient(t, backend)

	r, err := c.Get(context.Background(), "/proposals/p1")
	require.NoError(t, err)
	assert.Equal(t, "/proposals/p1", r.Path)

	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodGet, calls[0].Method)
	assert.Nil(t, calls[0].Body)
}

func TestGet_PreliminaryPath(t *testing.T) {
	backend := &fakeBackend{}
	c := newClient(t, backend)

	_, err := c.Get(context.Background(), "@pn1")
	assert.ErrorIs(t, err, ErrPreliminaryPath)
	assert.Empty(t, backend.Calls())
}

func TestGet_UnexpectedResponseType(t *testing.T) {
	backend := &fakeBackend{handle: func(c call) *transport.Response {
		return &transport.Response{StatusCode: 200, Body: "not-an-object"}
	}}
	c := newClient(t, backend)

	_, err := c.Get(context.Background(), "/x")
	assert.ErrorIs(t, err, convert.ErrUnexpectedResponseType)
}

func TestGet_BackendError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	backend := &fakeBackend{handle: func(c call) *transport.Response {
		return errorResponse("path", "Not found")
	}}
	c := newClient(t, backend, WithLogger(zap.New(core)))

	_, err := c.Get(context.Background(), "/missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrBackend)

	var backendErr *apierrors.BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, "Not found", backendErr.Errors[0].Description)

	entries := logs.FilterMessage("backend error").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "/missing", entries[0].ContextMap()["path"])
}

func TestGet_TransportError(t *testing.T) {
	c := New(transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	}), testschema.Query(t))

	_, err := c.Get(context.Background(), "/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GET /x")
	assert.False(t, errors.Is(err, apierrors.ErrBackend))
}

func TestPutAndPost_FilterBody(t *testing.T) {
	backend := &fakeBackend{}
	c := newClient(t, backend)

	r := resource.New(testschema.ProposalVersion)
	r.Path = "/proposals/p1/VERSION_0000001"
	r.Data[testschema.SheetDocument] = resource.Sheet{"title": "T"}
	r.Data[resource.SheetMetadata] = resource.Sheet{"creation_date": "2024-01-01"}

	_, err := c.Put(context.Background(), r.Path, r)
	require.NoError(t, err)
	_, err = c.PostToPool(context.Background(), "/proposals/p1", r)
	require.NoError(t, err)

	calls := backend.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, http.MethodPut, calls[0].Method)
	assert.Equal(t, http.MethodPost, calls[1].Method)
	assert.Equal(t, "/proposals/p1", calls[1].Path)
	for _, c := range calls {
		assert.NotContains(t, c.Body, "path")
		assert.Equal(t, map[string]interface{}{
			testschema.SheetDocument: map[string]interface{}{"title": "T"},
		}, c.Body["data"])
	}

	// Caller's resource keeps its read-only fields
	assert.Contains(t, r.Data, resource.SheetMetadata)
	assert.Equal(t, "/proposals/p1/VERSION_0000001", r.Path)
}

func TestPost_ExportError(t *testing.T) {
	backend := &fakeBackend{}
	c := newClient(t, backend)

	r := resource.New(testschema.Proposal)
	r.Data[resource.SheetName] = resource.Sheet{"unknown": 1}
	_, err := c.Post(context.Background(), "/proposals", r)
	assert.Error(t, err)
	assert.Empty(t, backend.Calls())
}

func TestGetWithParams(t *testing.T) {
	backend := &fakeBackend{}
	c := newClient(t, backend)

	_, err := c.GetWithParams(context.Background(), "/proposals", PoolQuery{
		ContentType: testschema.Proposal,
		Elements:    "content",
		Count:       true,
		Limit:       10,
	})
	require.NoError(t, err)

	q := backend.Calls()[0].Query
	assert.Equal(t, testschema.Proposal, q.Get("content_type"))
	assert.Equal(t, "content", q.Get("elements"))
	assert.Equal(t, "true", q.Get("count"))
	assert.Equal(t, "10", q.Get("limit"))
	assert.NotContains(t, q, "offset")
	assert.NotContains(t, q, "reverse")

	_, err = c.GetWithParams(context.Background(), "/proposals", &PoolQuery{Depth: "all"})
	require.NoError(t, err)
	assert.Equal(t, "all", backend.Calls()[1].Query.Get("depth"))

	_, err = c.GetWithParams(context.Background(), "@pn1", nil)
	assert.ErrorIs(t, err, ErrPreliminaryPath)
}

func TestResolve(t *testing.T) {
	backend := &fakeBackend{}
	c := newClient(t, backend)
	ctx := context.Background()

	held := resource.New(testschema.Proposal)
	got, err := c.Resolve(ctx, held)
	require.NoError(t, err)
	assert.Same(t, held, got)
	assert.Empty(t, backend.Calls())

	got, err = c.Resolve(ctx, map[string]interface{}{"content_type": "x", "path": "/y"})
	require.NoError(t, err)
	assert.Equal(t, "/y", got.Path)
	assert.Empty(t, backend.Calls())

	got, err = c.Resolve(ctx, "/proposals/p1")
	require.NoError(t, err)
	assert.Equal(t, "/proposals/p1", got.Path)
	assert.Len(t, backend.Calls(), 1)

	_, err = c.Resolve(ctx, 42)
	assert.ErrorIs(t, err, ErrUnresolvable)
	_, err = c.Resolve(ctx, (*resource.Resource)(nil))
	assert.ErrorIs(t, err, ErrUnresolvable)
}

func TestOptions(t *testing.T) {
	backend := &fakeBackend{handle: func(c call) *transport.Response {
		return &transport.Response{StatusCode: 200, Body: map[string]interface{}{
			"GET":  map[string]interface{}{},
			"POST": map[string]interface{}{"request_body": []interface{}{}},
		}}
	}}
	c := newClient(t, backend)

	allowed, err := c.Options(context.Background(), "/proposals")
	require.NoError(t, err)
	assert.Equal(t, []string{"GET", "POST"}, allowed.Methods)
	assert.True(t, allowed.Can("post"))
	assert.False(t, allowed.Can("PUT"))
	assert.Equal(t, http.MethodOptions, backend.Calls()[0].Method)
}

func TestOptions_AllowHeader(t *testing.T) {
	backend := &fakeBackend{handle: func(c call) *transport.Response {
		return &transport.Response{StatusCode: 200, Header: http.Header{"Allow": {"GET, put"}}}
	}}
	c := newClient(t, backend)

	allowed, err := c.Options(context.Background(), "/x")
	require.NoError(t, err)
	assert.Equal(t, []string{"GET", "PUT"}, allowed.Methods)
}

func TestNewestVersionPath(t *testing.T) {
	backend := &fakeBackend{handle: func(c call) *transport.Response {
		return lastTag("/proposals/p1/VERSION_0000002", "/proposals/p1/VERSION_0000003")
	}}
	c := newClient(t, backend)

	head, err := c.NewestVersionPath(context.Background(), "/proposals/p1")
	require.NoError(t, err)
	assert.Equal(t, "/proposals/p1/VERSION_0000002", head)
	assert.Equal(t, "/proposals/p1/LAST", backend.Calls()[0].Path)

	_, err = c.NewestVersionPathNoFork(context.Background(), "/proposals/p1/")
	assert.ErrorIs(t, err, ErrForkedVersion)
	var forked *ForkedVersionError
	require.True(t, errors.As(err, &forked))
	assert.Len(t, forked.Heads, 2)
	assert.Equal(t, "/proposals/p1/LAST", backend.Calls()[1].Path)
}

func TestNewestVersionPath_NoHead(t *testing.T) {
	backend := &fakeBackend{handle: func(c call) *transport.Response {
		return lastTag()
	}}
	c := newClient(t, backend)

	_, err := c.NewestVersionPath(context.Background(), "/proposals/p1")
	assert.ErrorIs(t, err, ErrNoHeadVersion)
	_, err = c.NewestVersionPathNoFork(context.Background(), "/proposals/p1")
	assert.ErrorIs(t, err, ErrNoHeadVersion)
}

func TestPostNewVersion_Follows(t *testing.T) {
	backend := &fakeBackend{}
	c := newClient(t, backend)

	_, err := c.PostNewVersion(context.Background(), "/some/path", &resource.Resource{Data: map[string]resource.Sheet{}})
	require.NoError(t, err)

	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "/some", calls[0].Path)
	assert.Equal(t, map[string]interface{}{
		resource.SheetVersionable: map[string]interface{}{"follows": []interface{}{"/some/path"}},
	}, calls[0].Body["data"])
	assert.NotContains(t, calls[0].Body, "root_versions")
}

func TestPostNewVersion_RootVersions(t *testing.T) {
	backend := &fakeBackend{}
	c := newClient(t, backend)

	original := resource.New(testschema.ProposalVersion)
	original.Data[resource.SheetVersionable] = resource.Sheet{"follows": []interface{}{"/elsewhere"}}

	_, err := c.PostNewVersion(context.Background(), "/some/path", original, "foo", "bar")
	require.NoError(t, err)

	body := backend.Calls()[0].Body
	assert.Equal(t, []interface{}{"foo", "bar"}, body["root_versions"])
	assert.Equal(t, map[string]interface{}{"follows": []interface{}{"/some/path"}},
		body["data"].(map[string]interface{})[resource.SheetVersionable])

	// Input untouched
	assert.Equal(t, []string{"/elsewhere"}, original.Follows())
	assert.Empty(t, original.RootVersions)
}

func TestPostNewVersionNoFork_RetriesAfterNewHead(t *testing.T) {
	posts := 0
	backend := &fakeBackend{}
	backend.handle = func(c call) *transport.Response {
		switch {
		case c.Method == http.MethodGet && c.Path == "/proposals/p1/LAST":
			return lastTag("/proposals/p1/VERSION_0000002")
		case c.Method == http.MethodPost:
			posts++
			if posts == 1 {
				return errorResponse(noForkErrorName, "No fork allowed - valid follows resources are: /proposals/p1/VERSION_0000002")
			}
			return &transport.Response{StatusCode: 200, Body: map[string]interface{}{
				"content_type": testschema.ProposalVersion, "path": "/proposals/p1/VERSION_0000003",
			}}
		}
		return nil
	}
	c := newClient(t, backend, WithRetry(RetryConfig{MaxAttempts: 3, BaseBackoff: time.Millisecond}))

	res, err := c.PostNewVersionNoFork(context.Background(), "/proposals/p1/VERSION_0000001", resource.New(testschema.ProposalVersion))
	require.NoError(t, err)
	assert.True(t, res.ParentChanged)
	assert.Equal(t, "/proposals/p1/VERSION_0000002", res.Follows)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, "/proposals/p1/VERSION_0000003", res.Resource.Path)

	calls := backend.Calls()
	require.Len(t, calls, 3)
	last := calls[2]
	assert.Equal(t, "/proposals/p1", last.Path)
	assert.Equal(t, []interface{}{"/proposals/p1/VERSION_0000002"},
		last.Body["data"].(map[string]interface{})[resource.SheetVersionable].(map[string]interface{})["follows"])
}

func TestPostNewVersionNoFork_FirstTry(t *testing.T) {
	backend := &fakeBackend{}
	c := newClient(t, backend)

	res, err := c.PostNewVersionNoFork(context.Background(), "/proposals/p1/VERSION_0000001", resource.New(testschema.ProposalVersion))
	require.NoError(t, err)
	assert.False(t, res.ParentChanged)
	assert.Equal(t, 1, res.Attempts)
}

func TestPostNewVersionNoFork_Exhausted(t *testing.T) {
	backend := &fakeBackend{handle: func(c call) *transport.Response {
		if c.Method == http.MethodGet {
			return lastTag("/proposals/p1/VERSION_0000009")
		}
		return errorResponse(noForkErrorName, "No fork allowed")
	}}
	c := newClient(t, backend, WithRetry(RetryConfig{MaxAttempts: 2, BaseBackoff: time.Millisecond}))

	_, err := c.PostNewVersionNoFork(context.Background(), "/proposals/p1/VERSION_0000001", resource.New(testschema.ProposalVersion))
	assert.ErrorIs(t, err, ErrNoForkRetriesExhausted)
}

func TestPostNewVersionNoFork_OtherErrorsNotRetried(t *testing.T) {
	backend := &fakeBackend{handle: func(c call) *transport.Response {
		return errorResponse("data.x", "Required")
	}}
	c := newClient(t, backend, WithRetry(RetryConfig{MaxAttempts: 5, BaseBackoff: time.Millisecond}))

	_, err := c.PostNewVersionNoFork(context.Background(), "/proposals/p1/VERSION_0000001", resource.New(testschema.ProposalVersion))
	assert.ErrorIs(t, err, apierrors.ErrBackend)
	assert.Len(t, backend.Calls(), 1)
}

func TestPostNewVersionNoFork_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newClient(t, &fakeBackend{})
	_, err := c.PostNewVersionNoFork(ctx, "/proposals/p1/VERSION_0000001", resource.New(testschema.ProposalVersion))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsNoForkError(t *testing.T) {
	noFork := &apierrors.BackendError{Errors: []apierrors.ErrorDetail{{Name: noForkErrorName, Description: "No fork allowed"}}}
	assert.True(t, IsNoForkError(noFork))
	assert.True(t, IsNoForkError(fmt.Errorf("post: %w", noFork)))
	assert.False(t, IsNoForkError(&apierrors.BatchError{BackendError: *noFork}))

	two := &apierrors.BackendError{Errors: append(noFork.Errors, apierrors.ErrorDetail{Name: "x"})}
	assert.False(t, IsNoForkError(two))
	assert.False(t, IsNoForkError(errors.New("No fork allowed")))
}

func TestWithTransaction(t *testing.T) {
	backend := &fakeBackend{handle: func(c call) *transport.Response {
		if c.Path != "/api/batch" {
			return nil
		}
		return &transport.Response{StatusCode: 200, Body: []interface{}{
			map[string]interface{}{"code": 200.0, "body": map[string]interface{}{"content_type": testschema.Proposal, "path": "/proposals/p1"}},
			map[string]interface{}{"code": 200.0, "body": map[string]interface{}{"content_type": testschema.ParagraphVersion, "path": "/proposals/p1/par1"}},
		}}
	}}
	c := newClient(t, backend, WithBatchPath("/api/batch"))

	path, err := WithTransaction(context.Background(), c, func(ctx context.Context, tx *transaction.Transaction) (string, error) {
		inCtx, ok := transaction.FromContext(ctx)
		require.True(t, ok)
		assert.Same(t, tx, inCtx)

		proposal, err := tx.Post("/proposals", resource.New(testschema.Proposal))
		if err != nil {
			return "", err
		}
		if _, err := tx.Post(proposal.Path, resource.New(testschema.ParagraphVersion)); err != nil {
			return "", err
		}
		responses, err := tx.Commit(ctx)
		if err != nil {
			return "", err
		}
		created, err := responses.At(proposal)
		if err != nil {
			return "", err
		}
		return created.Path, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "/proposals/p1", path)

	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/api/batch", calls[0].Path)
}

func TestWithTransaction_DoesNotCommit(t *testing.T) {
	backend := &fakeBackend{}
	c := newClient(t, backend)

	tx, err := WithTransaction(context.Background(), c, func(ctx context.Context, tx *transaction.Transaction) (*transaction.Transaction, error) {
		_, err := tx.Get("/x")
		return tx, err
	})
	require.NoError(t, err)
	assert.False(t, tx.IsCommitted())
	assert.Empty(t, backend.Calls())
}
