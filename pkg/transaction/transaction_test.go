package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/adhocracy/adhocracy-client/internal/testschema"
	"github.com/adhocracy/adhocracy-client/pkg/apierrors"
	"github.com/adhocracy/adhocracy-client/pkg/resource"
	"github.com/adhocracy/adhocracy-client/pkg/transport"
)

// recorder answers every batch with one success entry per request, echoing
// the request index in the path, and keeps the wire form of what it got.
type recorder struct {
	mu      sync.Mutex
	calls   int
	lastReq *transport.Request
	wire    []map[string]interface{}
}

func (r *recorder) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.lastReq = req

	raw, err := json.Marshal(req.Body)
	if err != nil {
		return nil, err
	}
	r.wire = nil
	if err := json.Unmarshal(raw, &r.wire); err != nil {
		return nil, err
	}

	items := make([]interface{}, len(r.wire))
	for i, entry := range r.wire {
		items[i] = map[string]interface{}{
			"code": 200.0,
			"body": map[string]interface{}{
				"content_type": fmt.Sprintf("%s-%d", entry["method"], i),
				"path":         fmt.Sprintf("/real/%d", i),
			},
		}
	}
	return &transport.Response{StatusCode: 200, Body: items}, nil
}

func paragraph(content string) *resource.Resource {
	r := resource.New(testschema.ParagraphVersion)
	r.Data[testschema.SheetParagraph] = resource.Sheet{"content": content}
	return r
}

func TestPost_PreliminaryPaths(t *testing.T) {
	tx := New(&recorder{}, testschema.Query(t))

	a, err := tx.Post("/proposals", resource.New(testschema.Proposal))
	require.NoError(t, err)
	b, err := tx.Post("/proposals", resource.New(testschema.Proposal))
	require.NoError(t, err)

	assert.NotEqual(t, a.Path, b.Path)
	for _, ref := range []Ref{a, b} {
		assert.True(t, strings.HasPrefix(ref.Path, "@"))
		assert.False(t, strings.HasPrefix(ref.Path, "@@"))
		assert.True(t, strings.HasPrefix(ref.FirstVersionPath, "@@"))
		assert.False(t, strings.HasPrefix(ref.FirstVersionPath, "@@@"))
		assert.Equal(t, "@"+ref.Path, ref.FirstVersionPath)
	}
	assert.Equal(t, 0, a.Index)
	assert.Equal(t, 1, b.Index)
}

func TestPost_IndependentSequences(t *testing.T) {
	q := testschema.Query(t)
	tx1 := New(&recorder{}, q)
	tx2 := New(&recorder{}, q)

	a, err := tx1.Post("/proposals", resource.New(testschema.Proposal))
	require.NoError(t, err)
	b, err := tx2.Post("/proposals", resource.New(testschema.Proposal))
	require.NoError(t, err)

	// Each transaction mints its own sequence
	assert.Equal(t, a.Path, b.Path)
}

func TestRequests_WireFormat(t *testing.T) {
	rec := &recorder{}
	tx := New(rec, testschema.Query(t))

	proposal := resource.New(testschema.Proposal)
	proposal.Path = "/should/not/be/sent"
	proposal.Data[resource.SheetName] = resource.Sheet{"name": "p1"}
	proposal.Data[resource.SheetMetadata] = resource.Sheet{"creation_date": "2024-01-01"}

	p, err := tx.Post("/proposals", proposal)
	require.NoError(t, err)
	_, err = tx.Post(p.Path, paragraph("hello"))
	require.NoError(t, err)
	_, err = tx.Get(p.FirstVersionPath)
	require.NoError(t, err)

	_, err = tx.Commit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "POST", rec.lastReq.Method)
	assert.Equal(t, DefaultBatchPath, rec.lastReq.Path)
	require.Len(t, rec.wire, 3)

	first := rec.wire[0]
	assert.Equal(t, "POST", first["method"])
	assert.Equal(t, "/proposals", first["path"])
	assert.Equal(t, "pn1", first["result_path"])
	assert.Equal(t, "@pn1", first["result_first_version_path"])
	body := first["body"].(map[string]interface{})
	assert.NotContains(t, body, "path")
	assert.NotContains(t, body["data"], resource.SheetMetadata)

	assert.Equal(t, "@pn1", rec.wire[1]["path"])
	assert.Equal(t, "GET", rec.wire[2]["method"])
	assert.Equal(t, "@@pn1", rec.wire[2]["path"])
	assert.NotContains(t, rec.wire[2], "body")
	assert.NotContains(t, rec.wire[2], "result_path")
}

func TestCommit_IndexToResponseMapping(t *testing.T) {
	tx := New(&recorder{}, testschema.Query(t))

	var refs []Ref
	var methods []string
	add := func(ref Ref, err error, method string) {
		require.NoError(t, err)
		refs = append(refs, ref)
		methods = append(methods, method)
	}

	ref, err := tx.Get("/proposals/p1")
	add(ref, err, "GET")
	ref, err = tx.Post("/proposals", resource.New(testschema.Proposal))
	add(ref, err, "POST")
	ref, err = tx.Put("/proposals/p1/par1/VERSION_0000001", paragraph("x"))
	add(ref, err, "PUT")
	ref, err = tx.Get("/proposals/p2")
	add(ref, err, "GET")
	ref, err = tx.Post("/proposals", resource.New(testschema.Proposal))
	add(ref, err, "POST")

	responses, err := tx.Commit(context.Background())
	require.NoError(t, err)
	require.Len(t, responses, len(refs))

	for i, ref := range refs {
		got, err := responses.At(ref)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("/real/%d", ref.Index), got.Path)
		assert.Equal(t, fmt.Sprintf("%s-%d", methods[i], ref.Index), got.ContentType)
	}

	_, err = responses.At(Ref{Index: 99})
	assert.Error(t, err)
}

func TestCommit_LocksTransaction(t *testing.T) {
	rec := &recorder{}
	tx := New(rec, testschema.Query(t))

	_, err := tx.Get("/a")
	require.NoError(t, err)
	assert.False(t, tx.IsCommitted())

	_, err = tx.Commit(context.Background())
	require.NoError(t, err)
	assert.True(t, tx.IsCommitted())

	_, err = tx.Get("/b")
	assert.ErrorIs(t, err, ErrAlreadyCommitted)
	_, err = tx.Put("/b", paragraph("x"))
	assert.ErrorIs(t, err, ErrAlreadyCommitted)
	_, err = tx.Post("/b", paragraph("x"))
	assert.ErrorIs(t, err, ErrAlreadyCommitted)
	_, err = tx.Commit(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyCommitted)

	// the committed state wins over export failures
	bad := resource.New(testschema.Proposal)
	bad.Data["adhocracy_core.sheets.unknown.IUnknown"] = resource.Sheet{"x": 1}
	_, err = tx.Put("/b", bad)
	assert.ErrorIs(t, err, ErrAlreadyCommitted)
	_, err = tx.Post("/b", bad)
	assert.ErrorIs(t, err, ErrAlreadyCommitted)
	_, err = tx.Put("/b", nil)
	assert.ErrorIs(t, err, ErrAlreadyCommitted)
	_, err = tx.Post("/b", nil)
	assert.ErrorIs(t, err, ErrAlreadyCommitted)

	assert.Equal(t, 1, tx.Len())
	assert.Equal(t, 1, rec.calls)
}

func TestCommit_EmptyQueue(t *testing.T) {
	rec := &recorder{}
	tx := New(rec, testschema.Query(t))

	responses, err := tx.Commit(context.Background())
	require.NoError(t, err)
	assert.Empty(t, responses)
	assert.Equal(t, 1, rec.calls)
}

func TestPut_ExportErrorDoesNotEnqueue(t *testing.T) {
	tx := New(&recorder{}, testschema.Query(t))

	bad := resource.New(testschema.Proposal)
	bad.Data["adhocracy_core.sheets.unknown.IUnknown"] = resource.Sheet{"x": 1}

	_, err := tx.Put("/x", bad)
	assert.Error(t, err)
	_, err = tx.Post("/x", bad)
	assert.Error(t, err)
	assert.Equal(t, 0, tx.Len())
}

func TestCommit_BackendBatchError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	failing := transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		resp := &transport.Response{
			StatusCode: 400,
			Body: []interface{}{
				map[string]interface{}{"code": 200.0, "body": map[string]interface{}{"content_type": "x"}},
				map[string]interface{}{"code": 400.0, "body": map[string]interface{}{
					"status": "error",
					"errors": []interface{}{[]interface{}{"n", "l", "d"}},
				}},
			},
		}
		return resp, &transport.StatusError{Method: req.Method, Path: req.Path, Response: resp}
	})

	tx := New(failing, testschema.Query(t), WithLogger(zap.New(core)))
	_, err := tx.Get("/a")
	require.NoError(t, err)
	_, err = tx.Get("/b")
	require.NoError(t, err)

	_, err = tx.Commit(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrBackendBatch)

	var batchErr *apierrors.BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, []apierrors.ErrorDetail{{Name: "n", Location: "l", Description: "d"}}, batchErr.Errors)
	assert.Equal(t, 1, logs.FilterMessage("backend batch error").Len())

	// A failed commit still leaves the transaction committed
	assert.True(t, tx.IsCommitted())
}

func TestCommit_TransportError(t *testing.T) {
	broken := transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		return nil, errors.New("connection refused")
	})

	tx := New(broken, testschema.Query(t))
	_, err := tx.Commit(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.False(t, errors.Is(err, apierrors.ErrBackend))
}

func TestCommit_LengthMismatch(t *testing.T) {
	short := transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: 200, Body: []interface{}{}}, nil
	})

	tx := New(short, testschema.Query(t))
	_, err := tx.Get("/a")
	require.NoError(t, err)

	_, err = tx.Commit(context.Background())
	assert.ErrorIs(t, err, ErrBatchLengthMismatch)
}

func TestWithBatchPathAndIDs(t *testing.T) {
	rec := &recorder{}
	tx := New(rec, testschema.Query(t), WithBatchPath("/api/batch"), WithIDs(fixedIDs{"x"}))

	ref, err := tx.Post("/proposals", resource.New(testschema.Proposal))
	require.NoError(t, err)
	assert.Equal(t, "@x", ref.Path)

	_, err = tx.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/api/batch", rec.lastReq.Path)
}

type fixedIDs struct{ id string }

func (f fixedIDs) Next() string { return f.id }

func TestRequests_ReturnsCopy(t *testing.T) {
	tx := New(&recorder{}, testschema.Query(t))
	_, err := tx.Get("/a")
	require.NoError(t, err)

	reqs := tx.Requests()
	reqs[0].Path = "/changed"
	assert.Equal(t, "/a", tx.Requests()[0].Path)
}

func TestConcurrentEnqueue(t *testing.T) {
	tx := New(&recorder{}, testschema.Query(t))

	var wg sync.WaitGroup
	paths := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref, err := tx.Post("/proposals", resource.New(testschema.Proposal))
			if err == nil {
				paths <- ref.Path
			}
		}()
	}
	wg.Wait()
	close(paths)

	seen := make(map[string]bool)
	for p := range paths {
		assert.False(t, seen[p], "duplicate preliminary path %s", p)
		seen[p] = true
	}
	assert.Len(t, seen, 50)
	assert.Equal(t, 50, tx.Len())
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	_, ok := FromContext(ctx)
	assert.False(t, ok)

	tx := New(&recorder{}, testschema.Query(t))
	ctx = WithContext(ctx, tx)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, tx, got)
}
