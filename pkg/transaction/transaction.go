// Package transaction accumulates dependent backend requests and submits them
// as one batch that the backend processes atomically and in order.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/adhocracy/adhocracy-client/internal/metrics"
	"github.com/adhocracy/adhocracy-client/pkg/apierrors"
	"github.com/adhocracy/adhocracy-client/pkg/convert"
	"github.com/adhocracy/adhocracy-client/pkg/metaapi"
	"github.com/adhocracy/adhocracy-client/pkg/preliminary"
	"github.com/adhocracy/adhocracy-client/pkg/resource"
	"github.com/adhocracy/adhocracy-client/pkg/transport"
)

var (
	// ErrAlreadyCommitted is returned when a committed transaction is used again
	ErrAlreadyCommitted = errors.New("transaction already committed")
	// ErrBatchLengthMismatch is returned when the batch reply does not have
	// one entry per request
	ErrBatchLengthMismatch = errors.New("batch response length mismatch")
)

// DefaultBatchPath is the backend endpoint batches are posted to
const DefaultBatchPath = "/batch"

// Method is the HTTP method of a batched request
type Method string

const (
	MethodGet  Method = http.MethodGet
	MethodPut  Method = http.MethodPut
	MethodPost Method = http.MethodPost
)

// Request is one entry of the batch body
type Request struct {
	Method Method             `json:"method" yaml:"method"`
	Path   string             `json:"path" yaml:"path"`
	Body   *resource.Resource `json:"body,omitempty" yaml:"body,omitempty"`
	// ResultPath names the created resource so later requests can refer to
	// it as "@" + ResultPath
	ResultPath string `json:"result_path,omitempty" yaml:"result_path,omitempty"`
	// ResultFirstVersionPath names the first version of a created item,
	// referred to as "@" + ResultFirstVersionPath
	ResultFirstVersionPath string `json:"result_first_version_path,omitempty" yaml:"result_first_version_path,omitempty"`
}

// Ref locates the reply of an enqueued request. For posts, Path and
// FirstVersionPath are preliminary paths usable in later requests of the
// same transaction.
type Ref struct {
	Index            int
	Path             string
	FirstVersionPath string
}

// Responses is the ordered result of a commit
type Responses []*resource.Resource

// At returns the reply to the request ref points at
func (r Responses) At(ref Ref) (*resource.Resource, error) {
	if ref.Index < 0 || ref.Index >= len(r) {
		return nil, fmt.Errorf("no response at index %d of %d", ref.Index, len(r))
	}
	return r[ref.Index], nil
}

// Transaction is OPEN until Commit is called and COMMITTED afterwards.
// A transaction is not meant to be shared between unrelated operations, but
// its methods are safe for concurrent use.
type Transaction struct {
	transport transport.Transport
	meta      *metaapi.Query
	ids       preliminary.Generator
	batchPath string
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu        sync.Mutex
	requests  []Request
	committed bool
}

// Option configures a Transaction
type Option func(*Transaction)

// WithIDs replaces the generator of placeholder ids. Each transaction gets its
// own sequence by default.
func WithIDs(g preliminary.Generator) Option {
	return func(t *Transaction) {
		t.ids = g
	}
}

// WithBatchPath sets the batch endpoint
func WithBatchPath(path string) Option {
	return func(t *Transaction) {
		t.batchPath = path
	}
}

// WithLogger sets the logger used for batch errors
func WithLogger(logger *zap.Logger) Option {
	return func(t *Transaction) {
		t.logger = logger
	}
}

// WithMetrics records commits in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transaction) {
		t.metrics = m
	}
}

// New creates an open transaction
func New(tr transport.Transport, meta *metaapi.Query, opts ...Option) *Transaction {
	t := &Transaction{
		transport: tr,
		meta:      meta,
		batchPath: DefaultBatchPath,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.ids == nil {
		t.ids = preliminary.NewSequence()
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	return t
}

// Get enqueues a GET of path. path may be a preliminary path of this
// transaction.
func (t *Transaction) Get(path string) (Ref, error) {
	return t.enqueue(Request{Method: MethodGet, Path: path})
}

// Put enqueues a PUT of r to path. Non-writable fields are stripped first.
func (t *Transaction) Put(path string, r *resource.Resource) (Ref, error) {
	if t.IsCommitted() {
		return Ref{}, ErrAlreadyCommitted
	}
	body, err := convert.ExportContent(t.meta, r)
	if err != nil {
		return Ref{}, err
	}
	return t.enqueue(Request{Method: MethodPut, Path: path, Body: body})
}

// Post enqueues a POST of r to the container at path. The returned Ref
// carries the preliminary paths of the resource to be created; they are
// valid as paths and field values in requests enqueued later.
func (t *Transaction) Post(path string, r *resource.Resource) (Ref, error) {
	if t.IsCommitted() {
		return Ref{}, ErrAlreadyCommitted
	}
	body, err := convert.ExportContent(t.meta, r)
	if err != nil {
		return Ref{}, err
	}

	// the lock is not held while exporting
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return Ref{}, ErrAlreadyCommitted
	}

	id := t.ids.Next()
	ref := Ref{
		Index:            len(t.requests),
		Path:             preliminary.Path(id),
		FirstVersionPath: preliminary.FirstVersionPath(id),
	}
	t.requests = append(t.requests, Request{
		Method:                 MethodPost,
		Path:                   path,
		Body:                   body,
		ResultPath:             id,
		ResultFirstVersionPath: preliminary.Path(id),
	})
	return ref, nil
}

func (t *Transaction) enqueue(req Request) (Ref, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return Ref{}, ErrAlreadyCommitted
	}
	t.requests = append(t.requests, req)
	return Ref{Index: len(t.requests) - 1, Path: req.Path}, nil
}

// Commit posts all enqueued requests as one batch and returns the replies in
// request order. The transaction is COMMITTED afterwards whether or not the
// batch succeeded.
func (t *Transaction) Commit(ctx context.Context) (Responses, error) {
	t.mu.Lock()
	if t.committed {
		t.mu.Unlock()
		return nil, ErrAlreadyCommitted
	}
	t.committed = true
	requests := make([]Request, len(t.requests))
	copy(requests, t.requests)
	t.mu.Unlock()

	t.logger.Debug("committing transaction",
		zap.Int("requests", len(requests)),
		zap.String("batch_path", t.batchPath),
	)

	resp, err := t.transport.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   t.batchPath,
		Body:   requests,
	})
	if err != nil {
		var statusErr *transport.StatusError
		if errors.As(err, &statusErr) && statusErr.Response != nil {
			t.metrics.BackendError("batch")
			return nil, apierrors.LogBackendBatchError(t.logger, statusErr.Response)
		}
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	responses, err := convert.ImportBatchContent(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to import batch response: %w", err)
	}
	if len(responses) != len(requests) {
		return nil, fmt.Errorf("%w: sent %d requests, got %d responses",
			ErrBatchLengthMismatch, len(requests), len(responses))
	}

	t.metrics.ObserveCommit(len(requests))
	return responses, nil
}

// IsCommitted returns true once Commit has been called
func (t *Transaction) IsCommitted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed
}

// Len returns the number of enqueued requests
func (t *Transaction) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

// Requests returns a copy of the queue as it would be sent
func (t *Transaction) Requests() []Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Request, len(t.requests))
	copy(out, t.requests)
	return out
}
