package client

import (
	"context"

	"github.com/adhocracy/adhocracy-client/pkg/transaction"
)

// NewTransaction opens a transaction bound to the client's transport and
// schema
func (c *Client) NewTransaction(opts ...transaction.Option) *transaction.Transaction {
	base := []transaction.Option{
		transaction.WithBatchPath(c.batchPath),
		transaction.WithLogger(c.logger),
		transaction.WithMetrics(c.metrics),
	}
	return transaction.New(c.transport, c.meta, append(base, opts...)...)
}

// WithTransaction opens a transaction, stores it in the context passed to fn
// and returns whatever fn returns. fn is responsible for calling Commit, so
// it can still do bookkeeping with the responses before returning.
func WithTransaction[T any](ctx context.Context, c *Client, fn func(ctx context.Context, tx *transaction.Transaction) (T, error)) (T, error) {
	tx := c.NewTransaction()
	return fn(transaction.WithContext(ctx, tx), tx)
}
