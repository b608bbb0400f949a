package mockbackend

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adhocracy/adhocracy-client/internal/testschema"
)

func TestServer_ServeAndShutdown(t *testing.T) {
	b, err := New(context.Background(), NewMemoryStore(), []byte(testschema.Document))
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(l.Addr().String(), b)
	var hooks atomic.Int32
	srv.RegisterHook(func(ctx context.Context) error {
		hooks.Add(1)
		return errors.New("ignored")
	})
	srv.RegisterHook(func(ctx context.Context) error {
		hooks.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, l) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + l.Addr().String() + DefaultMetaAPIPath)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.Equal(t, int32(2), hooks.Load(), "every hook runs even after a failure")
}

func TestServer_ListenError(t *testing.T) {
	b, err := New(context.Background(), NewMemoryStore(), []byte(testschema.Document))
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	srv := NewServer(l.Addr().String(), b)
	err = srv.ListenAndServe(context.Background())
	assert.Error(t, err)
}
