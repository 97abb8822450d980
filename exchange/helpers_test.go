package exchange

import (
	"context"
	"sync"
	"testing"

	"github.com/agentuity/go-exchange/cache"
	"github.com/agentuity/go-exchange/stream"
	"github.com/agentuity/go-exchange/typename"
	"github.com/stretchr/testify/require"
)

// fakeClient keeps results in an in-memory store and index and records every
// call the exchange makes.
type fakeClient struct {
	store cache.Store
	index typename.Index

	reader    cache.Reader
	updateErr error
	block     chan struct{}

	mu      sync.Mutex
	updates []string
	deletes [][]string
	lookups [][]string
}

func newFakeClient(t *testing.T) *fakeClient {
	t.Helper()
	store := cache.NewInMemory(context.Background())
	t.Cleanup(func() { store.Close() })
	return &fakeClient{store: store, index: typename.NewMemoryIndex()}
}

func (c *fakeClient) Cache() cache.Reader {
	if c.reader != nil {
		return c.reader
	}
	return c.store
}

func (c *fakeClient) UpdateCacheEntry(ctx context.Context, key string, res *Result) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.updates = append(c.updates, key)
	c.mu.Unlock()
	if c.updateErr != nil {
		return c.updateErr
	}
	if err := c.store.Set(ctx, key, res); err != nil {
		return err
	}
	return c.index.Record(ctx, key, typename.Extract(res.Data))
}

func (c *fakeClient) DeleteCacheKeys(ctx context.Context, keys []string) error {
	c.mu.Lock()
	c.deletes = append(c.deletes, keys)
	c.mu.Unlock()
	for _, key := range keys {
		if err := c.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return c.index.Forget(ctx, keys...)
}

func (c *fakeClient) KeysForTypenames(ctx context.Context, typenames []string) ([]string, error) {
	c.mu.Lock()
	c.lookups = append(c.lookups, typenames)
	c.mu.Unlock()
	return c.index.KeysFor(ctx, typenames)
}

func (c *fakeClient) seed(t *testing.T, key string, res *Result) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, c.store.Set(ctx, key, res))
	require.NoError(t, c.index.Record(ctx, key, typename.Extract(res.Data)))
}

func (c *fakeClient) calls() (updates []string, deletes [][]string, lookups [][]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.updates...), append([][]string(nil), c.deletes...), append([][]string(nil), c.lookups...)
}

// fakeForward stands in for the downstream exchange.
type fakeForward struct {
	mu      sync.Mutex
	ops     []*Operation
	respond func(op *Operation) *stream.Stream[*Result]
}

func forwardResults(results map[string][]*Result) *fakeForward {
	return &fakeForward{respond: func(op *Operation) *stream.Stream[*Result] {
		return stream.Of(results[op.Query]...)
	}}
}

func (f *fakeForward) exchange(op *Operation) *stream.Stream[*Result] {
	f.mu.Lock()
	f.ops = append(f.ops, op)
	f.mu.Unlock()
	return f.respond(op)
}

func (f *fakeForward) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ops)
}

type failingReader struct{ err error }

func (r failingReader) Get(context.Context, string) (any, bool, error) { return nil, false, r.err }
func (r failingReader) Has(context.Context, string) (bool, error)      { return false, r.err }

func newOp(t *testing.T, kind Kind, query string, vars map[string]any) *Operation {
	t.Helper()
	op, err := NewOperation(kind, query, vars, Context{})
	require.NoError(t, err)
	return op
}

func collect(t *testing.T, s *stream.Stream[*Result]) []*Result {
	t.Helper()
	results, err := stream.Collect(context.Background(), s)
	require.NoError(t, err)
	return results
}

func item(id string) map[string]any {
	return map[string]any{"__typename": "Item", "id": id}
}
