package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentuity/go-exchange/cache"
	"github.com/agentuity/go-exchange/eventing"
	"github.com/agentuity/go-exchange/exchange"
	"github.com/agentuity/go-exchange/logger"
	"github.com/agentuity/go-exchange/resilience"
	"github.com/agentuity/go-exchange/stream"
	"github.com/agentuity/go-exchange/typename"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var spans = tracetest.NewSpanRecorder()

func init() {
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)))
}

func endedSpans(name string) []sdktrace.ReadOnlySpan {
	var out []sdktrace.ReadOnlySpan
	for _, s := range spans.Ended() {
		if s.Name() == name {
			out = append(out, s)
		}
	}
	return out
}

func newMemoryClient(t *testing.T, opts ...Option) (*Client, cache.Store) {
	t.Helper()
	store := cache.NewInMemory(context.Background())
	t.Cleanup(func() { store.Close() })
	return New(store, typename.NewMemoryIndex(), opts...), store
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func itemResult(ids ...string) *exchange.Result {
	items := make([]any, 0, len(ids))
	for _, id := range ids {
		items = append(items, map[string]any{"__typename": "Item", "id": id})
	}
	return &exchange.Result{Data: map[string]any{"items": items}}
}

func TestUpdateCacheEntryIndexesTypenames(t *testing.T) {
	ctx := context.Background()
	c, store := newMemoryClient(t)

	res := itemResult("1")
	require.NoError(t, c.UpdateCacheEntry(ctx, "k1", res))
	require.NoError(t, c.UpdateCacheEntry(ctx, "k2", &exchange.Result{Data: map[string]any{
		"me": map[string]any{"__typename": "User", "id": "u"},
	}}))

	found, got, err := cache.GetAs[*exchange.Result](ctx, c.Cache(), "k1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Same(t, res, got)

	keys, err := c.KeysForTypenames(ctx, []string{"Item"})
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, keys)

	keys, err = c.KeysForTypenames(ctx, []string{"Item", "User"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k1", "k2"}, keys)

	has, err := store.Has(ctx, "k2")
	require.NoError(t, err)
	assert.True(t, has)

	assert.Error(t, c.UpdateCacheEntry(ctx, "k3", nil))
}

func TestDeleteCacheKeys(t *testing.T) {
	ctx := context.Background()
	c, store := newMemoryClient(t)
	require.NoError(t, c.UpdateCacheEntry(ctx, "k1", itemResult("1")))
	require.NoError(t, c.UpdateCacheEntry(ctx, "k2", itemResult("2")))

	require.NoError(t, c.DeleteCacheKeys(ctx, []string{"k1", "missing"}))
	require.NoError(t, c.DeleteCacheKeys(ctx, nil))

	has, err := store.Has(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, has)

	keys, err := c.KeysForTypenames(ctx, []string{"Item"})
	require.NoError(t, err)
	assert.Equal(t, []string{"k2"}, keys)
}

func TestClearCache(t *testing.T) {
	ctx := context.Background()
	c, store := newMemoryClient(t)
	require.NoError(t, c.UpdateCacheEntry(ctx, "k1", itemResult("1")))

	require.NoError(t, c.ClearCache(ctx))

	has, err := store.Has(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, has)
	keys, err := c.KeysForTypenames(ctx, []string{"Item"})
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestListenRequiresEventing(t *testing.T) {
	c, _ := newMemoryClient(t)
	assert.Error(t, c.Listen(context.Background()))
}

type failingStore struct {
	cache.Store
	err error
}

func (s failingStore) Set(context.Context, string, any) error { return s.err }

func TestCircuitBreakerGuardsWrites(t *testing.T) {
	ctx := context.Background()
	inner := cache.NewInMemory(ctx)
	defer inner.Close()
	log := logger.NewTestLogger()

	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.MaxFailures = 2
	cfg.Timeout = time.Hour
	c := New(failingStore{Store: inner, err: errors.New("store down")}, typename.NewMemoryIndex(),
		WithLogger(log), WithCircuitBreaker(cfg))

	for i := 0; i < 2; i++ {
		err := c.UpdateCacheEntry(ctx, "k", itemResult("1"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store down")
	}
	err := c.UpdateCacheEntry(ctx, "k", itemResult("1"))
	assert.ErrorIs(t, err, resilience.ErrCircuitBreakerOpen)
	assert.Len(t, log.Find("WARNING", "CLOSED -> OPEN"), 1)
}

func TestInvalidationAcrossClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rdb := newTestRedis(t)

	eventsA := eventing.NewRedisClient(ctx, logger.NewTestLogger(), rdb)
	eventsB := eventing.NewRedisClient(ctx, logger.NewTestLogger(), rdb)
	defer eventsA.Close()
	defer eventsB.Close()

	logA := logger.NewTestLogger()
	logB := logger.NewTestLogger()
	a, _ := newMemoryClient(t, WithLogger(logA), WithEventing(eventsA, "test"))
	b, storeB := newMemoryClient(t, WithLogger(logB), WithEventing(eventsB, "test"))
	assert.NotEqual(t, a.ID(), b.ID())

	require.NoError(t, a.Listen(ctx))
	require.NoError(t, b.Listen(ctx))

	require.NoError(t, a.UpdateCacheEntry(ctx, "k1", itemResult("1")))
	require.NoError(t, b.UpdateCacheEntry(ctx, "k1", itemResult("1")))
	require.NoError(t, b.UpdateCacheEntry(ctx, "k2", itemResult("2")))

	require.NoError(t, a.DeleteCacheKeys(ctx, []string{"k1"}))
	assert.Eventually(t, func() bool {
		return len(logB.Find("DEBUG", "applied delete")) == 1
	}, time.Second, 5*time.Millisecond)
	has, err := storeB.Has(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, has)

	keys, err := b.KeysForTypenames(ctx, []string{"Item"})
	require.NoError(t, err)
	assert.Equal(t, []string{"k2"}, keys)

	require.NoError(t, a.ClearCache(ctx))
	assert.Eventually(t, func() bool {
		return len(logB.Find("DEBUG", "applied clear")) == 1
	}, time.Second, 5*time.Millisecond)
	has, err = storeB.Has(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, has)

	assert.Empty(t, logA.Find("DEBUG", "applied"))
}

func TestInvalidationIsTraced(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rdb := newTestRedis(t)
	events := eventing.NewRedisClient(ctx, logger.NewTestLogger(), rdb)
	defer events.Close()

	log := logger.NewTestLogger()
	c, _ := newMemoryClient(t, WithLogger(log), WithEventing(events, "traced"))
	require.NoError(t, c.Listen(ctx))

	data, err := msgpack.Marshal(InvalidationEvent{Sender: "other", Action: ActionDelete, Keys: []string{"k1", "k2"}})
	require.NoError(t, err)
	require.NoError(t, events.Publish(ctx, "traced:invalidate", data))

	var entry logger.TestLogEntry
	require.Eventually(t, func() bool {
		found := log.Find("DEBUG", "applied delete of 2 keys from other")
		if len(found) != 1 {
			return false
		}
		entry = found[0]
		return true
	}, time.Second, 5*time.Millisecond)

	var span sdktrace.ReadOnlySpan
	require.Eventually(t, func() bool {
		for _, s := range endedSpans("client.invalidation") {
			for _, kv := range s.Attributes() {
				if kv.Key == "channel" && kv.Value.AsString() == "traced:invalidate" {
					span = s
					return true
				}
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, span.SpanContext().TraceID().String(), entry.Metadata["trace"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry.Metadata["span"])
}

func TestListenIgnoresMalformedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rdb := newTestRedis(t)
	events := eventing.NewRedisClient(ctx, logger.NewTestLogger(), rdb)
	defer events.Close()

	log := logger.NewTestLogger()
	c, _ := newMemoryClient(t, WithLogger(log), WithEventing(events, "test"))
	require.NoError(t, c.Listen(ctx))

	require.NoError(t, events.Publish(ctx, "test:invalidate", []byte("not msgpack")))
	unknown, err := msgpack.Marshal(InvalidationEvent{Sender: "other", Action: "rename"})
	require.NoError(t, err)
	require.NoError(t, events.Publish(ctx, "test:invalidate", unknown))

	assert.Eventually(t, func() bool {
		return len(log.Find("ERROR", "invalid invalidation event")) == 1 &&
			len(log.Find("WARNING", `unknown invalidation action "rename"`)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRedisBackedPipeline(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	store := cache.NewRedis(rdb, cache.WithPrefix("test"))
	c := New(store, typename.NewRedisIndex(rdb, "test"))

	log := logger.NewTestLogger()
	tasks := exchange.NewTasks(ctx, log, 0)
	var forwarded int
	fetch := func(exchange.Client, exchange.Exchange) exchange.Exchange {
		return func(op *exchange.Operation) *stream.Stream[*exchange.Result] {
			forwarded++
			if op.Kind == exchange.KindMutation {
				return stream.Of(&exchange.Result{Data: map[string]any{
					"addItem": map[string]any{"__typename": "Item", "id": "2"},
				}})
			}
			return stream.Of(itemResult("1"))
		}
	}
	run := exchange.Compose(c, exchange.CacheExchange(exchange.WithLogger(log), exchange.WithTasks(tasks)), fetch)

	query, err := exchange.NewOperation(exchange.KindQuery, "query { items }", nil, exchange.Context{})
	require.NoError(t, err)
	mutation, err := exchange.NewOperation(exchange.KindMutation, "mutation { addItem }", nil, exchange.Context{})
	require.NoError(t, err)

	results, err := stream.Collect(ctx, run(query))
	require.NoError(t, err)
	require.Len(t, results, 1)
	tasks.Wait()

	results, err = stream.Collect(ctx, run(query))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, itemResult("1").Data, results[0].Data)
	assert.Equal(t, 1, forwarded)

	_, err = stream.Collect(ctx, run(mutation))
	require.NoError(t, err)
	tasks.Wait()
	assert.Equal(t, 2, forwarded)

	_, err = stream.Collect(ctx, run(query))
	require.NoError(t, err)
	assert.Equal(t, 3, forwarded)
	assert.Empty(t, log.Find("ERROR", ""))
}
