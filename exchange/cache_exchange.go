package exchange

import (
	"context"

	"github.com/agentuity/go-exchange/cache"
	"github.com/agentuity/go-exchange/logger"
	"github.com/agentuity/go-exchange/stream"
	"github.com/agentuity/go-exchange/typename"
)

type cacheConfig struct {
	ctx       context.Context
	logger    logger.Logger
	tasks     *Tasks
	maxWrites int64
}

// Option configures the cache exchange.
type Option func(*cacheConfig)

// WithLogger sets the logger used for cache decisions and failed effects.
func WithLogger(log logger.Logger) Option {
	return func(c *cacheConfig) { c.logger = log }
}

// WithTasks sets the runner for cache writes and evictions. Sharing a runner
// lets callers Wait for every pending effect.
func WithTasks(tasks *Tasks) Option {
	return func(c *cacheConfig) { c.tasks = tasks }
}

// WithBaseContext sets the context used for store reads and, detached from
// its cancellation, for effects. Defaults to context.Background().
func WithBaseContext(ctx context.Context) Option {
	return func(c *cacheConfig) { c.ctx = ctx }
}

// WithMaxConcurrentWrites bounds concurrent effects. It is ignored when
// WithTasks supplies a runner, whose own limit applies instead.
func WithMaxConcurrentWrites(n int64) Option {
	return func(c *cacheConfig) { c.maxWrites = n }
}

type cacheExchange struct {
	ctx     context.Context
	client  Client
	forward Exchange
	logger  logger.Logger
	tasks   *Tasks
}

// CacheExchange returns the cache exchange as a Factory for Compose.
func CacheExchange(opts ...Option) Factory {
	return func(client Client, forward Exchange) Exchange {
		return NewCacheExchange(client, forward, opts...)
	}
}

// NewCacheExchange returns an exchange that answers queries from the client's
// cache and keeps it up to date.
//
//   - query: served from the cache when an entry exists and SkipCache is
//     unset; otherwise forwarded, and every result is written back.
//   - mutation: forwarded; after each result, every cached key indexed under
//     one of the result's typenames is deleted.
//   - anything else: the stream returned by forward, untouched.
//
// Writes and deletions run on the Tasks runner and never delay, alter or fail
// the results delivered downstream.
func NewCacheExchange(client Client, forward Exchange, opts ...Option) Exchange {
	cfg := cacheConfig{ctx: context.Background()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.NewConsoleLogger(logger.LevelNone)
	}
	log := cfg.logger.WithPrefix("[cache]")
	if cfg.tasks == nil {
		cfg.tasks = NewTasks(cfg.ctx, log, cfg.maxWrites)
	}
	e := &cacheExchange{
		ctx:     cfg.ctx,
		client:  client,
		forward: forward,
		logger:  log,
		tasks:   cfg.tasks,
	}
	return e.handle
}

func (e *cacheExchange) handle(op *Operation) *stream.Stream[*Result] {
	switch op.Kind {
	case KindQuery:
		if !op.Context.SkipCache {
			if res, ok := e.cached(op); ok {
				e.logger.Debug("hit %s", op.Key)
				return stream.Of(res)
			}
		}
		e.logger.Debug("miss %s (skip=%v)", op.Key, op.Context.SkipCache)
		return e.tap(op, e.writeBack)
	case KindMutation:
		return e.tap(op, e.invalidate)
	default:
		return e.forward(op)
	}
}

// cached looks op up in the store. A failed read is logged and treated as a
// miss so the query still reaches the network.
func (e *cacheExchange) cached(op *Operation) (*Result, bool) {
	found, res, err := cache.GetAs[*Result](e.ctx, e.client.Cache(), op.Key)
	if err != nil {
		e.logger.Warn("cache read for %s failed: %s", op.Key, err)
		return nil, false
	}
	if !found || res == nil {
		return nil, false
	}
	return res, true
}

// tap forwards op and runs effect for every result before passing it on
// unchanged. Errors and completion of the forward stream pass through, and
// unsubscribing tears the forward subscription down.
func (e *cacheExchange) tap(op *Operation, effect func(op *Operation, res *Result)) *stream.Stream[*Result] {
	upstream := e.forward(op)
	return stream.New(func(o stream.Observer[*Result]) func() {
		sub := upstream.Subscribe(stream.Observer[*Result]{
			Next: func(res *Result) {
				effect(op, res)
				o.Next(res)
			},
			Error:    o.Error,
			Complete: o.Complete,
		})
		return sub.Unsubscribe
	})
}

func (e *cacheExchange) writeBack(op *Operation, res *Result) {
	key := op.Key
	e.tasks.Go("cache update "+key, func(ctx context.Context) error {
		return e.client.UpdateCacheEntry(ctx, key, res)
	})
}

func (e *cacheExchange) invalidate(op *Operation, res *Result) {
	typenames := typename.Extract(res.Data)
	if len(typenames) == 0 {
		return
	}
	e.tasks.Go("cache invalidate "+op.Key, func(ctx context.Context) error {
		keys, err := e.client.KeysForTypenames(ctx, typenames)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		e.logger.Debug("mutation %s evicts %d keys for %v", op.Key, len(keys), typenames)
		return e.client.DeleteCacheKeys(ctx, keys)
	})
}
