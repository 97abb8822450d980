// Package client owns the shared cache of the exchange pipeline: a result
// store and the typename index that maps typenames to the keys of cached
// results containing them.
//
// Every mutation of the store and index goes through a Client. When an
// eventing client is configured, deletions and clears are broadcast on the
// invalidation channel so other processes sharing the cache drop their local
// copies as well; Listen applies the events sent by others.
package client

import (
	"context"

	"github.com/agentuity/go-exchange/cache"
	"github.com/agentuity/go-exchange/eventing"
	"github.com/agentuity/go-exchange/exchange"
	"github.com/agentuity/go-exchange/logger"
	"github.com/agentuity/go-exchange/resilience"
	"github.com/agentuity/go-exchange/typename"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/agentuity/go-exchange/client")

// DefaultChannelPrefix namespaces the invalidation channel.
const DefaultChannelPrefix = "exchange"

type config struct {
	logger  logger.Logger
	events  eventing.Client
	channel string
	breaker resilience.CircuitBreakerConfig
	retry   resilience.RetryConfig
}

// Option configures a Client.
type Option func(*config)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(c *config) { c.logger = log }
}

// WithEventing broadcasts invalidations through events on the channel
// "<prefix>:invalidate".
func WithEventing(events eventing.Client, prefix string) Option {
	return func(c *config) {
		c.events = events
		if prefix != "" {
			c.channel = prefix + ":invalidate"
		}
	}
}

// WithCircuitBreaker sets the breaker guarding store and index writes.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *config) { c.breaker = cfg }
}

// WithPublishRetry sets the retry policy for invalidation broadcasts.
func WithPublishRetry(cfg resilience.RetryConfig) Option {
	return func(c *config) { c.retry = cfg }
}

// Client holds the store and index behind the exchange.Client contract.
type Client struct {
	id      string
	store   cache.Store
	index   typename.Index
	logger  logger.Logger
	events  eventing.Client
	channel string
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

var _ exchange.Client = (*Client)(nil)

// New returns a Client over store and index. The client does not own them:
// Close releases neither.
func New(store cache.Store, index typename.Index, opts ...Option) *Client {
	cfg := config{
		channel: DefaultChannelPrefix + ":invalidate",
		breaker: resilience.DefaultCircuitBreakerConfig(),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.NewConsoleLogger(logger.LevelNone)
	}
	id := uuid.NewString()
	log := cfg.logger.With(map[string]interface{}{"component": "client", "client": id})
	onChange := cfg.breaker.OnStateChange
	cfg.breaker.OnStateChange = func(from, to resilience.CircuitBreakerState) {
		log.Warn("cache circuit breaker %s -> %s", from, to)
		if onChange != nil {
			onChange(from, to)
		}
	}
	return &Client{
		id:      id,
		store:   store,
		index:   index,
		logger:  log,
		events:  cfg.events,
		channel: cfg.channel,
		breaker: resilience.NewCircuitBreaker(cfg.breaker),
		retry:   cfg.retry,
	}
}

// ID identifies this client as the sender of its invalidation events.
func (c *Client) ID() string {
	return c.id
}

// Cache returns the read-only view of the store.
func (c *Client) Cache() cache.Reader {
	return c.store
}

func (c *Client) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// UpdateCacheEntry stores result under key and records the typenames found
// in its data.
func (c *Client) UpdateCacheEntry(ctx context.Context, key string, result *exchange.Result) (err error) {
	if result == nil {
		return errors.Newf("client: nil result for %q", key)
	}
	typenames := typename.Extract(result.Data)
	ctx, span := c.startSpan(ctx, "cache.update",
		attribute.String("cache.key", key),
		attribute.StringSlice("cache.typenames", typenames),
	)
	defer func() { endSpan(span, err) }()

	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		if err := c.store.Set(ctx, key, result); err != nil {
			return errors.Wrapf(err, "client: store %q", key)
		}
		if err := c.index.Record(ctx, key, typenames); err != nil {
			return errors.Wrapf(err, "client: index %q", key)
		}
		return nil
	})
}

// KeysForTypenames returns the keys of cached results that referenced any of
// typenames.
func (c *Client) KeysForTypenames(ctx context.Context, typenames []string) (keys []string, err error) {
	ctx, span := c.startSpan(ctx, "cache.lookup", attribute.StringSlice("cache.typenames", typenames))
	defer func() {
		span.SetAttributes(attribute.Int("cache.keys", len(keys)))
		endSpan(span, err)
	}()
	keys, err = c.index.KeysFor(ctx, typenames)
	if err != nil {
		return nil, errors.Wrap(err, "client: typename lookup")
	}
	return keys, nil
}

// DeleteCacheKeys removes keys from the store and index and broadcasts the
// deletion.
func (c *Client) DeleteCacheKeys(ctx context.Context, keys []string) (err error) {
	if len(keys) == 0 {
		return nil
	}
	ctx, span := c.startSpan(ctx, "cache.delete", attribute.StringSlice("cache.keys", keys))
	defer func() { endSpan(span, err) }()

	if err := c.deleteLocal(ctx, keys); err != nil {
		return err
	}
	return c.publish(ctx, InvalidationEvent{Sender: c.id, Action: ActionDelete, Keys: keys})
}

func (c *Client) deleteLocal(ctx context.Context, keys []string) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		var errs error
		for _, key := range keys {
			if err := c.store.Delete(ctx, key); err != nil {
				errs = errors.CombineErrors(errs, errors.Wrapf(err, "client: delete %q", key))
			}
		}
		if err := c.index.Forget(ctx, keys...); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "client: forget keys"))
		}
		return errs
	})
}

// ClearCache empties the store and index and broadcasts the clear.
func (c *Client) ClearCache(ctx context.Context) (err error) {
	ctx, span := c.startSpan(ctx, "cache.clear")
	defer func() { endSpan(span, err) }()

	if err := c.clearLocal(ctx); err != nil {
		return err
	}
	return c.publish(ctx, InvalidationEvent{Sender: c.id, Action: ActionClear})
}

func (c *Client) clearLocal(ctx context.Context) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		if err := c.store.Clear(ctx); err != nil {
			return errors.Wrap(err, "client: clear store")
		}
		if err := c.index.Clear(ctx); err != nil {
			return errors.Wrap(err, "client: clear index")
		}
		return nil
	})
}
