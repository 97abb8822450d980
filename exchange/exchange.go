package exchange

import (
	"context"

	"github.com/agentuity/go-exchange/cache"
	"github.com/agentuity/go-exchange/stream"
	"github.com/cockroachdb/errors"
)

// Exchange processes one operation into a stream of results.
type Exchange func(op *Operation) *stream.Stream[*Result]

// Factory builds an exchange around its forward continuation.
type Factory func(client Client, forward Exchange) Exchange

// Client is the handle exchanges use to reach the shared cache. All writes to
// the store and the typename index go through UpdateCacheEntry and
// DeleteCacheKeys.
type Client interface {
	// Cache returns the read-only view of the store.
	Cache() cache.Reader
	// UpdateCacheEntry stores result under key and indexes its typenames.
	UpdateCacheEntry(ctx context.Context, key string, result *Result) error
	// DeleteCacheKeys removes keys from the store and the index.
	DeleteCacheKeys(ctx context.Context, keys []string) error
	// KeysForTypenames returns the cached keys whose results referenced any of typenames.
	KeysForTypenames(ctx context.Context, typenames []string) ([]string, error)
}

// ErrNoExchange is returned for operations that reach the end of a pipeline.
var ErrNoExchange = errors.New("exchange: no exchange handled the operation")

// Fallback terminates a pipeline. Teardowns complete silently, anything else fails.
func Fallback(op *Operation) *stream.Stream[*Result] {
	if op.Kind == KindTeardown {
		return stream.Empty[*Result]()
	}
	return stream.Fail[*Result](errors.Wrapf(ErrNoExchange, "%s %s", op.Kind, op.Key))
}

// Compose chains factories so the first one sees operations first and the
// last one forwards to Fallback.
func Compose(client Client, factories ...Factory) Exchange {
	next := Exchange(Fallback)
	for i := len(factories) - 1; i >= 0; i-- {
		next = factories[i](client, next)
	}
	return next
}
