package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Reader is the read-only view of a Store.
type Reader interface {
	// Get retrieves a value. Returns (nil, false, nil) on a miss.
	Get(ctx context.Context, key string) (any, bool, error)
	// Has reports whether key holds a live value.
	Has(ctx context.Context, key string) (bool, error)
}

// Store is a key/value store of cached results.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Set overwrites; the last write for a key wins.
//   - Delete is idempotent: no error on a miss.
type Store interface {
	Reader
	// Set stores val under key.
	Set(ctx context.Context, key string, val any) error
	// Delete removes key.
	Delete(ctx context.Context, key string) error
	// Clear removes every key owned by the store.
	Clear(ctx context.Context) error
	// Close releases the store's resources.
	Close() error
}

// GetAs retrieves a typed value from r.
// For in-memory stores, it performs a direct type assertion so the stored
// value itself is returned. For serialized stores (SQLite, Redis), it
// deserializes from []byte using msgpack.
func GetAs[T any](ctx context.Context, r Reader, key string) (bool, T, error) {
	var zero T
	val, found, err := r.Get(ctx, key)
	if !found || err != nil {
		return false, zero, err
	}
	if typed, ok := val.(T); ok {
		return true, typed, nil
	}
	if data, ok := val.([]byte); ok {
		var result T
		if err := msgpack.Unmarshal(data, &result); err != nil {
			return false, zero, errors.Wrapf(err, "cache: failed to unmarshal value for %q", key)
		}
		return true, result, nil
	}
	return false, zero, errors.Newf("cache: cannot convert value of type %T to %T", val, zero)
}

// DefaultQueryTimeout is the per-operation timeout for stores that perform
// I/O (SQLite, Redis).
const DefaultQueryTimeout = 5 * time.Second

// DefaultPrefix namespaces the keys of shared stores.
const DefaultPrefix = "exchange"

// config holds the resolved configuration for a store implementation.
type config struct {
	expires      time.Duration
	queryTimeout time.Duration
	expiryCheck  time.Duration
	prefix       string
}

// Option configures a Store implementation.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{
		queryTimeout: DefaultQueryTimeout,
		expiryCheck:  time.Minute,
		prefix:       DefaultPrefix,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.expiryCheck <= 0 {
		cfg.expiryCheck = time.Minute
	}
	return cfg
}

// WithExpires sets a TTL applied to every entry. Zero, the default, keeps
// entries until they are deleted or cleared.
func WithExpires(d time.Duration) Option {
	return func(c *config) { c.expires = d }
}

// WithQueryTimeout sets the per-operation timeout for I/O-backed stores.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithExpiryCheck sets the interval of the background sweep of expired
// entries. Applies to InMemory and SQLite when WithExpires is set.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithPrefix sets the key prefix used by the Redis store.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

func (c config) deadline(now time.Time) time.Time {
	if c.expires <= 0 {
		return time.Time{}
	}
	return now.Add(c.expires)
}
