package main

import (
	"context"
	"time"

	"github.com/agentuity/go-exchange/cache"
	"github.com/agentuity/go-exchange/eventing"
	"github.com/agentuity/go-exchange/logger"
	"github.com/agentuity/go-exchange/typename"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
	// StoreTiered keeps an in-memory copy in front of redis.
	StoreTiered = "tiered"
)

type backendConfig struct {
	store      string
	redisURL   string
	sqlitePath string
	prefix     string
	expires    time.Duration
}

// backend is the storage behind a client. events is nil unless the store is
// shared through redis.
type backend struct {
	store   cache.Store
	index   typename.Index
	events  eventing.Client
	closers []func() error
}

func (b *backend) Close() error {
	var errs error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

func openBackend(ctx context.Context, log logger.Logger, cfg backendConfig) (*backend, error) {
	storeOpts := []cache.Option{cache.WithExpires(cfg.expires), cache.WithPrefix(cfg.prefix)}
	b := &backend{}

	var rdb redis.UniversalClient
	if cfg.store == StoreRedis || cfg.store == StoreTiered {
		opts, err := redis.ParseURL(cfg.redisURL)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing redis url")
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, errors.Wrap(err, "error connecting to redis")
		}
		rdb = client
		b.closers = append(b.closers, client.Close)
		b.events = eventing.NewRedisClient(ctx, log, rdb)
		b.closers = append(b.closers, b.events.Close)
		b.index = typename.NewRedisIndex(rdb, cfg.prefix+"-typename")
	}

	switch cfg.store {
	case StoreMemory:
		b.store = cache.NewInMemory(ctx, storeOpts...)
		b.index = typename.NewMemoryIndex()
	case StoreSQLite:
		store, err := cache.NewSQLite(ctx, cfg.sqlitePath, storeOpts...)
		if err != nil {
			return nil, err
		}
		b.store = store
		// the index shares the database file so invalidation sees entries
		// written by earlier sessions
		idx, err := typename.NewSQLiteIndex(ctx, cfg.sqlitePath)
		if err != nil {
			store.Close()
			return nil, err
		}
		b.index = idx
		b.closers = append(b.closers, idx.Close)
	case StoreRedis:
		b.store = cache.NewRedis(rdb, storeOpts...)
	case StoreTiered:
		b.store = cache.NewComposite(cache.NewInMemory(ctx, storeOpts...), cache.NewRedis(rdb, storeOpts...))
	default:
		b.Close()
		return nil, errors.Newf("unknown store %q, expected one of memory, redis, sqlite, tiered", cfg.store)
	}
	b.closers = append(b.closers, b.store.Close)
	return b, nil
}
