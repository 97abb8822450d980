package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

type redisStore struct {
	client redis.UniversalClient
	cfg    config
}

var _ Store = (*redisStore)(nil)

// NewRedis returns a Store backed by Redis. Values are msgpack encoded and
// Get returns the raw []byte; use GetAs to decode. Keys are namespaced with
// the configured prefix, which also bounds what Clear removes.
// The caller owns the redis client lifecycle, Close is a no-op on the client.
func NewRedis(client redis.UniversalClient, opts ...Option) Store {
	return &redisStore{client: client, cfg: applyOptions(opts)}
}

func (c *redisStore) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *redisStore) prefixKey(key string) string {
	if c.cfg.prefix == "" {
		return key
	}
	return c.cfg.prefix + ":" + key
}

func (c *redisStore) Get(ctx context.Context, key string) (any, bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	data, err := c.client.Get(qctx, c.prefixKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "cache: redis get %q", key)
	}
	return data, true, nil
}

func (c *redisStore) Has(ctx context.Context, key string) (bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	n, err := c.client.Exists(qctx, c.prefixKey(key)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "cache: redis exists %q", key)
	}
	return n > 0, nil
}

func (c *redisStore) Set(ctx context.Context, key string, val any) error {
	data, err := msgpack.Marshal(val)
	if err != nil {
		return errors.Wrapf(err, "cache: marshal %q", key)
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	// a zero expiration keeps the key until it is deleted
	if err := c.client.Set(qctx, c.prefixKey(key), data, c.cfg.expires).Err(); err != nil {
		return errors.Wrapf(err, "cache: redis set %q", key)
	}
	return nil
}

func (c *redisStore) Delete(ctx context.Context, key string) error {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	if err := c.client.Del(qctx, c.prefixKey(key)).Err(); err != nil {
		return errors.Wrapf(err, "cache: redis del %q", key)
	}
	return nil
}

func (c *redisStore) Clear(ctx context.Context) error {
	if c.cfg.prefix == "" {
		return errors.New("cache: refusing to clear a redis store without a prefix")
	}
	qctx, cancel := context.WithTimeout(ctx, c.cfg.queryTimeout*time.Duration(10))
	defer cancel()
	iter := c.client.Scan(qctx, 0, c.cfg.prefix+":*", 200).Iterator()
	batch := make([]string, 0, 200)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := c.client.Del(qctx, batch...).Err()
		batch = batch[:0]
		return err
	}
	for iter.Next(qctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return errors.Wrap(err, "cache: redis clear")
			}
		}
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, "cache: redis clear")
	}
	if err := flush(); err != nil {
		return errors.Wrap(err, "cache: redis clear")
	}
	return nil
}

// Close is a no-op, the caller owns the redis client lifecycle.
func (c *redisStore) Close() error {
	return nil
}
