package typename

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// redisIndex keeps one SET of cache keys per typename and a reverse SET of
// typenames per cache key so Forget does not need to scan.
type redisIndex struct {
	rdb    redis.UniversalClient
	prefix string
}

var _ Index = (*redisIndex)(nil)

// NewRedisIndex returns an Index stored in redis under prefix. The caller owns
// the client lifecycle.
func NewRedisIndex(rdb redis.UniversalClient, prefix string) Index {
	if prefix == "" {
		prefix = "typename"
	}
	return &redisIndex{rdb: rdb, prefix: prefix}
}

func (i *redisIndex) typeKey(t string) string {
	return i.prefix + ":type:" + t
}

func (i *redisIndex) reverseKey(key string) string {
	return i.prefix + ":key:" + key
}

func (i *redisIndex) Record(ctx context.Context, key string, typenames []string) error {
	if len(typenames) == 0 {
		return nil
	}
	members := make([]interface{}, 0, len(typenames))
	pipe := i.rdb.TxPipeline()
	for _, t := range typenames {
		pipe.SAdd(ctx, i.typeKey(t), key)
		members = append(members, t)
	}
	pipe.SAdd(ctx, i.reverseKey(key), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "typename: record %q", key)
	}
	return nil
}

func (i *redisIndex) KeysFor(ctx context.Context, typenames []string) ([]string, error) {
	if len(typenames) == 0 {
		return nil, nil
	}
	sets := make([]string, 0, len(typenames))
	for _, t := range typenames {
		sets = append(sets, i.typeKey(t))
	}
	keys, err := i.rdb.SUnion(ctx, sets...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "typename: lookup keys")
	}
	sort.Strings(keys)
	return keys, nil
}

func (i *redisIndex) Forget(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		typenames, err := i.rdb.SMembers(ctx, i.reverseKey(key)).Result()
		if err != nil {
			return errors.Wrapf(err, "typename: forget %q", key)
		}
		pipe := i.rdb.TxPipeline()
		for _, t := range typenames {
			pipe.SRem(ctx, i.typeKey(t), key)
		}
		pipe.Del(ctx, i.reverseKey(key))
		if _, err := pipe.Exec(ctx); err != nil {
			return errors.Wrapf(err, "typename: forget %q", key)
		}
	}
	return nil
}

func (i *redisIndex) Clear(ctx context.Context) error {
	iter := i.rdb.Scan(ctx, 0, i.prefix+":*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := i.rdb.Del(ctx, batch...).Err(); err != nil {
				return errors.Wrap(err, "typename: clear")
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, "typename: clear")
	}
	if len(batch) > 0 {
		if err := i.rdb.Del(ctx, batch...).Err(); err != nil {
			return errors.Wrap(err, "typename: clear")
		}
	}
	return nil
}
