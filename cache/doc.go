// Package cache provides the key/value stores that hold cached results.
//
// # Store Interface
//
// The [Store] interface defines [Reader.Get], [Reader.Has], [Store.Set],
// [Store.Delete], [Store.Clear] and [Store.Close]. Keys are opaque strings;
// the cache exchange uses an operation's key. Consumers that only read, such
// as the exchange itself, depend on [Reader].
//
// # Implementations
//
//   - [NewInMemory]: In-process map guarded by a mutex. Values are stored
//     as-is (no copying), so a hit returns the exact value that was written.
//
//   - [NewRedis]: Backed by Redis using [github.com/redis/go-redis/v9].
//     Values are msgpack encoded. Keys are namespaced with [WithPrefix]
//     (default [DefaultPrefix]) and [Store.Clear] only removes keys under
//     that prefix. Use it when several processes share one cache.
//
//   - [NewSQLite]: Backed by SQLite using [modernc.org/sqlite] (pure Go).
//     Values are msgpack BLOBs. Survives restarts when file backed.
//
//   - [NewComposite]: Chains stores: reads return the first hit, writes and
//     deletes go to every store.
//
// # Expiry
//
// Entries live until they are deleted or cleared. [WithExpires] adds an
// optional TTL; size or LRU eviction is not provided.
//
// # Typed Reads
//
// [GetAs] wraps [Reader.Get] with type safety. For the in-memory store it is a
// type assertion; for serialized stores it decodes the msgpack bytes.
//
//	found, res, err := cache.GetAs[*exchange.Result](ctx, store, op.Key)
package cache
