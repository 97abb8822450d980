// Package typename finds the entity types referenced by a result payload and
// indexes cache keys by those types.
//
// [Extract] walks a decoded result (maps and slices as produced by JSON or
// msgpack decoding) and returns every distinct value of the reserved
// "__typename" field. An [Index] remembers, for each typename, which cache
// keys hold a result that referenced it, so that a mutation touching a type can
// evict exactly those keys.
//
// Two indexes are provided: [NewMemoryIndex] for a single process and
// [NewRedisIndex] when several processes share one cache.
//
// Index entries are only added on write and removed through [Index.Forget] or
// [Index.Clear]. Overwriting a key with a result that no longer references a
// type leaves the stale association in place; the cost is an occasional
// redundant eviction, never a stale hit.
package typename
