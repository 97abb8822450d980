// Package exchange defines the operation pipeline of the client and the cache
// exchange that sits in it.
//
// An [Exchange] turns an [Operation] into a stream of [Result] values. Exchanges
// are composed with [Compose]: each stage receives the next one as its forward
// continuation and decides whether to answer an operation itself or delegate.
//
// The cache exchange built by [NewCacheExchange] answers queries from the
// client's store when it can, writes forwarded query results back through
// [Client.UpdateCacheEntry], and after each mutation result evicts every cached
// query whose result referenced one of the mutation result's typenames. Cache
// writes and evictions run as detached [Tasks]; they never delay or fail the
// result delivered to the caller.
//
//	client := client.New(cache.NewInMemory(ctx), typename.NewMemoryIndex())
//	run := exchange.Compose(client, exchange.CacheExchange(), fetchExchange)
//	results, err := stream.Collect(ctx, run(op))
package exchange
