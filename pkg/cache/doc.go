// Package cache provides a Redis-backed response cache for read-only REST
// methods.
//
// Bitrix24 answers carry no cache validators, so the cache is a plain TTL
// store: the client decides which methods are safe to cache (reference data
// such as crm.status.list or user.fields) and for how long. List and batch
// calls made by the bulk engine are never cached unless explicitly listed.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient)
//
//	key := cache.CacheKey{
//		Portal: "example.bitrix24.com",
//		Method: "crm.status.list",
//		Query:  "filter[ENTITY_ID]=STATUS",
//	}
//
//	entry, hit, err := manager.Fetch(ctx, key, 5*time.Minute, func(ctx context.Context) (*cache.CacheEntry, error) {
//		// call the portal
//	})
//
// # Invalidation
//
// Invalidate drops every cached variant of one method on one portal. The
// client calls it for the cached reads of an entity whenever a write method
// of that entity (add, update, delete, set) succeeds.
//
// # Keys
//
// Keys are b24:<portal>:<method>:<hash>, where hash is the xxhash of the
// encoded query. The encoder sorts parameter names, so equal parameter sets
// always produce the same key.
//
// # Metrics
//
//   - b24_cache_hits_total{method} - Cache hits
//   - b24_cache_misses_total{method} - Cache misses
//   - b24_cache_entry_bytes - Size of stored entries
//   - b24_cache_invalidations_total{method} - Entries removed by invalidation
//   - b24_cache_errors_total{operation} - Cache operation errors
package cache
