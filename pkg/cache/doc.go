// Package cache keeps registry responses between fetches.
//
// The exporter walks a registry whose detail records rarely change, so a
// rerun that fetches the same records again can be served locally. The
// Manager has two layers:
//
//   - memory: a bounded, expiring LRU (golang-lru/v2/expirable) that lives
//     for the duration of one process
//   - redis: an optional shared layer that survives reruns and can be
//     used by several hosts
//
// Reads check memory first, then Redis; a Redis hit is copied into
// memory. Writes go to every configured layer with the same TTL.
//
// # Basic Usage
//
//	manager, err := cache.NewManager(cache.Config{
//		MemorySize: 1024,
//		TTL:        24 * time.Hour,
//		Redis:      redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	})
//
//	key := cache.NewKey("https://registry.example/mit/42", nil)
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the registry, then
//		_ = manager.Set(ctx, key, body)
//	}
//
// # Metrics
//
//   - mit_cache_hits_total{layer} - hits per layer (memory, redis)
//   - mit_cache_misses_total - lookups that missed every layer
//   - mit_cache_entries{layer="memory"} - entries held in memory
//   - mit_cache_errors_total{operation} - failed Redis operations
package cache
