package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrNoLayers is returned by NewManager when neither layer is configured
	ErrNoLayers = errors.New("cache has no layers configured")
)

// DefaultTTL is used when Config.TTL is zero.
const DefaultTTL = 24 * time.Hour

// Config configures the cache layers.
type Config struct {
	// MemorySize is the maximum number of entries kept in memory.
	// Zero disables the memory layer.
	MemorySize int

	// TTL is how long a stored body stays valid.
	TTL time.Duration

	// Redis enables the shared layer when non-nil.
	Redis *redis.Client
}

// Manager handles caching operations across the memory and Redis layers.
type Manager struct {
	memory *expirable.LRU[string, *CacheEntry]
	redis  *redis.Client
	ttl    time.Duration
}

// NewManager creates a cache manager. At least one layer must be configured.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.MemorySize < 0 {
		return nil, fmt.Errorf("memory size must be >= 0, got %d", cfg.MemorySize)
	}
	if cfg.MemorySize == 0 && cfg.Redis == nil {
		return nil, ErrNoLayers
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	m := &Manager{
		redis: cfg.Redis,
		ttl:   ttl,
	}
	if cfg.MemorySize > 0 {
		m.memory = expirable.NewLRU[string, *CacheEntry](cfg.MemorySize, nil, ttl)
	}
	return m, nil
}

// TTL returns the lifetime given to stored entries.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if no layer holds a fresh entry.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	cacheKey := key.String()

	if m.memory != nil {
		if entry, ok := m.memory.Get(cacheKey); ok && !entry.IsExpired() {
			CacheHits.WithLabelValues("memory").Inc()
			return entry, nil
		}
	}

	if m.redis == nil {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	data, err := m.redis.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if err := entry.validate(); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, err
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("redis").Inc()
	m.remember(cacheKey, &entry)
	return &entry, nil
}

// Set stores data under key in every layer for the manager's TTL.
func (m *Manager) Set(ctx context.Context, key CacheKey, data []byte) error {
	if data == nil {
		return fmt.Errorf("cache data cannot be nil")
	}

	return m.SetEntry(ctx, key, NewEntry(data, m.ttl, time.Now()))
}

// SetEntry stores a prepared entry, keeping its Expires time.
// Entries that are already expired are not stored.
func (m *Manager) SetEntry(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	cacheKey := key.String()
	m.remember(cacheKey, entry)

	if m.redis == nil {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, cacheKey, data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a cache entry from every layer.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	cacheKey := key.String()

	if m.memory != nil {
		m.memory.Remove(cacheKey)
		CacheEntries.WithLabelValues("memory").Set(float64(m.memory.Len()))
	}

	if m.redis == nil {
		return nil
	}
	if err := m.redis.Del(ctx, cacheKey).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Len returns the number of entries in the memory layer.
func (m *Manager) Len() int {
	if m.memory == nil {
		return 0
	}
	return m.memory.Len()
}

func (m *Manager) remember(cacheKey string, entry *CacheEntry) {
	if m.memory == nil {
		return
	}
	m.memory.Add(cacheKey, entry)
	CacheEntries.WithLabelValues("memory").Set(float64(m.memory.Len()))
}
