package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// scanCount is the SCAN batch hint used by Invalidate.
const scanCount = 100

// LoadFunc produces the entry for a key on a cache miss.
type LoadFunc func(ctx context.Context) (*CacheEntry, error)

// Manager stores method responses in Redis.
type Manager struct {
	redis  redis.Cmdable
	logger zerolog.Logger
}

// NewManager creates a cache manager. It panics on a nil client.
func NewManager(redisClient redis.Cmdable) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{redis: redisClient, logger: zerolog.Nop()}
}

// SetLogger sets the logger used for Redis failures that Fetch swallows.
func (m *Manager) SetLogger(logger zerolog.Logger) {
	m.logger = logger
}

// Get returns the live entry stored under key, or ErrCacheMiss.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		b24CacheMissesTotal.WithLabelValues(key.Method).Inc()
		return nil, ErrCacheMiss
	case err != nil:
		b24CacheErrorsTotal.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		b24CacheErrorsTotal.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	// Redis expiry has second granularity
	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		b24CacheMissesTotal.WithLabelValues(key.Method).Inc()
		return nil, ErrCacheMiss
	}

	b24CacheHitsTotal.WithLabelValues(key.Method).Inc()
	return &entry, nil
}

// Set stores entry under key until it expires. Expired entries are dropped.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		b24CacheErrorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		b24CacheErrorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	b24CacheEntryBytes.Observe(float64(len(data)))
	return nil
}

// Fetch returns the cached entry for key, calling load on a miss and storing
// its result for ttl. hit reports whether the entry came from Redis. Redis
// failures are logged and never fail the fetch; only load errors are returned.
func (m *Manager) Fetch(ctx context.Context, key CacheKey, ttl time.Duration, load LoadFunc) (*CacheEntry, bool, error) {
	entry, err := m.Get(ctx, key)
	if err == nil {
		return entry, true, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		m.logger.Warn().Err(err).Str("method", key.Method).Msg("Cache get error")
	}

	entry, err = load(ctx)
	if err != nil || entry == nil {
		return entry, false, err
	}

	stored := *entry
	stored.CachedAt = time.Now()
	stored.Expires = stored.CachedAt.Add(ttl)
	if err := m.Set(ctx, key, &stored); err != nil {
		m.logger.Warn().Err(err).Str("method", key.Method).Msg("Failed to cache response")
	}
	return entry, false, nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		b24CacheErrorsTotal.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Invalidate removes every cached response of method on portal, whatever its
// parameters, and returns the number of removed entries.
func (m *Manager) Invalidate(ctx context.Context, portal, method string) (int64, error) {
	base := CacheKey{Portal: portal, Method: method}.String()

	keys := []string{base}
	iter := m.redis.Scan(ctx, 0, base+":*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		b24CacheErrorsTotal.WithLabelValues("invalidate").Inc()
		return 0, fmt.Errorf("redis scan: %w", err)
	}

	removed, err := m.redis.Del(ctx, keys...).Result()
	if err != nil {
		b24CacheErrorsTotal.WithLabelValues("invalidate").Inc()
		return 0, fmt.Errorf("redis del: %w", err)
	}
	b24CacheInvalidationsTotal.WithLabelValues(method).Add(float64(removed))
	return removed, nil
}
