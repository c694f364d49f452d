package cache

import (
	"encoding/json"
	"time"
)

// CacheEntry represents a cached method response.
type CacheEntry struct {
	// Result is the raw "result" member of the response
	Result json.RawMessage `json:"result"`

	// Total and Next are the pagination fields of list responses
	Total *int `json:"total,omitempty"`
	Next  *int `json:"next,omitempty"`

	// Expires is when the entry becomes stale
	Expires time.Time `json:"expires"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`
}

// NewEntry builds an entry that expires ttl from now.
func NewEntry(result json.RawMessage, total, next *int, ttl time.Duration) *CacheEntry {
	now := time.Now()
	return &CacheEntry{
		Result:   result,
		Total:    total,
		Next:     next,
		Expires:  now.Add(ttl),
		CachedAt: now,
	}
}

// IsExpired returns true if the cache entry has expired.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *CacheEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
