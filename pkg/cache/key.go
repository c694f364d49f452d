package cache

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash"
)

// CacheKey identifies a cached method response.
type CacheKey struct {
	// Portal is the portal host (e.g., "example.bitrix24.com")
	Portal string

	// Method is the REST method name (e.g., "crm.status.list")
	Method string

	// Query is the encoded request parameters
	Query string
}

// String generates a deterministic cache key string.
// Format: b24:portal:method:hash
//
// Example:
//
//	b24:example.bitrix24.com:crm.status.list:9f1c4a2be0d17a53
func (k CacheKey) String() string {
	parts := []string{"b24"}

	if k.Portal != "" {
		parts = append(parts, strings.ToLower(k.Portal))
	}

	parts = append(parts, strings.ToLower(strings.TrimSpace(k.Method)))

	if k.Query != "" {
		parts = append(parts, strconv.FormatUint(xxhash.Sum64String(k.Query), 16))
	}

	return strings.Join(parts, ":")
}
