package cache

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewEntry(t *testing.T) {
	total := 120
	entry := NewEntry(json.RawMessage(`[{"ID":"1"}]`), &total, nil, 5*time.Minute)

	if string(entry.Result) != `[{"ID":"1"}]` {
		t.Errorf("Result = %s, want the raw result", entry.Result)
	}
	if entry.Total == nil || *entry.Total != 120 {
		t.Errorf("Total = %v, want 120", entry.Total)
	}
	if entry.Next != nil {
		t.Errorf("Next = %v, want nil", *entry.Next)
	}
	if entry.CachedAt.IsZero() {
		t.Error("CachedAt was not set")
	}
	if ttl := entry.TTL(); ttl < 4*time.Minute || ttl > 5*time.Minute {
		t.Errorf("TTL() = %v, want about 5m", ttl)
	}
}

func TestCacheEntry_IsExpired(t *testing.T) {
	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{name: "expired entry", expires: time.Now().Add(-1 * time.Hour), want: true},
		{name: "valid entry", expires: time.Now().Add(1 * time.Hour), want: false},
		{name: "just expired", expires: time.Now().Add(-1 * time.Second), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &CacheEntry{Expires: tt.expires}
			if got := entry.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCacheEntry_TTL_Expired(t *testing.T) {
	entry := &CacheEntry{Expires: time.Now().Add(-1 * time.Hour)}
	if got := entry.TTL(); got != 0 {
		t.Errorf("TTL() = %v, want 0", got)
	}
}

func TestCacheEntry_JSON(t *testing.T) {
	next := 50
	entry := NewEntry(json.RawMessage(`{"ID":"7"}`), nil, &next, time.Minute)

	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded CacheEntry
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if string(decoded.Result) != `{"ID":"7"}` {
		t.Errorf("Result = %s, want raw object preserved", decoded.Result)
	}
	if decoded.Next == nil || *decoded.Next != 50 {
		t.Errorf("Next = %v, want 50", decoded.Next)
	}
}
