package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupTestRedis connects to a local Redis and skips the test when none is running.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestStateKey(t *testing.T) {
	if got := stateKey("crm.deal.list"); got != "b24:rate_limit:crm.deal.list" {
		t.Errorf("stateKey() = %q", got)
	}
}

func TestTracker_GetState_Empty(t *testing.T) {
	tracker := NewTracker(setupTestRedis(t), zerolog.Nop())

	state, err := tracker.GetState(context.Background(), "crm.deal.list")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !state.IsHealthy {
		t.Error("Expected empty state to be healthy")
	}
	if state.Remaining() != OperatingLimit {
		t.Errorf("Remaining() = %v, want %v", state.Remaining(), OperatingLimit)
	}
}

func TestTracker_UpdateOperating(t *testing.T) {
	client := setupTestRedis(t)
	tracker := NewTracker(client, zerolog.Nop())
	ctx := context.Background()
	resetAt := time.Now().Add(5 * time.Minute).Truncate(time.Second)

	if err := tracker.UpdateOperating(ctx, "crm.deal.list", 100, resetAt); err != nil {
		t.Fatalf("UpdateOperating() error = %v", err)
	}

	state, err := tracker.GetState(ctx, "crm.deal.list")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.OperatingSeconds != 100 {
		t.Errorf("OperatingSeconds = %v, want 100", state.OperatingSeconds)
	}
	if !state.ResetAt.Equal(resetAt) {
		t.Errorf("ResetAt = %v, want %v", state.ResetAt, resetAt)
	}

	ttl := client.TTL(ctx, stateKey("crm.deal.list")).Val()
	if ttl <= 0 || ttl > 5*time.Minute {
		t.Errorf("TTL = %v, want within the window", ttl)
	}

	// other methods are tracked separately
	other, err := tracker.GetState(ctx, "crm.contact.list")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if other.OperatingSeconds != 0 {
		t.Errorf("unrelated method OperatingSeconds = %v, want 0", other.OperatingSeconds)
	}
}

func TestTracker_ShouldAllowRequest(t *testing.T) {
	tests := []struct {
		name      string
		operating float64
		allowed   bool
	}{
		{name: "healthy", operating: 10, allowed: true},
		{name: "low budget is not throttled", operating: OperatingLimit - 30, allowed: true},
		{name: "critical", operating: OperatingLimit - 5, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(setupTestRedis(t), zerolog.Nop())
			ctx := context.Background()

			if err := tracker.UpdateOperating(ctx, "crm.deal.list", tt.operating, time.Now().Add(time.Minute)); err != nil {
				t.Fatalf("UpdateOperating() error = %v", err)
			}

			start := time.Now()
			allowed, err := tracker.ShouldAllowRequest(ctx, "crm.deal.list")
			if err != nil {
				t.Fatalf("ShouldAllowRequest() error = %v", err)
			}
			if allowed != tt.allowed {
				t.Errorf("ShouldAllowRequest() = %v, want %v", allowed, tt.allowed)
			}
			if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
				t.Errorf("ShouldAllowRequest() took %v, expected no sleeping", elapsed)
			}
		})
	}
}

func TestTracker_UpdateOperating_PastReset(t *testing.T) {
	client := setupTestRedis(t)
	tracker := NewTracker(client, zerolog.Nop())
	ctx := context.Background()

	if err := tracker.UpdateOperating(ctx, "crm.deal.list", 479, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("UpdateOperating() error = %v", err)
	}
	if n := client.Exists(ctx, stateKey("crm.deal.list")).Val(); n != 0 {
		t.Errorf("expected no state for an elapsed window, found %d keys", n)
	}
}
