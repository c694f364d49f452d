package ratelimit

import (
	"testing"
	"time"
)

func TestRateLimitState_IsStale(t *testing.T) {
	tests := []struct {
		name     string
		age      time.Duration
		maxAge   time.Duration
		expected bool
	}{
		{name: "fresh state", age: 0, maxAge: 5 * time.Minute, expected: false},
		{name: "stale state", age: 10 * time.Minute, maxAge: 5 * time.Minute, expected: true},
		{name: "just under max age", age: 4 * time.Minute, maxAge: 5 * time.Minute, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &RateLimitState{LastUpdate: time.Now().Add(-tt.age)}
			if result := state.IsStale(tt.maxAge); result != tt.expected {
				t.Errorf("IsStale() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestRateLimitState_Remaining(t *testing.T) {
	future := time.Now().Add(5 * time.Minute)
	tests := []struct {
		name      string
		operating float64
		resetAt   time.Time
		expected  float64
	}{
		{name: "nothing consumed", operating: 0, resetAt: future, expected: OperatingLimit},
		{name: "partly consumed", operating: 100, resetAt: future, expected: OperatingLimit - 100},
		{name: "over the limit", operating: 500, resetAt: future, expected: 0},
		{name: "window already reset", operating: 470, resetAt: time.Now().Add(-time.Second), expected: OperatingLimit},
		{name: "unknown reset", operating: 470, expected: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &RateLimitState{OperatingSeconds: tt.operating, ResetAt: tt.resetAt}
			if got := state.Remaining(); got != tt.expected {
				t.Errorf("Remaining() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRateLimitState_Thresholds(t *testing.T) {
	future := time.Now().Add(5 * time.Minute)
	tests := []struct {
		name     string
		consumed float64
		critical bool
		low      bool
		healthy  bool
	}{
		{name: "fresh budget", consumed: 0, healthy: true},
		{name: "at healthy threshold", consumed: OperatingLimit - OperatingThresholdHealthy, healthy: true},
		{name: "below healthy", consumed: OperatingLimit - OperatingThresholdHealthy + 1},
		{name: "at warning threshold", consumed: OperatingLimit - OperatingThresholdWarning},
		{name: "below warning threshold", consumed: OperatingLimit - OperatingThresholdWarning + 1, low: true},
		{name: "at critical threshold", consumed: OperatingLimit - OperatingThresholdCritical, low: true},
		{name: "below critical threshold", consumed: OperatingLimit - OperatingThresholdCritical + 1, critical: true},
		{name: "exhausted", consumed: OperatingLimit, critical: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &RateLimitState{OperatingSeconds: tt.consumed, ResetAt: future}
			state.UpdateHealth()

			if got := state.NeedsCriticalBlock(); got != tt.critical {
				t.Errorf("NeedsCriticalBlock() = %v, want %v", got, tt.critical)
			}
			if got := state.IsLow(); got != tt.low {
				t.Errorf("IsLow() = %v, want %v", got, tt.low)
			}
			if state.IsHealthy != tt.healthy {
				t.Errorf("IsHealthy = %v, want %v", state.IsHealthy, tt.healthy)
			}
		})
	}
}

func TestRateLimitState_TimeUntilReset(t *testing.T) {
	tests := []struct {
		name    string
		resetAt time.Time
		min     time.Duration
		max     time.Duration
	}{
		{name: "reset in future", resetAt: time.Now().Add(30 * time.Second), min: 29 * time.Second, max: 31 * time.Second},
		{name: "reset in past", resetAt: time.Now().Add(-10 * time.Second), min: 0, max: 0},
		{name: "reset now", resetAt: time.Now(), min: 0, max: 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &RateLimitState{ResetAt: tt.resetAt}
			result := state.TimeUntilReset()
			if result < tt.min || result > tt.max {
				t.Errorf("TimeUntilReset() = %v, want between %v and %v", result, tt.min, tt.max)
			}
		})
	}
}
