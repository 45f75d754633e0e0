package flow

import (
	"math/rand"
	"testing"
	"time"
)

func TestRetryPolicyValidate(t *testing.T) {
	cases := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{"default is valid", DefaultRetryPolicy(), false},
		{"single attempt", RetryPolicy{MaxAttempts: 1}, false},
		{"zero attempts", RetryPolicy{MaxAttempts: 0}, true},
		{"negative attempts", RetryPolicy{MaxAttempts: -1}, true},
		{"max below base", RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Millisecond}, true},
		{"uncapped", RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.policy.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestComputeBackoff(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	base := 100 * time.Millisecond

	t.Run("grows exponentially", func(t *testing.T) {
		for attempt := 0; attempt < 4; attempt++ {
			got := computeBackoff(attempt, base, 0, rng)
			min := base * (1 << attempt)
			max := min + base
			if got < min || got > max {
				t.Errorf("attempt %d: delay %v outside [%v, %v]", attempt, got, min, max)
			}
		}
	})

	t.Run("cap bounds growth", func(t *testing.T) {
		maxDelay := 300 * time.Millisecond
		got := computeBackoff(10, base, maxDelay, rng)
		if got > maxDelay+base {
			t.Errorf("delay %v exceeds cap plus jitter", got)
		}
	})

	t.Run("zero base means no delay", func(t *testing.T) {
		if got := computeBackoff(3, 0, time.Second, rng); got != 0 {
			t.Errorf("delay = %v, want 0", got)
		}
	})

	t.Run("large attempt does not overflow", func(t *testing.T) {
		got := computeBackoff(100, base, time.Minute, rng)
		if got < 0 || got > time.Minute+base {
			t.Errorf("delay = %v", got)
		}
	})
}
