package gateway

import (
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyNextDelay(t *testing.T) {
	cfg := RetryPolicyConfig{
		FirstBackoff: time.Second,
		MaxBackoff:   60 * time.Second,
		JitterRatio:  0, // isolate the exponential curve from jitter
	}
	policy := NewRetryPolicy(cfg)

	tests := []struct {
		attempts uint32
		want     time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{7, 60 * time.Second}, // 1s * 2^6 = 64s, capped at 60s
		{20, 60 * time.Second},
	}

	for _, tt := range tests {
		got := policy.NextDelay(tt.attempts)
		if got != tt.want {
			t.Errorf("NextDelay(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestRetryPolicyJitterBounded(t *testing.T) {
	cfg := RetryPolicyConfig{
		FirstBackoff: time.Second,
		MaxBackoff:   60 * time.Second,
		JitterRatio:  0.5,
	}
	policy := NewRetryPolicy(cfg)

	base := time.Second
	low := time.Duration(float64(base) * 0.5)
	high := time.Duration(float64(base) * 1.5)

	seen := make(map[time.Duration]struct{})
	for i := 0; i < 1000; i++ {
		d := policy.NextDelay(1)
		if d < low || d > high {
			t.Fatalf("NextDelay(1) = %v, want within [%v, %v]", d, low, high)
		}
		seen[d] = struct{}{}
	}
	if len(seen) < 5 {
		t.Errorf("jitter produced only %d unique values across 1000 samples, want variety", len(seen))
	}
}

func TestRetryPolicyShouldRetry(t *testing.T) {
	policy := NewRetryPolicy(DefaultRetryPolicyConfig())

	if policy.ShouldRetry(nil, 1) {
		t.Error("ShouldRetry(nil) = true, want false")
	}
	if !policy.ShouldRetry(ErrTransport, 1) {
		t.Error("ShouldRetry(ErrTransport) = false, want true")
	}
	if !policy.ShouldRetry(ErrZombieConnection, 1) {
		t.Error("ShouldRetry(ErrZombieConnection) = false, want true")
	}
	if policy.ShouldRetry(ErrAuthenticationFailed, 1) {
		t.Error("ShouldRetry(ErrAuthenticationFailed) = true, want false")
	}
	if policy.ShouldRetry(ErrFatalClose, 1) {
		t.Error("ShouldRetry(ErrFatalClose) = true, want false")
	}
	wrapped := errors.New("wrapped")
	closeErr := &CloseError{Code: CloseInvalidIntents, Reason: "bad intents"}
	if policy.ShouldRetry(closeErr, 1) {
		t.Error("ShouldRetry(fatal close code) = true, want false")
	}
	_ = wrapped
}

func TestRetryPolicyMaxRetries(t *testing.T) {
	cfg := DefaultRetryPolicyConfig()
	cfg.MaxRetries = 3
	policy := NewRetryPolicy(cfg)

	if !policy.ShouldRetry(ErrTransport, 2) {
		t.Error("ShouldRetry at attempts=2 with MaxRetries=3 = false, want true")
	}
	if policy.ShouldRetry(ErrTransport, 3) {
		t.Error("ShouldRetry at attempts=3 with MaxRetries=3 = true, want false")
	}
}

func TestRetryContextResetAndNext(t *testing.T) {
	rc := &RetryContext{}
	if rc.Attempts() != 0 {
		t.Fatalf("new RetryContext.Attempts() = %d, want 0", rc.Attempts())
	}
	for i := uint32(1); i <= 3; i++ {
		if got := rc.Next(); got != i {
			t.Errorf("Next() = %d, want %d", got, i)
		}
	}
	rc.Reset()
	if rc.Attempts() != 0 {
		t.Errorf("after Reset, Attempts() = %d, want 0", rc.Attempts())
	}
	if rc.ResetCount() != 1 {
		t.Errorf("ResetCount() = %d, want 1", rc.ResetCount())
	}
}
