package gateway

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// RetryPolicyConfig configures RetryPolicy's jittered exponential backoff.
type RetryPolicyConfig struct {
	FirstBackoff time.Duration
	MaxBackoff   time.Duration
	// JitterRatio is the maximum jitter fraction applied symmetrically: the
	// returned delay lies within [base*(1-JitterRatio), base*(1+JitterRatio)].
	JitterRatio float64
	// MaxRetries caps RetryContext.attempts before ShouldRetry reports false.
	// Zero means unlimited.
	MaxRetries uint32
}

// DefaultRetryPolicyConfig returns a 1s base doubling backoff, capped at
// 60s, with 50% jitter and unlimited retries.
func DefaultRetryPolicyConfig() RetryPolicyConfig {
	return RetryPolicyConfig{
		FirstBackoff: 1 * time.Second,
		MaxBackoff:   60 * time.Second,
		JitterRatio:  0.5,
		MaxRetries:   0,
	}
}

// RetryPolicy computes jittered exponential backoff delays and classifies
// errors as retriable or fatal.
type RetryPolicy struct {
	cfg RetryPolicyConfig
}

// NewRetryPolicy constructs a RetryPolicy from cfg.
func NewRetryPolicy(cfg RetryPolicyConfig) *RetryPolicy {
	return &RetryPolicy{cfg: cfg}
}

// NextDelay returns the backoff delay for the given 1-indexed attempt count:
// min(firstBackoff * 2^(attempts-1), maxBackoff) * (1 + U[-jitter, +jitter]),
// clamped non-negative.
func (p *RetryPolicy) NextDelay(attempts uint32) time.Duration {
	if attempts == 0 {
		attempts = 1
	}
	shift := attempts - 1
	// Cap the shift so the multiply can't overflow before the MaxBackoff
	// clamp gets a chance to apply.
	const maxShift = 32
	if shift > maxShift {
		shift = maxShift
	}

	base := p.cfg.FirstBackoff * time.Duration(1<<shift)
	if base <= 0 || base > p.cfg.MaxBackoff {
		base = p.cfg.MaxBackoff
	}

	jitter := jitterFraction(p.cfg.JitterRatio)
	delay := time.Duration(float64(base) * (1 + jitter))
	if delay < 0 {
		delay = 0
	}
	return delay
}

// jitterFraction returns a uniformly random value in [-ratio, +ratio].
func jitterFraction(ratio float64) float64 {
	if ratio <= 0 {
		return 0
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	u := binary.BigEndian.Uint64(buf[:])
	f := float64(u) / float64(^uint64(0)) // [0, 1]
	return (f*2 - 1) * ratio
}

// ShouldRetry reports whether err is retriable. Any error is retriable
// unless it is marked fatal (authentication failure, an explicit
// non-resumable fatal close, or retry exhaustion).
func (p *RetryPolicy) ShouldRetry(err error, attempts uint32) bool {
	if err == nil {
		return false
	}
	if isFatal(err) {
		return false
	}
	if p.cfg.MaxRetries > 0 && attempts >= p.cfg.MaxRetries {
		return false
	}
	return true
}

// Exhausted reports whether the attempt budget has run out.
func (p *RetryPolicy) Exhausted(attempts uint32) bool {
	return p.cfg.MaxRetries > 0 && attempts >= p.cfg.MaxRetries
}

// RetryContext tracks the per-client retry attempt counter. Created once per
// GatewayClient; Next is called per retry, Reset on successful ready/resume.
type RetryContext struct {
	attempts   uint32
	resetCount uint32
}

// Attempts returns the current attempt counter.
func (c *RetryContext) Attempts() uint32 { return c.attempts }

// Next increments and returns the new attempt counter, called once per
// retry scheduled by the supervisor loop.
func (c *RetryContext) Next() uint32 {
	c.attempts++
	return c.attempts
}

// Reset zeroes the attempt counter, called on a successful Ready or Resumed
// observation.
func (c *RetryContext) Reset() {
	c.attempts = 0
	c.resetCount++
}

// ResetCount returns the number of times Reset has been called, a simple
// diagnostic for "how many successful (re)connections has this client seen".
func (c *RetryContext) ResetCount() uint32 { return c.resetCount }
