package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// IdentifyBuilder produces the IdentifyProperties for an Identify payload.
// StaticProperties returns a fixed value; PropertiesRotator cycles a pool.
type IdentifyBuilder interface {
	Properties() IdentifyProperties
}

// StaticProperties is an IdentifyBuilder that always returns the same value.
type StaticProperties struct {
	Props IdentifyProperties
}

// Properties implements IdentifyBuilder.
func (s StaticProperties) Properties() IdentifyProperties { return s.Props }

// PropertiesRotator cycles through a fixed pool of IdentifyProperties,
// advancing one step per call. Operators use this to vary the declared
// client properties across reconnect attempts.
type PropertiesRotator struct {
	mu   sync.Mutex
	pool []IdentifyProperties
	next int
}

// NewPropertiesRotator builds a rotator over pool. An empty pool makes
// Properties return the zero value.
func NewPropertiesRotator(pool []IdentifyProperties) *PropertiesRotator {
	return &PropertiesRotator{pool: pool}
}

// Properties implements IdentifyBuilder, returning the next entry in the
// pool and advancing the cursor.
func (r *PropertiesRotator) Properties() IdentifyProperties {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pool) == 0 {
		return IdentifyProperties{}
	}
	p := r.pool[r.next%len(r.pool)]
	r.next++
	return p
}

// IdentifyLimiter throttles Identify attempts to at most one per window,
// modeling the gateway's per-token Identify rate limit. It is a single-slot
// bucket refilled on a fixed interval.
type IdentifyLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	hasLast  bool
}

// NewIdentifyLimiter returns a limiter allowing one Identify per interval.
func NewIdentifyLimiter(interval time.Duration) *IdentifyLimiter {
	return &IdentifyLimiter{interval: interval}
}

// Wait blocks until an Identify slot is available or ctx is cancelled.
func (l *IdentifyLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		if !l.hasLast {
			l.last = timeNow()
			l.hasLast = true
			l.mu.Unlock()
			return nil
		}
		elapsed := timeNow().Sub(l.last)
		if elapsed >= l.interval {
			l.last = timeNow()
			l.mu.Unlock()
			return nil
		}
		wait := l.interval - elapsed
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			continue
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// timeNow is indirected only so tests needing determinism could swap it; the
// production path always calls time.Now.
var timeNow = time.Now

// BuildIdentify constructs the Identify payload for a fresh session.
func BuildIdentify(token string, props IdentifyProperties, intents int, shardID, shardCount int) (GatewayPayload, error) {
	data := IdentifyData{
		Token:      token,
		Properties: props,
		Intents:    intents,
	}
	if shardCount > 0 {
		data.Shard = &[2]int{shardID, shardCount}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return GatewayPayload{}, err
	}
	return GatewayPayload{Op: OpIdentify, Data: raw}, nil
}

// BuildResume constructs the Resume payload for an existing session.
func BuildResume(token, sessionID string, sequence int64) (GatewayPayload, error) {
	raw, err := json.Marshal(ResumeData{
		Token:     token,
		SessionID: sessionID,
		Sequence:  sequence,
	})
	if err != nil {
		return GatewayPayload{}, err
	}
	return GatewayPayload{Op: OpResume, Data: raw}, nil
}

// BuildHeartbeat constructs the Heartbeat payload carrying the last observed
// sequence number, or null if none has been observed yet.
func BuildHeartbeat(sequence int64, hasSequence bool) (GatewayPayload, error) {
	if !hasSequence {
		return GatewayPayload{Op: OpHeartbeat, Data: json.RawMessage("null")}, nil
	}
	raw, err := json.Marshal(sequence)
	if err != nil {
		return GatewayPayload{}, err
	}
	return GatewayPayload{Op: OpHeartbeat, Data: raw}, nil
}
