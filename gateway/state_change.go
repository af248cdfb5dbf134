package gateway

import "time"

// StateChangeKind enumerates the synthetic transitions injected onto the
// dispatch stream alongside decoded Dispatch events.
type StateChangeKind int

const (
	StateChangeConnected StateChangeKind = iota
	StateChangeDisconnected
	StateChangeRetryStarted
	StateChangeRetryFailed
	StateChangeRetrySucceeded
)

func (k StateChangeKind) String() string {
	switch k {
	case StateChangeConnected:
		return "connected"
	case StateChangeDisconnected:
		return "disconnected"
	case StateChangeRetryStarted:
		return "retryStarted"
	case StateChangeRetryFailed:
		return "retryFailed"
	case StateChangeRetrySucceeded:
		return "retrySucceeded"
	default:
		return "unknown"
	}
}

// GatewayStateChange is a synthetic event describing a supervisor-level
// transition, delivered on the same stream as decoded Dispatch events so a
// single consumer sees both without polling two sources.
type GatewayStateChange struct {
	Kind    StateChangeKind
	Attempt uint32
	Delay   time.Duration
	Err     error
}

// DispatchItem is the union type carried on GatewayClient's dispatch
// stream: exactly one of Dispatch or StateChange is set.
type DispatchItem struct {
	Dispatch    *Dispatch
	StateChange *GatewayStateChange
}
