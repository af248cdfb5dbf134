// Package manager supervises one gateway.GatewayClient per configured
// target, handling auto-connect, manual join/rejoin/exit, and status
// broadcast to the rest of the application.
package manager

import "time"

// ConnectionStatus mirrors gateway.ConnState at the granularity the rest of
// the application cares about, decoupling API/WS consumers from the core
// package's richer state machine.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
	StatusBackoff      ConnectionStatus = "backoff"
)

// SessionState is the runtime state of one target's connection. It is not
// persisted; resumable state (session id, sequence) is persisted
// separately via config.ConfigStore or store.ResumeStore.
type SessionState struct {
	TargetID string

	ConnectionStatus ConnectionStatus
	LastError        string
	RetryAttempt     int
	LastConnectTime  time.Time

	SessionID string
	Sequence  int64
}

// NewSessionState creates a new session state for a target.
func NewSessionState(targetID string) *SessionState {
	return &SessionState{
		TargetID:         targetID,
		ConnectionStatus: StatusDisconnected,
	}
}

func (s *SessionState) MarkConnecting() { s.ConnectionStatus = StatusConnecting }

func (s *SessionState) MarkConnected(sessionID string) {
	s.ConnectionStatus = StatusConnected
	s.LastConnectTime = time.Now()
	s.SessionID = sessionID
	s.RetryAttempt = 0
	s.LastError = ""
}

func (s *SessionState) MarkError(err string) {
	s.ConnectionStatus = StatusError
	s.LastError = err
}

func (s *SessionState) MarkBackoff(attempt int) {
	s.ConnectionStatus = StatusBackoff
	s.RetryAttempt = attempt
}

func (s *SessionState) MarkDisconnected() {
	s.ConnectionStatus = StatusDisconnected
	s.LastError = ""
}

func (s *SessionState) UpdateSequence(seq int64) {
	if seq > s.Sequence {
		s.Sequence = seq
	}
}
