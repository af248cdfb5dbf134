package gateway

import "sync"

// ConnState enumerates the lifecycle states a GatewayClient moves through.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateIdentifying
	StateResuming
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdentifying:
		return "identifying"
	case StateResuming:
		return "resuming"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionState is the mutex-guarded bookkeeping a GatewayClient carries
// across reconnect attempts: the session id and last sequence number needed
// to Resume, the resume_gateway_url returned on READY, and the current
// ConnState.
type SessionState struct {
	mu sync.RWMutex

	state ConnState

	sessionID       string
	sequence        int64
	hasSequence     bool
	resumeGatewayURL string

	lastHeartbeatAck bool
}

// NewSessionState returns a SessionState in StateDisconnected with no prior
// session to resume.
func NewSessionState() *SessionState {
	return &SessionState{state: StateDisconnected}
}

// State returns the current ConnState.
func (s *SessionState) State() ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState updates the current ConnState and returns the previous one, so
// callers can decide whether a transition is worth emitting as a
// GatewayStateChange.
func (s *SessionState) SetState(next ConnState) ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	s.state = next
	return prev
}

// ObserveReady records a fresh session established via Identify, capturing
// the new session id and resume URL. The sequence counter is left alone:
// the READY dispatch carries its own sequence number, already applied by
// ObserveSequence, and it anchors the new session's resume point.
func (s *SessionState) ObserveReady(sessionID, resumeGatewayURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = sessionID
	if resumeGatewayURL != "" {
		s.resumeGatewayURL = resumeGatewayURL
	}
}

// SeedResume installs a caller-persisted resume hint before the first
// connect, so the first Hello triggers a Resume instead of an Identify.
// It has no effect once a session id has already been observed live.
func (s *SessionState) SeedResume(sessionID string, sequence int64) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID != "" {
		return
	}
	s.sessionID = sessionID
	s.sequence = sequence
	s.hasSequence = true
}

// ResumeGatewayURL returns the resume endpoint advertised by the last
// READY, empty if none was seen.
func (s *SessionState) ResumeGatewayURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resumeGatewayURL
}

// ObserveResumed acknowledges a successful Resume. The existing session id
// and sequence are kept as-is since Resume replays missed dispatches on top
// of them; no fields change.
func (s *SessionState) ObserveResumed() {}

// ObserveSequence records the sequence number carried on a Dispatch payload,
// replacing the previous value. Callers invoke it only for payloads that
// carry a sequence number.
func (s *SessionState) ObserveSequence(seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence = seq
	s.hasSequence = true
}

// ResumeParams returns the session id, last sequence, and resume gateway url
// needed to build a Resume payload, plus whether a prior session exists at
// all (ok is false before the first successful Ready).
func (s *SessionState) ResumeParams() (sessionID string, sequence int64, resumeGatewayURL string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sessionID == "" {
		return "", 0, "", false
	}
	return s.sessionID, s.sequence, s.resumeGatewayURL, true
}

// Sequence returns the last observed sequence number and whether any has
// been observed yet.
func (s *SessionState) Sequence() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequence, s.hasSequence
}

// SessionID returns the current session id, empty if none established.
func (s *SessionState) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// InvalidateSession clears the session id and resume url so the next
// connect attempt performs a fresh Identify instead of a Resume, matching
// the gateway's InvalidSession(resumable=false) semantics.
func (s *SessionState) InvalidateSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = ""
	s.sequence = 0
	s.hasSequence = false
	s.resumeGatewayURL = ""
}

// MarkHeartbeatSent clears the ack flag; the liveness checker expects
// MarkHeartbeatAcked before the next heartbeat fires.
func (s *SessionState) MarkHeartbeatSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeatAck = false
}

// MarkHeartbeatAcked records receipt of a HeartbeatAck.
func (s *SessionState) MarkHeartbeatAcked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeatAck = true
}

// HeartbeatAcked reports whether the most recently sent heartbeat has been
// acked. A ConnectionRunner treats false at the next beat as a zombie
// connection and forces a reconnect.
func (s *SessionState) HeartbeatAcked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHeartbeatAck
}
