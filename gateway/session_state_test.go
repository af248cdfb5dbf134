package gateway

import "testing"

func TestSessionStateReadyThenResumeParams(t *testing.T) {
	s := NewSessionState()

	if _, _, _, ok := s.ResumeParams(); ok {
		t.Fatal("ResumeParams ok before any Ready, want false")
	}

	s.ObserveReady("sess-abc", "wss://resume.example/gateway")
	s.ObserveSequence(7)
	s.ObserveSequence(8)
	s.ObserveSequence(9)

	sessionID, seq, resumeURL, ok := s.ResumeParams()
	if !ok {
		t.Fatal("ResumeParams ok after Ready, want true")
	}
	if sessionID != "sess-abc" || seq != 9 || resumeURL != "wss://resume.example/gateway" {
		t.Errorf("ResumeParams = (%q, %d, %q), want (sess-abc, 9, wss://resume.example/gateway)", sessionID, seq, resumeURL)
	}

	if got, has := s.Sequence(); !has || got != 9 {
		t.Errorf("Sequence() = (%d, %v), want (9, true)", got, has)
	}
}

func TestSessionStateInvalidateSessionClearsResume(t *testing.T) {
	s := NewSessionState()
	s.ObserveReady("sess-abc", "wss://resume.example/gateway")
	s.ObserveSequence(5)

	s.InvalidateSession()

	if _, _, _, ok := s.ResumeParams(); ok {
		t.Fatal("ResumeParams ok after InvalidateSession, want false")
	}
	if s.SessionID() != "" {
		t.Errorf("SessionID() = %q after InvalidateSession, want empty", s.SessionID())
	}
}

func TestSessionStateHeartbeatAckTracking(t *testing.T) {
	s := NewSessionState()
	s.MarkHeartbeatSent()
	if s.HeartbeatAcked() {
		t.Fatal("HeartbeatAcked() = true immediately after MarkHeartbeatSent, want false")
	}
	s.MarkHeartbeatAcked()
	if !s.HeartbeatAcked() {
		t.Fatal("HeartbeatAcked() = false after MarkHeartbeatAcked, want true")
	}
}

func TestSessionStateSetStateReturnsPrevious(t *testing.T) {
	s := NewSessionState()
	prev := s.SetState(StateConnecting)
	if prev != StateDisconnected {
		t.Errorf("SetState first call returned %v, want StateDisconnected", prev)
	}
	prev = s.SetState(StateConnected)
	if prev != StateConnecting {
		t.Errorf("SetState second call returned %v, want StateConnecting", prev)
	}
}
