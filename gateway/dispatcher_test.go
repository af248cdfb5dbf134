package gateway

import (
	"encoding/json"
	"testing"
)

// stdJSONCodec is a minimal encoding/json-backed PayloadCodec used only to
// exercise PayloadDispatcher in isolation from any concrete third-party
// codec implementation.
type stdJSONCodec struct{}

func (stdJSONCodec) Decode(raw []byte) (GatewayPayload, error) {
	var p GatewayPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return GatewayPayload{}, &DecodeError{Err: err, Len: len(raw)}
	}
	return p, nil
}

func (stdJSONCodec) Encode(p GatewayPayload) ([]byte, error) {
	return json.Marshal(p)
}

func TestDispatcherHelloTriggersIdentifyWhenNoPriorSession(t *testing.T) {
	state := NewSessionState()
	retry := &RetryContext{}
	d := NewPayloadDispatcher(stdJSONCodec{}, state, retry)

	var enqueued []GatewayPayload
	dc := DispatchContext{
		Heartbeat: NewHeartbeatTimer(),
		Identify: IdentifyOptions{
			Token:      "tok",
			Properties: StaticProperties{Props: IdentifyProperties{OS: "linux"}},
			Intents:    1,
		},
		Enqueue: func(p GatewayPayload) error {
			enqueued = append(enqueued, p)
			return nil
		},
	}
	defer dc.Heartbeat.Stop()

	raw, _ := json.Marshal(GatewayPayload{Op: OpHello, Data: json.RawMessage(`{"heartbeat_interval":41250}`)})
	if err := d.Handle(raw, dc); err != nil {
		t.Fatalf("Handle(Hello) error: %v", err)
	}

	if len(enqueued) != 1 || enqueued[0].Op != OpIdentify {
		t.Fatalf("enqueued = %+v, want exactly one Identify", enqueued)
	}
	if dc.Heartbeat.Period() != msToDuration(41250) {
		t.Errorf("Heartbeat.Period() = %v, want 41.25s", dc.Heartbeat.Period())
	}
}

func TestDispatcherHelloTriggersResumeWithPriorSession(t *testing.T) {
	state := NewSessionState()
	state.ObserveReady("sess-abc", "")
	state.ObserveSequence(100)
	retry := &RetryContext{}
	d := NewPayloadDispatcher(stdJSONCodec{}, state, retry)

	var enqueued []GatewayPayload
	dc := DispatchContext{
		Heartbeat: NewHeartbeatTimer(),
		Identify:  IdentifyOptions{Token: "tok"},
		Enqueue: func(p GatewayPayload) error {
			enqueued = append(enqueued, p)
			return nil
		},
	}
	defer dc.Heartbeat.Stop()

	raw, _ := json.Marshal(GatewayPayload{Op: OpHello, Data: json.RawMessage(`{"heartbeat_interval":10000}`)})
	if err := d.Handle(raw, dc); err != nil {
		t.Fatalf("Handle(Hello) error: %v", err)
	}

	if len(enqueued) != 1 || enqueued[0].Op != OpResume {
		t.Fatalf("enqueued = %+v, want exactly one Resume", enqueued)
	}
	var resume ResumeData
	if err := json.Unmarshal(enqueued[0].Data, &resume); err != nil {
		t.Fatalf("unmarshal resume payload: %v", err)
	}
	if resume.SessionID != "sess-abc" || resume.Sequence != 100 {
		t.Errorf("resume = %+v, want session sess-abc seq 100", resume)
	}
}

func TestDispatcherReadySetsSessionAndResetsRetry(t *testing.T) {
	state := NewSessionState()
	retry := &RetryContext{}
	retry.Next()
	retry.Next() // attempts=2, simulating a prior failed attempt

	d := NewPayloadDispatcher(stdJSONCodec{}, state, retry)

	var changes []GatewayStateChange
	dc := DispatchContext{
		OnStateChange: func(sc GatewayStateChange) { changes = append(changes, sc) },
	}

	seq := int64(1)
	readyData, _ := json.Marshal(ReadyData{Version: 10, SessionID: "sess-xyz", ResumeGatewayURL: "wss://resume"})
	raw, _ := json.Marshal(GatewayPayload{Op: OpDispatch, Event: EventReady, Sequence: &seq, Data: readyData})

	if err := d.Handle(raw, dc); err != nil {
		t.Fatalf("Handle(Dispatch Ready) error: %v", err)
	}

	if state.SessionID() != "sess-xyz" {
		t.Errorf("SessionID() = %q, want sess-xyz", state.SessionID())
	}
	if retry.Attempts() != 0 {
		t.Errorf("RetryContext.Attempts() = %d after Ready, want 0", retry.Attempts())
	}
	if len(changes) != 1 || changes[0].Kind != StateChangeRetrySucceeded {
		t.Fatalf("state changes = %+v, want one RetrySucceeded", changes)
	}
}

func TestDispatcherInvalidSessionFalseClearsSession(t *testing.T) {
	state := NewSessionState()
	state.ObserveReady("sess-abc", "")
	state.ObserveSequence(5)
	retry := &RetryContext{}
	d := NewPayloadDispatcher(stdJSONCodec{}, state, retry)

	var terminalErr error
	dc := DispatchContext{
		OnTerminal: func(err error) { terminalErr = err },
	}

	raw, _ := json.Marshal(GatewayPayload{Op: OpInvalidSession, Data: json.RawMessage("false")})
	if err := d.Handle(raw, dc); err != nil {
		t.Fatalf("Handle(InvalidSession) error: %v", err)
	}

	if state.SessionID() != "" {
		t.Errorf("SessionID() = %q after InvalidSession(false), want empty", state.SessionID())
	}
	if terminalErr != ErrInvalidSession {
		t.Errorf("OnTerminal err = %v, want ErrInvalidSession", terminalErr)
	}
}

func TestDispatcherReconnectOpcodePreservesSession(t *testing.T) {
	state := NewSessionState()
	state.ObserveReady("sess-abc", "")
	retry := &RetryContext{}
	d := NewPayloadDispatcher(stdJSONCodec{}, state, retry)

	var terminalErr error
	dc := DispatchContext{OnTerminal: func(err error) { terminalErr = err }}

	raw, _ := json.Marshal(GatewayPayload{Op: OpReconnect})
	if err := d.Handle(raw, dc); err != nil {
		t.Fatalf("Handle(Reconnect) error: %v", err)
	}

	if terminalErr != ErrServerReconnect {
		t.Errorf("OnTerminal err = %v, want ErrServerReconnect", terminalErr)
	}
	if state.SessionID() != "sess-abc" {
		t.Errorf("SessionID() = %q after Reconnect, want preserved sess-abc", state.SessionID())
	}
}

func TestDispatcherMalformedFrameReturnsDecodeError(t *testing.T) {
	state := NewSessionState()
	d := NewPayloadDispatcher(stdJSONCodec{}, state, &RetryContext{})

	err := d.Handle([]byte("not json"), DispatchContext{})
	if err == nil {
		t.Fatal("Handle(malformed) = nil, want *DecodeError")
	}
	var de *DecodeError
	if !asDecodeError(err, &de) {
		t.Fatalf("Handle(malformed) error = %v, want *DecodeError", err)
	}
}

func asDecodeError(err error, target **DecodeError) bool {
	de, ok := err.(*DecodeError)
	if !ok {
		return false
	}
	*target = de
	return true
}
