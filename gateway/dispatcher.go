package gateway

import (
	"encoding/json"
	"fmt"
)

// IdentifyOptions carries everything a PayloadDispatcher needs to build the
// Identify (or Resume) payload in response to Hello.
type IdentifyOptions struct {
	Token      string
	Properties IdentifyBuilder
	Intents    int
	ShardID    int
	ShardCount int
}

// DispatchContext is the set of collaborators and callbacks a
// PayloadDispatcher uses while classifying one inbound frame. A
// ConnectionRunner builds one per attempt; none of the callbacks may block
// for long, since they run inline on the receiver arm.
type DispatchContext struct {
	Heartbeat *HeartbeatTimer
	Identify  IdentifyOptions

	// Enqueue pushes an outbound payload onto the sender sink. It must not
	// block indefinitely; ConnectionRunner's sender channel is buffered and
	// non-blocking from the dispatcher's perspective.
	Enqueue func(GatewayPayload) error

	OnDispatch    func(Dispatch)
	OnStateChange func(GatewayStateChange)

	// OnTerminal reports an attempt-ending condition observed mid-frame
	// (ServerReconnect, InvalidSession). The runner unwinds all arms after
	// this is called.
	OnTerminal func(error)

	Logger Logger
}

// PayloadDispatcher decodes raw inbound frames into GatewayPayload values
// and performs the per-opcode actions in the protocol's handling table,
// independent of any one transport or codec implementation.
type PayloadDispatcher struct {
	codec PayloadCodec
	state *SessionState
	retry *RetryContext
}

// NewPayloadDispatcher builds a dispatcher over codec, updating state and
// retry as side effects of dispatch.
func NewPayloadDispatcher(codec PayloadCodec, state *SessionState, retry *RetryContext) *PayloadDispatcher {
	return &PayloadDispatcher{codec: codec, state: state, retry: retry}
}

// Handle decodes raw and performs the matching action. A malformed frame or
// handshake body yields a *DecodeError, which the caller should log before
// continuing to read; any other error comes from the Enqueue callback (for
// example once the attempt's context has ended).
func (d *PayloadDispatcher) Handle(raw []byte, dc DispatchContext) error {
	payload, err := d.codec.Decode(raw)
	if err != nil {
		return err
	}
	return d.HandleDecoded(payload, dc)
}

// HandleDecoded performs the matching action for an already-decoded
// payload, letting callers that must inspect the decoded value themselves
// (e.g. to publish it on a raw receiver stream) avoid decoding twice.
func (d *PayloadDispatcher) HandleDecoded(payload GatewayPayload, dc DispatchContext) error {
	switch payload.Op {
	case OpHello:
		return d.handleHello(payload, dc)
	case OpHeartbeat:
		return d.handleServerHeartbeat(dc)
	case OpHeartbeatAck:
		d.state.MarkHeartbeatAcked()
		return nil
	case OpDispatch:
		return d.handleDispatch(payload, dc)
	case OpReconnect:
		if dc.OnTerminal != nil {
			dc.OnTerminal(ErrServerReconnect)
		}
		return nil
	case OpInvalidSession:
		return d.handleInvalidSession(payload, dc)
	default:
		if dc.Logger != nil {
			dc.Logger.Debug("unhandled opcode", "op", int(payload.Op))
		}
		return nil
	}
}

func (d *PayloadDispatcher) handleHello(payload GatewayPayload, dc DispatchContext) error {
	var hello HelloData
	if len(payload.Data) > 0 {
		if err := json.Unmarshal(payload.Data, &hello); err != nil {
			return &DecodeError{Err: err}
		}
	}
	if dc.Heartbeat != nil && hello.HeartbeatIntervalMs > 0 {
		dc.Heartbeat.Start(msToDuration(hello.HeartbeatIntervalMs))
	}

	// The Identify rate limit is applied by GatewayClient.Run before it dials
	// a fresh-identify attempt; resumes skip it and nothing here consults
	// the limiter.
	sessionID, sequence, _, resumable := d.state.ResumeParams()
	if resumable && sessionID != "" {
		d.state.SetState(StateResuming)
		resume, err := BuildResume(dc.Identify.Token, sessionID, sequence)
		if err != nil {
			return err
		}
		if dc.Enqueue != nil {
			return dc.Enqueue(resume)
		}
		return nil
	}

	d.state.InvalidateSession()
	d.state.SetState(StateIdentifying)
	var props IdentifyProperties
	if dc.Identify.Properties != nil {
		props = dc.Identify.Properties.Properties()
	}
	identify, err := BuildIdentify(dc.Identify.Token, props, dc.Identify.Intents, dc.Identify.ShardID, dc.Identify.ShardCount)
	if err != nil {
		return err
	}
	if dc.Enqueue != nil {
		return dc.Enqueue(identify)
	}
	return nil
}

func (d *PayloadDispatcher) handleServerHeartbeat(dc DispatchContext) error {
	sequence, hasSequence := d.state.Sequence()
	hb, err := BuildHeartbeat(sequence, hasSequence)
	if err != nil {
		return err
	}
	d.state.MarkHeartbeatSent()
	if dc.Enqueue != nil {
		return dc.Enqueue(hb)
	}
	return nil
}

func (d *PayloadDispatcher) handleDispatch(payload GatewayPayload, dc DispatchContext) error {
	if payload.Sequence != nil {
		d.state.ObserveSequence(*payload.Sequence)
	}

	disp := Dispatch{EventName: payload.Event, Data: payload.Data}
	if payload.Sequence != nil {
		disp.Sequence = *payload.Sequence
	}

	switch payload.Event {
	case EventReady:
		var ready ReadyData
		if err := json.Unmarshal(payload.Data, &ready); err != nil {
			return &DecodeError{Err: err}
		}
		d.state.ObserveReady(ready.SessionID, ready.ResumeGatewayURL)
		d.state.SetState(StateConnected)
		kind := StateChangeConnected
		if d.retry != nil && d.retry.Attempts() > 0 {
			kind = StateChangeRetrySucceeded
		}
		attempts := uint32(0)
		if d.retry != nil {
			attempts = d.retry.Attempts()
			d.retry.Reset()
		}
		if dc.OnStateChange != nil {
			dc.OnStateChange(GatewayStateChange{Kind: kind, Attempt: attempts})
		}
	case EventResumed:
		d.state.ObserveResumed()
		d.state.SetState(StateConnected)
		kind := StateChangeConnected
		attempts := uint32(0)
		if d.retry != nil {
			attempts = d.retry.Attempts()
			if attempts > 0 {
				kind = StateChangeRetrySucceeded
			}
			d.retry.Reset()
		}
		if dc.OnStateChange != nil {
			dc.OnStateChange(GatewayStateChange{Kind: kind, Attempt: attempts})
		}
	}

	if dc.OnDispatch != nil {
		dc.OnDispatch(disp)
	}
	return nil
}

func (d *PayloadDispatcher) handleInvalidSession(payload GatewayPayload, dc DispatchContext) error {
	var resumable bool
	if len(payload.Data) > 0 {
		_ = json.Unmarshal(payload.Data, &resumable)
	}
	if !resumable {
		d.state.InvalidateSession()
	}
	if dc.OnTerminal != nil {
		dc.OnTerminal(ErrInvalidSession)
	}
	return nil
}

// EncodeOutbound serializes p via the dispatcher's codec, wrapping codec
// errors with the offending opcode for easier diagnosis.
func (d *PayloadDispatcher) EncodeOutbound(p GatewayPayload) ([]byte, error) {
	raw, err := d.codec.Encode(p)
	if err != nil {
		return nil, fmt.Errorf("encode op=%d: %w", p.Op, err)
	}
	return raw, nil
}
