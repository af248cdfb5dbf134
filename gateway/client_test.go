package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSession is a scriptable gateway.Session: tests feed inbound frames
// through serverSend and observe outbound payloads on sent.
type fakeSession struct {
	in    chan []byte
	sent  chan GatewayPayload
	failc chan error

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		in:     make(chan []byte, 16),
		sent:   make(chan GatewayPayload, 16),
		failc:  make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *fakeSession) Recv(ctx context.Context) (FrameKind, []byte, error) {
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case err := <-s.failc:
		return 0, nil, err
	case <-s.closed:
		return 0, nil, &CloseError{Code: 1000, Reason: "session closed"}
	case data := <-s.in:
		return FrameText, data, nil
	}
}

// failRecv makes the next Recv call return err, simulating a remote close
// or transport failure.
func (s *fakeSession) failRecv(err error) {
	s.failc <- err
}

func (s *fakeSession) Send(ctx context.Context, kind FrameKind, data []byte) error {
	var p GatewayPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	select {
	case s.sent <- p:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *fakeSession) Close(code int, reason string) error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSession) serverSend(t *testing.T, p GatewayPayload) {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal server payload: %v", err)
	}
	select {
	case s.in <- raw:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out feeding server payload")
	}
}

// awaitSent waits for the next outbound payload with the given opcode,
// skipping heartbeats unless a heartbeat is what's awaited.
func (s *fakeSession) awaitSent(t *testing.T, op Opcode) GatewayPayload {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case p := <-s.sent:
			if p.Op == op {
				return p
			}
			if p.Op == OpHeartbeat && op != OpHeartbeat {
				continue
			}
			t.Fatalf("unexpected outbound payload op=%d, want op=%d", p.Op, op)
		case <-deadline:
			t.Fatalf("timed out waiting for outbound op=%d", op)
		}
	}
}

// fakeTransport hands out one fresh fakeSession per Connect and announces
// it on dials so tests can follow reconnects.
type fakeTransport struct {
	dials chan *fakeSession

	mu      sync.Mutex
	connect int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{dials: make(chan *fakeSession, 16)}
}

func (f *fakeTransport) Connect(ctx context.Context, url string, headers map[string]string) (Session, error) {
	f.mu.Lock()
	f.connect++
	f.mu.Unlock()
	s := newFakeSession()
	select {
	case f.dials <- s:
	default:
	}
	return s, nil
}

func (f *fakeTransport) awaitDial(t *testing.T) *fakeSession {
	t.Helper()
	select {
	case s := <-f.dials:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a transport dial")
		return nil
	}
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connect
}

func newTestClient(transport WsTransport, extra func(*ClientConfig)) *GatewayClient {
	cfg := ClientConfig{
		Token:     "tok",
		Transport: transport,
		Codec:     stdJSONCodec{},
		RetryPolicy: RetryPolicyConfig{
			FirstBackoff: 5 * time.Millisecond,
			MaxBackoff:   20 * time.Millisecond,
			JitterRatio:  0,
		},
		DispatchBuffer: 64,
		ReceiverBuffer: 64,
	}
	if extra != nil {
		extra(&cfg)
	}
	return NewGatewayClient(cfg)
}

func awaitStateChange(t *testing.T, c *GatewayClient, kind StateChangeKind) GatewayStateChange {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case item := <-c.Dispatch():
			if item.StateChange != nil && item.StateChange.Kind == kind {
				return *item.StateChange
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state change %v", kind)
		}
	}
}

func serverHello(intervalMs int) GatewayPayload {
	return GatewayPayload{Op: OpHello, Data: json.RawMessage(`{"heartbeat_interval":` + itoa(intervalMs) + `}`)}
}

func serverReady(t *testing.T, sessionID string, seq int64) GatewayPayload {
	t.Helper()
	data, err := json.Marshal(ReadyData{Version: 10, SessionID: sessionID})
	if err != nil {
		t.Fatalf("marshal ready: %v", err)
	}
	return GatewayPayload{Op: OpDispatch, Event: EventReady, Sequence: &seq, Data: data}
}

func itoa(n int) string {
	raw, _ := json.Marshal(n)
	return string(raw)
}

func TestClientColdConnect(t *testing.T) {
	transport := newFakeTransport()
	c := newTestClient(transport, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx, "wss://gateway.test") }()

	session := transport.awaitDial(t)
	session.serverSend(t, serverHello(41250))

	identify := session.awaitSent(t, OpIdentify)
	var id IdentifyData
	if err := json.Unmarshal(identify.Data, &id); err != nil {
		t.Fatalf("unmarshal identify: %v", err)
	}
	if id.Token != "tok" {
		t.Errorf("identify token = %q, want tok", id.Token)
	}

	session.serverSend(t, serverReady(t, "abc", 1))
	awaitStateChange(t, c, StateChangeConnected)

	if c.SessionID() != "abc" {
		t.Errorf("SessionID() = %q, want abc", c.SessionID())
	}

	c.Close(false)
	if err := <-runDone; err != nil {
		t.Errorf("Run returned %v after Close(false), want nil", err)
	}
}

func TestClientResumeWithSeededHint(t *testing.T) {
	transport := newFakeTransport()
	c := newTestClient(transport, func(cfg *ClientConfig) {
		cfg.ResumeSessionID = "abc"
		cfg.ResumeSequence = 100
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx, "wss://gateway.test") }()

	session := transport.awaitDial(t)
	session.serverSend(t, serverHello(41250))

	resume := session.awaitSent(t, OpResume)
	var rd ResumeData
	if err := json.Unmarshal(resume.Data, &rd); err != nil {
		t.Fatalf("unmarshal resume: %v", err)
	}
	if rd.SessionID != "abc" || rd.Sequence != 100 {
		t.Errorf("resume = %+v, want session abc seq 100", rd)
	}

	c.Close(false)
}

func TestClientZombieDetectionTriggersResume(t *testing.T) {
	transport := newFakeTransport()
	c := newTestClient(transport, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx, "wss://gateway.test") }()

	session := transport.awaitDial(t)
	session.serverSend(t, serverHello(30))
	session.awaitSent(t, OpIdentify)
	session.serverSend(t, serverReady(t, "abc", 1))
	awaitStateChange(t, c, StateChangeConnected)

	// Withhold every HeartbeatAck; the second tick must declare a zombie
	// and the supervisor must schedule a retry with resume state intact.
	awaitStateChange(t, c, StateChangeRetryStarted)

	second := transport.awaitDial(t)
	second.serverSend(t, serverHello(41250))
	resume := second.awaitSent(t, OpResume)
	var rd ResumeData
	if err := json.Unmarshal(resume.Data, &rd); err != nil {
		t.Fatalf("unmarshal resume: %v", err)
	}
	if rd.SessionID != "abc" {
		t.Errorf("resume session = %q after zombie reconnect, want abc", rd.SessionID)
	}
	if transport.dialCount() < 2 {
		t.Errorf("dial count = %d, want at least 2", transport.dialCount())
	}

	c.Close(false)
}

func TestClientInvalidSessionFalseReidentifies(t *testing.T) {
	transport := newFakeTransport()
	c := newTestClient(transport, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx, "wss://gateway.test") }()

	session := transport.awaitDial(t)
	session.serverSend(t, serverHello(41250))
	session.awaitSent(t, OpIdentify)
	session.serverSend(t, serverReady(t, "abc", 1))
	awaitStateChange(t, c, StateChangeConnected)

	session.serverSend(t, GatewayPayload{Op: OpInvalidSession, Data: json.RawMessage("false")})

	second := transport.awaitDial(t)
	second.serverSend(t, serverHello(41250))
	second.awaitSent(t, OpIdentify)

	if c.SessionID() != "" {
		t.Errorf("SessionID() = %q after InvalidSession(false), want empty", c.SessionID())
	}

	c.Close(false)
}

func TestClientSequenceTrackingAndReconnectResume(t *testing.T) {
	transport := newFakeTransport()
	c := newTestClient(transport, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx, "wss://gateway.test") }()

	session := transport.awaitDial(t)
	session.serverSend(t, serverHello(41250))
	session.awaitSent(t, OpIdentify)
	session.serverSend(t, serverReady(t, "abc", 1))
	awaitStateChange(t, c, StateChangeConnected)

	for _, seq := range []int64{7, 8, 9} {
		s := seq
		session.serverSend(t, GatewayPayload{Op: OpDispatch, Event: "MESSAGE_CREATE", Sequence: &s, Data: json.RawMessage(`{}`)})
	}

	// Drain dispatch items until the s=9 event has been delivered; its
	// sequence is guaranteed applied before delivery.
	deadline := time.After(2 * time.Second)
	for {
		var item DispatchItem
		select {
		case item = <-c.Dispatch():
		case <-deadline:
			t.Fatal("timed out waiting for dispatched events")
		}
		if item.Dispatch != nil && item.Dispatch.Sequence == 9 {
			break
		}
	}
	if seq, ok := c.Sequence(); !ok || seq != 9 {
		t.Fatalf("Sequence() = (%d, %v), want (9, true)", seq, ok)
	}

	session.serverSend(t, GatewayPayload{Op: OpReconnect})

	second := transport.awaitDial(t)
	second.serverSend(t, serverHello(41250))
	resume := second.awaitSent(t, OpResume)
	var rd ResumeData
	if err := json.Unmarshal(resume.Data, &rd); err != nil {
		t.Fatalf("unmarshal resume: %v", err)
	}
	if rd.SessionID != "abc" || rd.Sequence != 9 {
		t.Errorf("resume = %+v, want session abc seq 9", rd)
	}

	c.Close(false)
}

func TestClientGracefulCloseIsIdempotent(t *testing.T) {
	transport := newFakeTransport()
	c := newTestClient(transport, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx, "wss://gateway.test") }()

	session := transport.awaitDial(t)
	session.serverSend(t, serverHello(41250))
	session.awaitSent(t, OpIdentify)

	c.Close(false)
	c.Close(false) // idempotent; must not panic or block

	if err := <-runDone; err != nil {
		t.Errorf("Run returned %v after Close(false), want nil", err)
	}
	awaitStateChange(t, c, StateChangeDisconnected)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() not closed after Run returned")
	}
}

func TestClientHeartbeatCarriesSequence(t *testing.T) {
	transport := newFakeTransport()
	c := newTestClient(transport, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx, "wss://gateway.test") }()

	session := transport.awaitDial(t)
	session.serverSend(t, serverHello(25))
	session.awaitSent(t, OpIdentify)
	session.serverSend(t, serverReady(t, "abc", 42))

	hb := session.awaitSent(t, OpHeartbeat)
	var seq int64
	if err := json.Unmarshal(hb.Data, &seq); err != nil {
		t.Fatalf("unmarshal heartbeat sequence: %v", err)
	}
	if seq != 42 {
		t.Errorf("heartbeat seq = %d, want 42", seq)
	}

	c.Close(false)
}

func TestClientServerHeartbeatRequestAnsweredImmediately(t *testing.T) {
	transport := newFakeTransport()
	c := newTestClient(transport, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx, "wss://gateway.test") }()

	session := transport.awaitDial(t)
	session.serverSend(t, serverHello(60000))
	session.awaitSent(t, OpIdentify)

	session.serverSend(t, GatewayPayload{Op: OpHeartbeat})
	session.awaitSent(t, OpHeartbeat)

	c.Close(false)
}

func TestClientMaxRetriesSurfacesError(t *testing.T) {
	c := newTestClient(failingTransport{}, func(cfg *ClientConfig) {
		cfg.RetryPolicy.MaxRetries = 2
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Run(ctx, "wss://gateway.test")
	if err == nil {
		t.Fatal("Run returned nil, want error after retry exhaustion")
	}
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("Run error = %v, want ErrRetriesExhausted kind", err)
	}
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Run error = %v, want wrapped ErrTransport cause", err)
	}
}

type failingTransport struct{}

func (failingTransport) Connect(ctx context.Context, url string, headers map[string]string) (Session, error) {
	return nil, errWrapTransport(errors.New("connection refused"))
}

func TestClientReadyTimeoutIsAuthenticationFailure(t *testing.T) {
	transport := newFakeTransport()
	c := newTestClient(transport, func(cfg *ClientConfig) {
		cfg.ReadyTimeout = 50 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx, "wss://gateway.test") }()

	session := transport.awaitDial(t)
	session.serverSend(t, serverHello(41250))
	session.awaitSent(t, OpIdentify)
	// Never deliver READY; the attempt must fail fatally.

	select {
	case err := <-runDone:
		if !errors.Is(err, ErrAuthenticationFailed) {
			t.Errorf("Run error = %v, want ErrAuthenticationFailed kind", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after ready timeout")
	}
}

func TestClientFatalCloseCodeStopsRetrying(t *testing.T) {
	transport := newFakeTransport()
	c := newTestClient(transport, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx, "wss://gateway.test") }()

	session := transport.awaitDial(t)
	session.serverSend(t, serverHello(41250))
	session.awaitSent(t, OpIdentify)

	// Fail the receive arm with an auth-failed close code; the supervisor
	// must surface it instead of scheduling another attempt.
	session.failRecv(&CloseError{Code: CloseAuthenticationFailed, Reason: "bad token"})

	select {
	case err := <-runDone:
		if !errors.Is(err, ErrFatalClose) {
			t.Errorf("Run error = %v, want ErrFatalClose kind", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after fatal close code")
	}
	if transport.dialCount() != 1 {
		t.Errorf("dial count = %d after fatal close, want 1", transport.dialCount())
	}
}
