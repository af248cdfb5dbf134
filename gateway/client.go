package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ClientConfig configures a GatewayClient. Token, Transport, and Codec are
// required; everything else has a workable default.
type ClientConfig struct {
	Token     string
	Transport WsTransport
	Codec     PayloadCodec

	Identify   IdentifyBuilder
	Intents    int
	ShardID    int
	ShardCount int

	// ResumeSessionID and ResumeSequence seed the session state with a
	// resume hint persisted from a previous process, so the very first
	// Hello triggers a Resume instead of an Identify. The hint takes effect
	// whenever ResumeSessionID is non-empty; ResumeSequence is used as given,
	// zero included.
	ResumeSessionID string
	ResumeSequence  int64

	RetryPolicy     RetryPolicyConfig
	IdentifyLimiter *IdentifyLimiter

	// ReadyTimeout bounds how long an attempt may run without observing a
	// READY or RESUMED; expiry is treated as an authentication failure.
	// Defaults to two minutes.
	ReadyTimeout time.Duration

	Headers map[string]string
	Logger  Logger

	// ReceiverBuffer and DispatchBuffer size the keep-latest mailboxes.
	// Both default to 1, the minimum needed for drop-oldest semantics.
	ReceiverBuffer int
	DispatchBuffer int
	SenderBuffer   int
}

func (c *ClientConfig) setDefaults() {
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
	if c.RetryPolicy == (RetryPolicyConfig{}) {
		c.RetryPolicy = DefaultRetryPolicyConfig()
	}
	if c.IdentifyLimiter == nil {
		c.IdentifyLimiter = NewIdentifyLimiter(0)
	}
	if c.ReceiverBuffer <= 0 {
		c.ReceiverBuffer = 1
	}
	if c.DispatchBuffer <= 0 {
		c.DispatchBuffer = 1
	}
	if c.SenderBuffer <= 0 {
		c.SenderBuffer = 16
	}
	if c.Identify == nil {
		c.Identify = StaticProperties{}
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 2 * time.Minute
	}
}

// GatewayClient is the public facade: it owns SessionState, RetryContext,
// HeartbeatTimer, and the three streams, and wraps ConnectionRunner in the
// reconnection supervisor loop.
type GatewayClient struct {
	cfg   ClientConfig
	state *SessionState
	retry *RetryContext
	hb    *HeartbeatTimer

	receiverCh chan GatewayPayload
	dispatchCh chan DispatchItem
	senderCh   chan GatewayPayload

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}

	reconnectRequested chan struct{}
}

// NewGatewayClient constructs a client. Call Run to start the supervisor.
func NewGatewayClient(cfg ClientConfig) *GatewayClient {
	cfg.setDefaults()
	state := NewSessionState()
	if cfg.ResumeSessionID != "" {
		state.SeedResume(cfg.ResumeSessionID, cfg.ResumeSequence)
	}
	return &GatewayClient{
		cfg:                cfg,
		state:              state,
		retry:              &RetryContext{},
		hb:                 NewHeartbeatTimer(),
		receiverCh:         make(chan GatewayPayload, cfg.ReceiverBuffer),
		dispatchCh:         make(chan DispatchItem, cfg.DispatchBuffer),
		senderCh:           make(chan GatewayPayload, cfg.SenderBuffer),
		closed:             make(chan struct{}),
		done:               make(chan struct{}),
		reconnectRequested: make(chan struct{}, 1),
	}
}

// Dispatch returns the stream of decoded high-level events and synthetic
// GatewayStateChange items. Overflow policy: keep latest.
func (c *GatewayClient) Dispatch() <-chan DispatchItem { return c.dispatchCh }

// Receiver returns the stream of raw inbound payloads. Overflow policy:
// keep latest.
func (c *GatewayClient) Receiver() <-chan GatewayPayload { return c.receiverCh }

// Sender returns the sink for outbound payloads. The sink is serializing:
// a single logical producer is expected; concurrent callers must coordinate
// externally. It is a channel buffered to SenderBuffer: a caller's send
// blocks while the buffer is full and is not dropped-oldest. Only the core's
// own Identify/Resume/Heartbeat enqueues drop the oldest pending payload,
// whichever producer queued it, to make room.
func (c *GatewayClient) Sender() chan<- GatewayPayload { return c.senderCh }

// Send forwards each item off items to the sender sink until items closes
// or ctx is cancelled.
func (c *GatewayClient) Send(ctx context.Context, items <-chan GatewayPayload) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-items:
			if !ok {
				return nil
			}
			select {
			case c.senderCh <- p:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// SessionID returns the current session id, empty if none established.
func (c *GatewayClient) SessionID() string { return c.state.SessionID() }

// Sequence returns the last observed sequence number and whether any has
// been observed yet.
func (c *GatewayClient) Sequence() (int64, bool) { return c.state.Sequence() }

// State returns the current ConnState.
func (c *GatewayClient) State() ConnState { return c.state.State() }

// Run starts the reconnection supervisor against url and blocks until the
// client is permanently closed or a fatal error occurs. It is safe to call
// exactly once.
func (c *GatewayClient) Run(ctx context.Context, url string) error {
	defer close(c.done)
	policy := NewRetryPolicy(c.cfg.RetryPolicy)

	for {
		select {
		case <-c.closed:
			c.state.SetState(StateClosed)
			c.emitStateChange(GatewayStateChange{Kind: StateChangeDisconnected})
			return nil
		case <-ctx.Done():
			c.state.SetState(StateClosed)
			c.emitStateChange(GatewayStateChange{Kind: StateChangeDisconnected, Err: ctx.Err()})
			return ctx.Err()
		default:
		}

		// Drain any pending manual-reconnect request from a prior iteration
		// so close(true) doesn't cause a spurious extra loop.
		select {
		case <-c.reconnectRequested:
		default:
		}

		c.state.SetState(StateConnecting)

		// Resumes reattach to the resume endpoint the last READY advertised
		// and skip the Identify limiter; a fresh Identify dials the
		// caller-supplied URL and consumes a limiter slot.
		dialURL := url
		if _, _, resumeURL, resuming := c.state.ResumeParams(); resuming && resumeURL != "" {
			dialURL = resumeURL
			// Carry the caller URL's query (version, encoding) over to a
			// resume URL that has none of its own.
			if i := strings.IndexByte(url, '?'); i >= 0 && !strings.Contains(resumeURL, "?") {
				dialURL = resumeURL + url[i:]
			}
		} else if !resuming {
			if err := c.cfg.IdentifyLimiter.Wait(ctx); err != nil {
				return err
			}
		}

		runner := NewConnectionRunner(RunnerOptions{
			Transport: c.cfg.Transport,
			Codec:     c.cfg.Codec,
			URL:       dialURL,
			Headers:   c.cfg.Headers,
			State:     c.state,
			Retry:     c.retry,
			Heartbeat: c.hb,
			Identify: IdentifyOptions{
				Token:      c.cfg.Token,
				Properties: c.cfg.Identify,
				Intents:    c.cfg.Intents,
				ShardID:    c.cfg.ShardID,
				ShardCount: c.cfg.ShardCount,
			},
			ReceiverCh:         c.receiverCh,
			DispatchCh:         c.dispatchCh,
			SenderCh:           c.senderCh,
			ReconnectRequested: c.reconnectRequested,
			Closed:             c.closed,
			ReadyTimeout:       c.cfg.ReadyTimeout,
			Logger:             c.cfg.Logger,
		})
		attemptErr := runner.Run(ctx)

		select {
		case <-c.closed:
			c.state.SetState(StateClosed)
			c.emitStateChange(GatewayStateChange{Kind: StateChangeDisconnected})
			return nil
		default:
		}
		if ctx.Err() != nil {
			c.state.SetState(StateClosed)
			c.emitStateChange(GatewayStateChange{Kind: StateChangeDisconnected, Err: ctx.Err()})
			return ctx.Err()
		}

		attempts := c.retry.Next()
		if !policy.ShouldRetry(attemptErr, attempts) {
			if attemptErr != nil && !isFatal(attemptErr) && policy.Exhausted(attempts) {
				attemptErr = fmt.Errorf("%w: %w", ErrRetriesExhausted, attemptErr)
			}
			c.state.SetState(StateClosed)
			c.emitStateChange(GatewayStateChange{Kind: StateChangeDisconnected, Err: attemptErr})
			return attemptErr
		}

		delay := retryDelayFor(policy, attemptErr, attempts)
		c.state.SetState(StateReconnecting)
		c.emitStateChange(GatewayStateChange{Kind: StateChangeRetryStarted, Attempt: attempts, Delay: delay})

		select {
		case <-time.After(delay):
		case <-c.closed:
			c.state.SetState(StateClosed)
			c.emitStateChange(GatewayStateChange{Kind: StateChangeDisconnected})
			return nil
		case <-ctx.Done():
			c.state.SetState(StateClosed)
			c.emitStateChange(GatewayStateChange{Kind: StateChangeDisconnected, Err: ctx.Err()})
			return ctx.Err()
		}
		c.emitStateChange(GatewayStateChange{Kind: StateChangeRetryFailed, Attempt: attempts, Delay: delay, Err: attemptErr})
	}
}

// Close ends the client. If reconnect is true, resumable state is cleared
// and the supervisor reconnects fresh rather than exiting Run; if false,
// the current attempt ends cooperatively and Run returns.
//
// Close(false) is idempotent; further calls are no-ops.
func (c *GatewayClient) Close(reconnect bool) {
	if reconnect {
		c.state.InvalidateSession()
		select {
		case c.reconnectRequested <- struct{}{}:
		default:
		}
		return
	}
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// Done returns a channel closed when Run has returned.
func (c *GatewayClient) Done() <-chan struct{} { return c.done }

// retryDelayFor applies the error-kind-specific recovery delay from the
// error handling table: ServerReconnect retries immediately, InvalidSession
// retries after a short randomized delay, everything else uses the
// configured jittered exponential backoff.
func retryDelayFor(policy *RetryPolicy, attemptErr error, attempts uint32) time.Duration {
	switch {
	case errors.Is(attemptErr, ErrServerReconnect):
		return 0
	case errors.Is(attemptErr, ErrInvalidSession):
		return time.Duration(250+int(jitterFraction(1)*250)) * time.Millisecond
	default:
		return policy.NextDelay(attempts)
	}
}

func (c *GatewayClient) emitStateChange(sc GatewayStateChange) {
	select {
	case c.dispatchCh <- DispatchItem{StateChange: &sc}:
	default:
		select {
		case <-c.dispatchCh:
		default:
		}
		select {
		case c.dispatchCh <- DispatchItem{StateChange: &sc}:
		default:
		}
	}
}
