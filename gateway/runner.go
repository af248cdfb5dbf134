package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunnerOptions configures one ConnectionRunner attempt. GatewayClient owns
// the long-lived SessionState, RetryContext, HeartbeatTimer, and streams; a
// runner borrows them for the duration of one attempt.
type RunnerOptions struct {
	Transport WsTransport
	Codec     PayloadCodec
	URL       string
	Headers   map[string]string

	State     *SessionState
	Retry     *RetryContext
	Heartbeat *HeartbeatTimer

	Identify IdentifyOptions

	// ReceiverCh receives every decoded raw inbound payload, drop-oldest
	// under backpressure. May be nil.
	ReceiverCh chan GatewayPayload
	// DispatchCh receives decoded Dispatch events and synthetic
	// GatewayStateChange items, drop-oldest under backpressure.
	DispatchCh chan DispatchItem
	// SenderCh is the external outbound sink the facade exposes to callers;
	// the runner also injects Identify/Resume/Heartbeat onto it internally.
	SenderCh chan GatewayPayload

	// ReconnectRequested is signalled by GatewayClient.Close(true) to end
	// this attempt and let the supervisor immediately start a fresh one.
	ReconnectRequested <-chan struct{}

	// Closed is closed by GatewayClient.Close(false); the attempt ends
	// cooperatively and the supervisor exits.
	Closed <-chan struct{}

	// ReadyTimeout bounds how long the attempt may run without observing a
	// READY or RESUMED dispatch. Expiry is treated as an authentication
	// failure (the server accepted the socket but never granted a session).
	// Zero disables the watchdog.
	ReadyTimeout time.Duration

	Logger Logger
}

// ConnectionRunner drives one transport attempt end-to-end: open,
// identify/resume, multiplex the heartbeat/sender/receiver/watcher arms,
// tear down. The arms are joined with errgroup's first-error-wins
// semantics: any arm's termination unwinds the rest.
type ConnectionRunner struct {
	opts       RunnerOptions
	dispatcher *PayloadDispatcher
}

// NewConnectionRunner builds a runner for one attempt.
func NewConnectionRunner(opts RunnerOptions) *ConnectionRunner {
	return &ConnectionRunner{
		opts:       opts,
		dispatcher: NewPayloadDispatcher(opts.Codec, opts.State, opts.Retry),
	}
}

// Run executes one attempt until any arm terminates, then tears everything
// down and returns the terminating error. It never returns nil: a
// Close(false) ends the attempt with ErrClosed, and GatewayClient.Run tells
// that apart from a failure by checking its own closed channel.
func (r *ConnectionRunner) Run(ctx context.Context) error {
	session, err := r.opts.Transport.Connect(ctx, r.opts.URL, r.opts.Headers)
	if err != nil {
		return errorsJoinTransport(err)
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer r.opts.Heartbeat.Stop()

	r.opts.State.MarkHeartbeatAcked() // baseline: treat connect instant as a fresh ack

	terminal := make(chan error, 1)
	var (
		terminalMu  sync.Mutex
		terminalErr error
	)
	reportTerminal := func(err error) {
		terminalMu.Lock()
		if terminalErr == nil {
			terminalErr = err
		}
		terminalMu.Unlock()
		select {
		case terminal <- err:
			cancel()
		default:
		}
	}

	readyObserved := make(chan struct{})
	var readyOnce sync.Once

	dc := DispatchContext{
		Heartbeat: r.opts.Heartbeat,
		Identify:  r.opts.Identify,
		Enqueue: func(p GatewayPayload) error {
			return r.enqueueSend(attemptCtx, p)
		},
		OnDispatch: func(d Dispatch) {
			r.publishDispatch(DispatchItem{Dispatch: &d})
		},
		OnStateChange: func(sc GatewayStateChange) {
			if sc.Kind == StateChangeConnected || sc.Kind == StateChangeRetrySucceeded {
				readyOnce.Do(func() { close(readyObserved) })
			}
			r.publishDispatch(DispatchItem{StateChange: &sc})
		},
		OnTerminal: reportTerminal,
		Logger:     r.opts.Logger,
	}

	g, gctx := errgroup.WithContext(attemptCtx)

	g.Go(func() error { return r.receiverArm(gctx, session, dc) })
	g.Go(func() error { return r.senderArm(gctx, session) })
	g.Go(func() error { return r.heartbeatArm(gctx, session) })
	if r.opts.ReadyTimeout > 0 {
		g.Go(func() error { return r.readyLatchArm(gctx, readyObserved) })
	}
	g.Go(func() error {
		select {
		case err := <-terminal:
			return err
		case <-r.opts.ReconnectRequested:
			return ErrServerReconnect
		case <-r.opts.Closed:
			return ErrClosed
		case <-gctx.Done():
			// cancel() races ahead of delivering its error on terminal;
			// give the buffered send a chance to land before falling back
			// to the bare context error.
			select {
			case err := <-terminal:
				return err
			default:
				return gctx.Err()
			}
		}
	})

	runErr := g.Wait()
	_ = session.Close(1000, "attempt ended")

	if runErr != nil && errors.Is(runErr, context.Canceled) && ctx.Err() == nil {
		// A sibling arm cancelled attemptCtx deliberately (e.g. OnTerminal);
		// an arm that saw the cancellation may have returned first, so the
		// recorded terminal cause replaces the bare context error.
		terminalMu.Lock()
		defer terminalMu.Unlock()
		if terminalErr != nil {
			return terminalErr
		}
	}
	return runErr
}

func (r *ConnectionRunner) receiverArm(ctx context.Context, session Session, dc DispatchContext) error {
	for {
		_, data, err := session.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errorsJoinTransport(err)
		}

		payload, decodeErr := r.opts.Codec.Decode(data)
		if decodeErr != nil {
			if r.opts.Logger != nil {
				r.opts.Logger.Warn("dropping malformed frame", "error", decodeErr)
			}
			continue
		}
		r.publishReceiver(payload)

		if err := r.dispatcher.HandleDecoded(payload, dc); err != nil {
			var de *DecodeError
			if errors.As(err, &de) {
				if r.opts.Logger != nil {
					r.opts.Logger.Warn("dropping malformed payload body", "error", err)
				}
				continue
			}
			return err
		}
	}
}

func (r *ConnectionRunner) senderArm(ctx context.Context, session Session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-r.opts.SenderCh:
			if !ok {
				return nil
			}
			raw, err := r.dispatcher.EncodeOutbound(p)
			if err != nil {
				if r.opts.Logger != nil {
					r.opts.Logger.Error("encode failed, dropping outbound payload", "error", err)
				}
				continue
			}
			if err := session.Send(ctx, FrameText, raw); err != nil {
				return errorsJoinTransport(err)
			}
		}
	}
}

func (r *ConnectionRunner) heartbeatArm(ctx context.Context, session Session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.opts.Heartbeat.Ticks():
			if !r.opts.State.HeartbeatAcked() {
				_ = session.Close(int(CloseSessionTimedOut), "zombie connection")
				return ErrZombieConnection
			}
			sequence, hasSequence := r.opts.State.Sequence()
			hb, err := BuildHeartbeat(sequence, hasSequence)
			if err != nil {
				return err
			}
			r.opts.State.MarkHeartbeatSent()
			if err := r.enqueueSend(ctx, hb); err != nil {
				return err
			}
		}
	}
}

// readyLatchArm fails the attempt if no READY or RESUMED arrives within the
// configured window; once one is observed it idles until teardown.
func (r *ConnectionRunner) readyLatchArm(ctx context.Context, readyObserved <-chan struct{}) error {
	timer := time.NewTimer(r.opts.ReadyTimeout)
	defer timer.Stop()
	select {
	case <-readyObserved:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: no ready within %v", ErrAuthenticationFailed, r.opts.ReadyTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueueSend pushes p onto the sender channel. When the channel is full it
// drops the oldest pending payload, whichever producer queued it, rather
// than blocking the dispatcher or heartbeat arm indefinitely.
func (r *ConnectionRunner) enqueueSend(ctx context.Context, p GatewayPayload) error {
	select {
	case r.opts.SenderCh <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		select {
		case <-r.opts.SenderCh:
		default:
		}
		select {
		case r.opts.SenderCh <- p:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *ConnectionRunner) publishReceiver(p GatewayPayload) {
	if r.opts.ReceiverCh == nil {
		return
	}
	select {
	case r.opts.ReceiverCh <- p:
	default:
		select {
		case <-r.opts.ReceiverCh:
		default:
		}
		select {
		case r.opts.ReceiverCh <- p:
		default:
		}
	}
}

func (r *ConnectionRunner) publishDispatch(item DispatchItem) {
	if r.opts.DispatchCh == nil {
		return
	}
	select {
	case r.opts.DispatchCh <- item:
	default:
		select {
		case <-r.opts.DispatchCh:
		default:
		}
		select {
		case r.opts.DispatchCh <- item:
		default:
		}
	}
}

func errorsJoinTransport(err error) error {
	if err == nil {
		return nil
	}
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce
	}
	return errWrapTransport(err)
}

func errWrapTransport(err error) error {
	return &transportErr{cause: err}
}

type transportErr struct{ cause error }

func (e *transportErr) Error() string { return "gateway: transport error: " + e.cause.Error() }
func (e *transportErr) Unwrap() error { return ErrTransport }
