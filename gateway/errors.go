package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors for the error kinds in the core's error table. Wrap them
// with fmt.Errorf("...: %w", ...) to attach context; callers can still match
// with errors.Is.
var (
	// ErrTransport covers WebSocket open/read/write failures. Retriable with
	// backoff; resumable state is preserved.
	ErrTransport = errors.New("gateway: transport error")

	// ErrDecode covers a malformed inbound payload. The frame is dropped; the
	// connection continues.
	ErrDecode = errors.New("gateway: decode error")

	// ErrZombieConnection covers a missed heartbeat acknowledgement. The
	// transport is force-closed and the attempt retried with resumable state
	// preserved.
	ErrZombieConnection = errors.New("gateway: zombie connection")

	// ErrServerReconnect covers an Opcode Reconnect request. The attempt ends
	// and retries immediately with resumable state preserved.
	ErrServerReconnect = errors.New("gateway: server requested reconnect")

	// ErrInvalidSession covers an Opcode InvalidSession. The attempt ends and
	// retries after a short randomized delay; resumable state is cleared when
	// the body is false and kept when it is true.
	ErrInvalidSession = errors.New("gateway: invalid session")

	// ErrAuthenticationFailed is fatal: Ready never arrived after Identify,
	// or the server closed with code 4004. No further retry is attempted.
	ErrAuthenticationFailed = errors.New("gateway: authentication failed")

	// ErrFatalClose is fatal: the server closed with one of the close codes
	// IsFatalCloseCode reports (4004, and the sharding/version/intents codes
	// 4010-4014). No further retry is attempted.
	ErrFatalClose = errors.New("gateway: fatal close code")

	// ErrRetriesExhausted is fatal: RetryPolicy's attempt budget ran out.
	ErrRetriesExhausted = errors.New("gateway: retries exhausted")

	// ErrClosed ends a ConnectionRunner attempt when Close(false) is called;
	// GatewayClient.Run then returns nil.
	ErrClosed = errors.New("gateway: client closed")
)

// isFatal reports whether err should terminate the supervisor loop rather
// than schedule a retry.
func isFatal(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed) ||
		errors.Is(err, ErrFatalClose) ||
		errors.Is(err, ErrRetriesExhausted)
}

// DecodeError wraps a PayloadCodec decode failure with the length of the
// frame that failed to parse, for diagnostic logging.
type DecodeError struct {
	Err error
	Len int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v (len=%d)", ErrDecode, e.Err, e.Len)
}

func (e *DecodeError) Unwrap() error { return ErrDecode }

// CloseError wraps a gateway close code observed from the transport.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("gateway: closed with code %d: %s", e.Code, e.Reason)
}

func (e *CloseError) Unwrap() []error {
	switch {
	case e.Code == CloseAuthenticationFailed:
		return []error{ErrFatalClose, ErrAuthenticationFailed}
	case IsFatalCloseCode(e.Code):
		return []error{ErrFatalClose}
	default:
		return []error{ErrTransport}
	}
}
