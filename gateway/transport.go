package gateway

import "context"

// FrameKind distinguishes text and binary WebSocket frames. The gateway
// protocol is JSON, sent as text frames; binary frames appear only under
// transport-level compression (see gateway/zstdframe).
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
)

// Session is one live WebSocket connection, as produced by WsTransport.
// Closing either the inbound stream or the outbound sink closes both
// directions of the underlying socket.
type Session interface {
	// Recv blocks until the next inbound frame arrives, or returns an error
	// (including context cancellation or a remote close).
	Recv(ctx context.Context) (kind FrameKind, data []byte, err error)

	// Send writes one outbound frame.
	Send(ctx context.Context, kind FrameKind, data []byte) error

	// Close closes the session with the given gateway close code and reason.
	Close(code int, reason string) error
}

// WsTransport is the WebSocket capability the core consumes. gateway/wscoder
// and gateway/wsgorilla provide concrete implementations over unrelated
// third-party WebSocket libraries, proving ConnectionRunner depends only on
// this interface.
type WsTransport interface {
	// Connect dials url and returns a live Session. headers must include a
	// configurable User-Agent.
	Connect(ctx context.Context, url string, headers map[string]string) (Session, error)
}
