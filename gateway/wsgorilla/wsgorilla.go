// Package wsgorilla implements gateway.WsTransport over gorilla/websocket,
// offered as an alternative to gateway/wscoder so ConnectionRunner is
// demonstrably independent of any one WebSocket library.
package wsgorilla

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/kestrelhq/wsgateway/gateway"
)

// Transport is a gateway.WsTransport backed by gorilla/websocket.
type Transport struct {
	Dialer *websocket.Dialer
}

// Connect implements gateway.WsTransport.
func (t *Transport) Connect(ctx context.Context, url string, headers map[string]string) (gateway.Session, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	httpHeader := make(http.Header, len(headers))
	for k, v := range headers {
		httpHeader.Set(k, v)
	}

	conn, _, err := dialer.DialContext(ctx, url, httpHeader)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", gateway.ErrTransport, url, err)
	}
	return &session{conn: conn}, nil
}

type session struct {
	conn *websocket.Conn
}

func (s *session) Recv(ctx context.Context) (gateway.FrameKind, []byte, error) {
	type result struct {
		kind gateway.FrameKind
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		mt, data, err := s.conn.ReadMessage()
		kind := gateway.FrameText
		if mt == websocket.BinaryMessage {
			kind = gateway.FrameBinary
		}
		done <- result{kind: kind, data: data, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if ce, ok := r.err.(*websocket.CloseError); ok {
				return 0, nil, &gateway.CloseError{Code: ce.Code, Reason: ce.Text}
			}
			return 0, nil, fmt.Errorf("%w: %v", gateway.ErrTransport, r.err)
		}
		return r.kind, r.data, nil
	case <-ctx.Done():
		_ = s.conn.Close()
		return 0, nil, ctx.Err()
	}
}

func (s *session) Send(ctx context.Context, kind gateway.FrameKind, data []byte) error {
	mt := websocket.TextMessage
	if kind == gateway.FrameBinary {
		mt = websocket.BinaryMessage
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	}
	if err := s.conn.WriteMessage(mt, data); err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrTransport, err)
	}
	return nil
}

func (s *session) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
	return s.conn.Close()
}
