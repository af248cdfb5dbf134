// Package wscoder implements gateway.WsTransport over coder/websocket, the
// default transport.
package wscoder

import (
	"context"
	"fmt"
	"strings"

	"github.com/coder/websocket"

	"github.com/kestrelhq/wsgateway/gateway"
	"github.com/kestrelhq/wsgateway/gateway/zstdframe"
)

// Transport is a gateway.WsTransport backed by coder/websocket.
type Transport struct {
	// CompressionMode defaults to websocket.CompressionDisabled; the
	// gateway's own zstd-stream compression (ZstdStream below) makes
	// per-message RFC 7692 compression redundant.
	CompressionMode websocket.CompressionMode

	// ZstdStream requests transport-level zstd compression from the server
	// and wraps the session so inbound binary frames are inflated before
	// reaching the codec (see gateway/zstdframe).
	ZstdStream bool
}

// Connect implements gateway.WsTransport.
func (t *Transport) Connect(ctx context.Context, url string, headers map[string]string) (gateway.Session, error) {
	if t.ZstdStream {
		url = appendQuery(url, "compress=zstd-stream")
	}
	httpHeader := toHTTPHeader(headers)
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		CompressionMode: t.CompressionMode,
		HTTPHeader:      httpHeader,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", gateway.ErrTransport, url, err)
	}
	conn.SetReadLimit(-1) // gateway payloads can exceed the 32KiB default
	var s gateway.Session = &session{conn: conn}
	if t.ZstdStream {
		s = zstdframe.Wrap(s)
	}
	return s, nil
}

func appendQuery(url, param string) string {
	if strings.Contains(url, "?") {
		return url + "&" + param
	}
	return url + "?" + param
}

type session struct {
	conn *websocket.Conn
}

func (s *session) Recv(ctx context.Context) (gateway.FrameKind, []byte, error) {
	mt, data, err := s.conn.Read(ctx)
	if err != nil {
		if code := websocket.CloseStatus(err); code != -1 {
			return 0, nil, &gateway.CloseError{Code: int(code), Reason: err.Error()}
		}
		return 0, nil, fmt.Errorf("%w: %v", gateway.ErrTransport, err)
	}
	kind := gateway.FrameText
	if mt == websocket.MessageBinary {
		kind = gateway.FrameBinary
	}
	return kind, data, nil
}

func (s *session) Send(ctx context.Context, kind gateway.FrameKind, data []byte) error {
	mt := websocket.MessageText
	if kind == gateway.FrameBinary {
		mt = websocket.MessageBinary
	}
	if err := s.conn.Write(ctx, mt, data); err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrTransport, err)
	}
	return nil
}

func (s *session) Close(code int, reason string) error {
	return s.conn.Close(websocket.StatusCode(code), reason)
}
