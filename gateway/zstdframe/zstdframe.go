// Package zstdframe decorates a gateway.Session so inbound binary frames
// arriving under the gateway's compress=zstd-stream mode are
// transparently inflated before being handed to the codec.
package zstdframe

import (
	"context"
	"fmt"

	"github.com/valyala/gozstd"

	"github.com/kestrelhq/wsgateway/gateway"
)

// Wrap decorates inner so inbound binary frames are zstd-decompressed.
// Outbound frames pass through unmodified: this protocol only compresses
// the server-to-client direction.
func Wrap(inner gateway.Session) gateway.Session {
	return &session{inner: inner}
}

type session struct {
	inner gateway.Session
}

func (s *session) Recv(ctx context.Context) (gateway.FrameKind, []byte, error) {
	kind, data, err := s.inner.Recv(ctx)
	if err != nil {
		return kind, data, err
	}
	if kind != gateway.FrameBinary {
		return kind, data, nil
	}

	inflated, err := gozstd.Decompress(nil, data)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: zstd inflate: %v", gateway.ErrDecode, err)
	}
	return gateway.FrameText, inflated, nil
}

func (s *session) Send(ctx context.Context, kind gateway.FrameKind, data []byte) error {
	return s.inner.Send(ctx, kind, data)
}

func (s *session) Close(code int, reason string) error {
	return s.inner.Close(code, reason)
}
