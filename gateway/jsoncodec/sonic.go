// Package jsoncodec provides gateway.PayloadCodec implementations over
// third-party JSON encoders, kept deliberately thin: the wire format is
// exactly gateway.GatewayPayload's json tags.
package jsoncodec

import (
	"github.com/bytedance/sonic"

	"github.com/kestrelhq/wsgateway/gateway"
)

// Sonic is a gateway.PayloadCodec backed by bytedance/sonic, chosen for
// its JIT-compiled encoder/decoder on the hot inbound-frame path.
type Sonic struct {
	api sonic.API
}

// NewSonic returns a codec using sonic's default, fully-compatible config.
func NewSonic() *Sonic {
	return &Sonic{api: sonic.ConfigDefault}
}

// Decode implements gateway.PayloadCodec.
func (s *Sonic) Decode(raw []byte) (gateway.GatewayPayload, error) {
	var p gateway.GatewayPayload
	if err := s.api.Unmarshal(raw, &p); err != nil {
		return gateway.GatewayPayload{}, &gateway.DecodeError{Err: err, Len: len(raw)}
	}
	return p, nil
}

// Encode implements gateway.PayloadCodec.
func (s *Sonic) Encode(p gateway.GatewayPayload) ([]byte, error) {
	return s.api.Marshal(p)
}
