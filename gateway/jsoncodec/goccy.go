package jsoncodec

import (
	goccyjson "github.com/goccy/go-json"

	"github.com/kestrelhq/wsgateway/gateway"
)

// Goccy is a gateway.PayloadCodec backed by goccy/go-json, offered as a
// drop-in alternative to Sonic on platforms where sonic's assembly
// specialization is unavailable (e.g. non-amd64/arm64 targets).
type Goccy struct{}

// NewGoccy returns a Goccy codec.
func NewGoccy() *Goccy { return &Goccy{} }

// Decode implements gateway.PayloadCodec.
func (Goccy) Decode(raw []byte) (gateway.GatewayPayload, error) {
	var p gateway.GatewayPayload
	if err := goccyjson.Unmarshal(raw, &p); err != nil {
		return gateway.GatewayPayload{}, &gateway.DecodeError{Err: err, Len: len(raw)}
	}
	return p, nil
}

// Encode implements gateway.PayloadCodec.
func (Goccy) Encode(p gateway.GatewayPayload) ([]byte, error) {
	return goccyjson.Marshal(p)
}
