package gateway

// PayloadCodec is the serialization capability the core consumes. It is
// deliberately out of the core's scope to implement: gateway/jsoncodec
// provides concrete implementations over third-party JSON encoders.
type PayloadCodec interface {
	// Decode parses a raw inbound frame into a GatewayPayload. It returns a
	// *DecodeError (wrapping ErrDecode) on malformed JSON; the caller drops
	// the frame and continues. The gateway/jsoncodec codecs do not reject
	// unknown opcodes: such payloads decode normally, reach the receiver
	// stream, and are ignored by the dispatcher.
	Decode(raw []byte) (GatewayPayload, error)

	// Encode serializes a GatewayPayload to bytes for an outbound frame.
	// Encode is infallible for well-formed payloads produced by this
	// package; implementations should only ever return an error for a
	// caller-constructed payload with an unmarshalable Data field.
	Encode(p GatewayPayload) ([]byte, error)
}
