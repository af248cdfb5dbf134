package gateway

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestBuildIdentifyWireShape(t *testing.T) {
	p, err := BuildIdentify("tok", IdentifyProperties{OS: "linux", Browser: "b", Device: "d"}, 513, 1, 4)
	if err != nil {
		t.Fatalf("BuildIdentify error: %v", err)
	}
	if p.Op != OpIdentify {
		t.Fatalf("op = %d, want %d", p.Op, OpIdentify)
	}

	var d IdentifyData
	if err := json.Unmarshal(p.Data, &d); err != nil {
		t.Fatalf("unmarshal identify data: %v", err)
	}
	if d.Token != "tok" || d.Intents != 513 {
		t.Errorf("identify data = %+v, want token tok intents 513", d)
	}
	if d.Shard == nil || d.Shard[0] != 1 || d.Shard[1] != 4 {
		t.Errorf("shard = %v, want [1 4]", d.Shard)
	}
}

func TestBuildIdentifyOmitsShardWhenUnsharded(t *testing.T) {
	p, err := BuildIdentify("tok", IdentifyProperties{}, 0, 0, 0)
	if err != nil {
		t.Fatalf("BuildIdentify error: %v", err)
	}
	var d IdentifyData
	if err := json.Unmarshal(p.Data, &d); err != nil {
		t.Fatalf("unmarshal identify data: %v", err)
	}
	if d.Shard != nil {
		t.Errorf("shard = %v, want nil when shard count is zero", d.Shard)
	}
}

func TestBuildHeartbeatNullWithoutSequence(t *testing.T) {
	p, err := BuildHeartbeat(0, false)
	if err != nil {
		t.Fatalf("BuildHeartbeat error: %v", err)
	}
	if string(p.Data) != "null" {
		t.Errorf("heartbeat d = %s, want null", p.Data)
	}

	p, err = BuildHeartbeat(9, true)
	if err != nil {
		t.Fatalf("BuildHeartbeat error: %v", err)
	}
	if string(p.Data) != "9" {
		t.Errorf("heartbeat d = %s, want 9", p.Data)
	}
}

func TestPayloadEncodeDecodeRoundTrip(t *testing.T) {
	codec := stdJSONCodec{}
	seq := int64(42)

	payloads := []GatewayPayload{
		{Op: OpHello, Data: json.RawMessage(`{"heartbeat_interval":41250}`)},
		{Op: OpDispatch, Event: "MESSAGE_CREATE", Sequence: &seq, Data: json.RawMessage(`{"id":"1"}`)},
		{Op: OpHeartbeatAck},
	}

	for _, p := range payloads {
		raw, err := codec.Encode(p)
		if err != nil {
			t.Fatalf("Encode(op=%d) error: %v", p.Op, err)
		}
		got, err := codec.Decode(raw)
		if err != nil {
			t.Fatalf("Decode(op=%d) error: %v", p.Op, err)
		}
		if got.Op != p.Op || got.Event != p.Event {
			t.Errorf("round trip changed envelope: got %+v, want %+v", got, p)
		}
		if (got.Sequence == nil) != (p.Sequence == nil) {
			t.Errorf("round trip changed sequence presence for op=%d", p.Op)
		}
		if got.Sequence != nil && *got.Sequence != *p.Sequence {
			t.Errorf("round trip changed sequence: got %d, want %d", *got.Sequence, *p.Sequence)
		}
	}
}

func TestDecodeRejectsEmptyAndTruncatedFrames(t *testing.T) {
	codec := stdJSONCodec{}
	for _, raw := range [][]byte{nil, {}, []byte(`{"op":0,"s":`)} {
		if _, err := codec.Decode(raw); err == nil {
			t.Errorf("Decode(%q) = nil error, want DecodeError", raw)
		}
	}
}

func TestPropertiesRotatorCycles(t *testing.T) {
	pool := []IdentifyProperties{
		{OS: "a"}, {OS: "b"},
	}
	r := NewPropertiesRotator(pool)

	got := []IdentifyProperties{r.Properties(), r.Properties(), r.Properties()}
	want := []IdentifyProperties{{OS: "a"}, {OS: "b"}, {OS: "a"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("rotation = %v, want %v", got, want)
	}
}
