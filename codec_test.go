package facetstream

import (
	"testing"
	"time"
)

type codecTestPayload struct {
	Value int `json:"value"`
}

func TestEventCodecDecodeRegistered(t *testing.T) {
	codec := RegisterJSON[codecTestPayload](NewEventCodec(), "Created")
	r := newInboundRecord("Test", "id", 1, "Created", []byte(`{"value":42}`), time.Unix(0, 0))

	e, err := codec.decode(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload, ok := e.Payload.(codecTestPayload)
	if !ok {
		t.Fatalf("expected codecTestPayload, got %T", e.Payload)
	}
	if payload.Value != 42 {
		t.Errorf("expected value 42, got %d", payload.Value)
	}
}

func TestEventCodecDecodeFallsBackToRawMessageWhenUnregistered(t *testing.T) {
	codec := NewEventCodec()
	r := newInboundRecord("Test", "id", 1, "Unrecognized", []byte(`{"value":42}`), time.Unix(0, 0))

	e, err := codec.decode(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := e.Payload.(interface{ MarshalJSON() ([]byte, error) }); !ok {
		t.Fatalf("expected a json.RawMessage payload, got %T", e.Payload)
	}
}

func TestEventCodecDecodeNilCodecFallsBackToRawMessage(t *testing.T) {
	var codec *EventCodec
	r := newInboundRecord("Test", "id", 1, "Unrecognized", []byte(`{"value":42}`), time.Unix(0, 0))
	e, err := codec.decode(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Type != "Unrecognized" {
		t.Errorf("unexpected type %q", e.Type)
	}
}
