package facetstream

import "encoding/json"

// EventDecoder reconstructs a typed event payload from its stored JSON
// form. Registering one is optional: a Facet.Recalculate call falls back
// to a raw json.RawMessage payload for any event type with no decoder, so
// that replaying an old inbound log never fails just because a rule (or
// its decoder) has since been retired - the same tolerance spec.md §4.3
// requires for unrecognized event types in the rule table.
type EventDecoder func(payload []byte) (interface{}, error)

// EventCodec is a small registry of EventDecoders keyed by event type,
// used to rebuild typed Event values from persisted Records during
// replay. It generalizes the teacher's InboundEventReader/
// OutboundEventReader to a single reusable type, since inbound and
// outbound rows are decoded identically.
type EventCodec struct {
	decoders map[string]EventDecoder
}

// NewEventCodec builds an empty EventCodec.
func NewEventCodec() *EventCodec {
	return &EventCodec{decoders: make(map[string]EventDecoder)}
}

// Register adds a decoder for typ and returns the codec, so calls can be
// chained.
func (c *EventCodec) Register(typ string, decode EventDecoder) *EventCodec {
	c.decoders[typ] = decode
	return c
}

// RegisterJSON registers a decoder that unmarshals payload into a fresh
// *V and returns it by value, the common case for plain struct events.
func RegisterJSON[V any](c *EventCodec, typ string) *EventCodec {
	return c.Register(typ, func(payload []byte) (interface{}, error) {
		var v V
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return v, nil
	})
}

// decode rebuilds a typed Event from a Record. If no decoder is
// registered for r.Type, the payload is returned as json.RawMessage
// rather than as an error.
func (c *EventCodec) decode(r Record) (Event, error) {
	if c != nil {
		if d, ok := c.decoders[r.Type]; ok {
			v, err := d(r.Payload)
			if err != nil {
				return Event{}, newError("EventCodec.decode", KindSerialization, err)
			}
			return Event{Type: r.Type, Payload: v}, nil
		}
	}
	return Event{Type: r.Type, Payload: json.RawMessage(r.Payload)}, nil
}
