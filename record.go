package facetstream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// sortKeyState, sortKeyInboundPrefix and sortKeyOutboundPrefix are the
// three sort-key shapes a Record can take. Type is carried twice - once
// in the sort key, once as its own field - so a backend range scan can
// filter on sort-key prefix alone without decoding every item.
const (
	sortKeyState          = "STATE"
	sortKeyInboundPrefix  = "INBOUND"
	sortKeyOutboundPrefix = "OUTBOUND"
)

// Record is one persisted row: the materialized state, one inbound event,
// or one outbound event, all sharing the same partition key layout.
//
// Field names mirror the canonical external attribute names from spec.md
// §6 (_id, _rng, _facet, _typ, _seq, _ts, _date, _itm), but a Store adapter
// must not marshal a Record with a reflection-based mapper: _itm has to
// reach the backend as the JSON string of Payload, and Payload is typed
// []byte here only so callers can build it with encoding/json without an
// intermediate string conversion. A generic marshaler would encode that
// []byte as a binary attribute instead of the string spec.md §6 requires,
// so adapters build the wire representation by hand (see
// dynamostore.recordToItem).
type Record struct {
	PartitionKey string
	SortKey      string
	Facet        string
	Type         string
	Sequence     int64
	TimestampMS  int64
	Date         string
	Payload      []byte
}

func partitionKey(facet, id string) string {
	return facet + "/" + id
}

// newRecord fills in the fields common to all three record kinds.
func newRecord(facet, id, sortKey, typ string, seq int64, payload []byte, ts time.Time) Record {
	return Record{
		PartitionKey: partitionKey(facet, id),
		SortKey:      sortKey,
		Facet:        facet,
		Type:         typ,
		Sequence:     seq,
		TimestampMS:  ts.UnixMilli(),
		Date:         ts.UTC().Format(time.RFC3339),
		Payload:      payload,
	}
}

// newStateRecord builds the unique STATE row for an entity. Its Type is
// the facet name, since a state row has no event-type discriminator of
// its own.
func newStateRecord(facet, id string, seq int64, payload []byte, ts time.Time) Record {
	return newRecord(facet, id, sortKeyState, facet, seq, payload, ts)
}

// newInboundRecord builds one INBOUND row. seq is the sequence assigned to
// this event (I2/I3: inbound sequences are gap-free and 1-indexed).
func newInboundRecord(facet, id string, seq int64, typ string, payload []byte, ts time.Time) Record {
	sk := fmt.Sprintf("%s/%s/%d", sortKeyInboundPrefix, typ, seq)
	return newRecord(facet, id, sk, typ, seq, payload, ts)
}

// newOutboundRecord builds one OUTBOUND row. seq is the commit's resulting
// state sequence (every outbound row from one commit shares it); index
// disambiguates multiple outbounds emitted by the same commit.
func newOutboundRecord(facet, id string, seq int64, index int, typ string, payload []byte, ts time.Time) Record {
	sk := fmt.Sprintf("%s/%s/%d/%d", sortKeyOutboundPrefix, typ, seq, index)
	return newRecord(facet, id, sk, typ, seq, payload, ts)
}

// IsState reports whether r is the STATE row.
func (r Record) IsState() bool { return r.SortKey == sortKeyState }

// IsInbound reports whether r is an INBOUND row.
func (r Record) IsInbound() bool { return strings.HasPrefix(r.SortKey, sortKeyInboundPrefix+"/") }

// IsOutbound reports whether r is an OUTBOUND row.
func (r Record) IsOutbound() bool { return strings.HasPrefix(r.SortKey, sortKeyOutboundPrefix+"/") }

// IsFacet reports whether r belongs to the named facet (I6: facet
// homogeneity).
func (r Record) IsFacet(name string) bool { return r.Facet == name }

// decodePayload unmarshals r's payload into v.
func (r Record) decodePayload(v interface{}) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return newError("Record.decodePayload", KindSerialization, err)
	}
	return nil
}

func encodePayload(op string, v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, newError(op, KindSerialization, err)
	}
	return b, nil
}
