package facetstream

import "context"

// MaxTransactionItems is the largest number of item puts a single
// putTransaction call may contain, inherited from the DynamoDB
// TransactWriteItems limit. A Store implementation must reject anything
// larger with a KindCapacity error rather than silently splitting it,
// since splitting would break the atomicity invariant (I5).
const MaxTransactionItems = 25

// Transaction is everything a single commit needs to write atomically:
// the new state row, the inbound rows for newly appended events, the
// outbound rows produced by this commit, and the sequence the state row
// is expected to currently hold (0 for a not-yet-existing entity).
type Transaction struct {
	State       Record
	PreviousSeq int64
	Inbound     []Record
	Outbound    []Record
}

// Store is the interface the engine uses to talk to the backend. A
// conforming implementation must provide the semantics of spec.md §4.2:
// strongly consistent reads, and a single atomic conditional write for
// PutTransaction with per-item predicates - never a loop of individual
// puts.
type Store interface {
	// GetState point-reads the STATE row for (facet, id). It returns
	// ErrStateNotFound, not an error wrapped in *Error, when the row is
	// absent, mirroring the teacher's direct sentinel so callers can use
	// errors.Is without unwrapping.
	GetState(ctx context.Context, facet, id string) (Record, error)
	// GetRecords range-scans every row under partition "<facet>/<id>",
	// consistent, in whatever order the backend returns them (callers
	// that need sequence order, like Facet.Recalculate, sort explicitly).
	GetRecords(ctx context.Context, facet, id string) ([]Record, error)
	// PutTransaction commits tx atomically: either every row in it lands
	// durably, or none does. It must enforce I4 (at-most-one commit per
	// sequence) via the state row's conditional predicate, and must
	// return an error satisfying IsConcurrency when that predicate loses
	// a race.
	PutTransaction(ctx context.Context, tx Transaction) error
}

// ValidateTransaction enforces spec.md §4.2's structural checks before a
// Store implementation dispatches tx to the backend: the state row must
// be a StateRecord of facet, every inbound/outbound row must be of the
// matching kind and facet (I6), and the total item count must not exceed
// MaxTransactionItems. Every Store implementation is expected to call
// this before it touches the network, so the same fatal-on-programmer-
// error behavior applies regardless of backend.
func ValidateTransaction(facet string, tx Transaction) error {
	const op = "Store.PutTransaction"
	if !tx.State.IsState() {
		return newError(op, KindValidation, errFieldf("state record has sort key %q, want STATE", tx.State.SortKey))
	}
	if !tx.State.IsFacet(facet) {
		return newError(op, KindValidation, errFieldf("state record facet %q does not match store facet %q", tx.State.Facet, facet))
	}
	for _, r := range tx.Inbound {
		if !r.IsInbound() {
			return newError(op, KindValidation, errFieldf("inbound record has sort key %q, want INBOUND/...", r.SortKey))
		}
		if !r.IsFacet(facet) {
			return newError(op, KindValidation, errFieldf("inbound record facet %q does not match store facet %q", r.Facet, facet))
		}
	}
	for _, r := range tx.Outbound {
		if !r.IsOutbound() {
			return newError(op, KindValidation, errFieldf("outbound record has sort key %q, want OUTBOUND/...", r.SortKey))
		}
		if !r.IsFacet(facet) {
			return newError(op, KindValidation, errFieldf("outbound record facet %q does not match store facet %q", r.Facet, facet))
		}
	}
	total := 1 + len(tx.Inbound) + len(tx.Outbound)
	if total > MaxTransactionItems {
		return newError(op, KindCapacity, errFieldf("transaction has %d items, exceeds limit of %d", total, MaxTransactionItems))
	}
	return nil
}
