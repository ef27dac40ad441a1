package facetstream

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
)

// GetResult is the outcome of Facet.Get: the decoded item plus the record
// it was decoded from, so callers needing the sequence for a later
// AppendTo fast path have it without a second read.
type GetResult[T any] struct {
	Record Record
	Item   T
}

// ChangeOutput is the outcome of Append, AppendTo, or Recalculate: the
// entity's new sequence, its new state, and the outbound events the
// commit produced, split into the replay/new halves spec.md §4.3
// requires.
type ChangeOutput[T any] struct {
	Seq                int64
	Item               T
	PastOutboundEvents []Event
	NewOutboundEvents  []Event
}

// Facet composes a Processor with a Store to expose the four operations
// spec.md §4.4 defines over entities named "<facet>/<id>": Get, Append,
// AppendTo, and Recalculate.
type Facet[T any] struct {
	name      string
	store     Store
	processor *Processor[T]
	codec     *EventCodec
	now       func() time.Time
	log       *zap.Logger
	metrics   *Metrics
}

// Option configures a Facet at construction time.
type Option[T any] func(*Facet[T])

// WithCodec supplies the EventCodec Recalculate uses to rebuild typed
// events from persisted inbound records. Without one, replayed payloads
// arrive in reducers as json.RawMessage.
func WithCodec[T any](codec *EventCodec) Option[T] {
	return func(f *Facet[T]) { f.codec = codec }
}

// WithClock overrides the function used to timestamp commits. Intended
// for tests that need deterministic timestamps.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(f *Facet[T]) { f.now = now }
}

// WithLogger attaches structured logging to commit attempts and
// conflicts. The default is a no-op logger: a library must not force
// logging configuration on its caller.
func WithLogger[T any](log *zap.Logger) Option[T] {
	return func(f *Facet[T]) { f.log = log }
}

// WithMetrics attaches Prometheus instrumentation to commits. The default
// is no instrumentation.
func WithMetrics[T any](m *Metrics) Option[T] {
	return func(f *Facet[T]) { f.metrics = m }
}

// NewFacet builds a Facet over the named family of entities.
func NewFacet[T any](name string, store Store, processor *Processor[T], opts ...Option[T]) *Facet[T] {
	f := &Facet[T]{
		name:      name,
		store:     store,
		processor: processor,
		now:       func() time.Time { return time.Now().UTC() },
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns the facet name entities of this Facet are partitioned
// under.
func (f *Facet[T]) Name() string { return f.name }

// Get point-reads the current state of id. It returns (nil, nil) when the
// entity has never been committed, rather than an error, matching
// spec.md §4.4's "{record, item} | null" contract.
func (f *Facet[T]) Get(ctx context.Context, id string) (*GetResult[T], error) {
	const op = "Facet.Get"
	rec, err := f.store.GetState(ctx, f.name, id)
	if errors.Is(err, ErrStateNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newError(op, KindBackend, err)
	}
	var item T
	if err := rec.decodePayload(&item); err != nil {
		return nil, err
	}
	return &GetResult[T]{Record: rec, Item: item}, nil
}

// Append reads the current state, reduces newEvents on top of it, and
// commits. A never-before-seen id starts from the Processor's
// initializer at sequence 0.
func (f *Facet[T]) Append(ctx context.Context, id string, newEvents ...Event) (*ChangeOutput[T], error) {
	const op = "Facet.Append"
	rec, err := f.store.GetState(ctx, f.name, id)
	var priorState *T
	var priorSeq int64
	switch {
	case errors.Is(err, ErrStateNotFound):
		priorSeq = 0
	case err != nil:
		return nil, newError(op, KindBackend, err)
	default:
		var item T
		if err := rec.decodePayload(&item); err != nil {
			return nil, err
		}
		priorState = &item
		priorSeq = rec.Sequence
	}
	result := f.processor.Reduce(priorState, nil, newEvents)
	return f.commit(ctx, op, id, priorSeq, result, newEvents)
}

// AppendTo skips the read, trusting that state and seq came from a recent
// Get. It is the fast path for "I just read, now I want to write". A
// stale seq surfaces as a ConcurrencyError from the conditional write; it
// never corrupts state, since the write either commits atomically at the
// expected sequence or not at all.
func (f *Facet[T]) AppendTo(ctx context.Context, id string, state T, seq int64, newEvents ...Event) (*ChangeOutput[T], error) {
	const op = "Facet.AppendTo"
	result := f.processor.Reduce(&state, nil, newEvents)
	return f.commit(ctx, op, id, seq, result, newEvents)
}

// Recalculate range-scans the entity's full record set, sorts the
// inbound log by sequence (stably, so equal sequences keep the store's
// return order), and re-derives state from scratch by reducing over
// (pastEvents ++ newEvents) starting from the initializer. Rows that are
// neither STATE nor INBOUND nor OUTBOUND are ignored.
func (f *Facet[T]) Recalculate(ctx context.Context, id string, newEvents ...Event) (*ChangeOutput[T], error) {
	const op = "Facet.Recalculate"
	records, err := f.store.GetRecords(ctx, f.name, id)
	if err != nil {
		return nil, newError(op, KindBackend, err)
	}

	var priorSeq int64
	var inboundRecords []Record
	for _, r := range records {
		switch {
		case r.IsState():
			priorSeq = r.Sequence
		case r.IsInbound():
			inboundRecords = append(inboundRecords, r)
		}
	}

	sort.SliceStable(inboundRecords, func(i, j int) bool {
		return inboundRecords[i].Sequence < inboundRecords[j].Sequence
	})

	pastEvents := make([]Event, len(inboundRecords))
	for i, r := range inboundRecords {
		e, err := f.codec.decode(r)
		if err != nil {
			return nil, err
		}
		pastEvents[i] = e
	}

	result := f.processor.Reduce(nil, pastEvents, newEvents)
	return f.commit(ctx, op, id, priorSeq, result, newEvents)
}

// commit assigns sequences to newEvents, builds the state/inbound/outbound
// records for one atomic write, and dispatches it. It is shared by
// Append, AppendTo, and Recalculate.
func (f *Facet[T]) commit(ctx context.Context, op, id string, previousSeq int64, result Result[T], newEvents []Event) (*ChangeOutput[T], error) {
	now := f.now()
	stateSeq := previousSeq + int64(len(newEvents))

	statePayload, err := encodePayload(op, result.State)
	if err != nil {
		return nil, err
	}
	stateRecord := newStateRecord(f.name, id, stateSeq, statePayload, now)

	inboundRecords := make([]Record, len(newEvents))
	for i, e := range newEvents {
		seq := previousSeq + 1 + int64(i)
		payload, err := encodePayload(op, e.Payload)
		if err != nil {
			return nil, err
		}
		inboundRecords[i] = newInboundRecord(f.name, id, seq, e.Type, payload, now)
	}

	outboundRecords := make([]Record, len(result.NewOutboundEvents))
	for i, e := range result.NewOutboundEvents {
		payload, err := encodePayload(op, e.Payload)
		if err != nil {
			return nil, err
		}
		outboundRecords[i] = newOutboundRecord(f.name, id, stateSeq, i, e.Type, payload, now)
	}

	tx := Transaction{
		State:       stateRecord,
		PreviousSeq: previousSeq,
		Inbound:     inboundRecords,
		Outbound:    outboundRecords,
	}

	start := time.Now()
	err = f.store.PutTransaction(ctx, tx)
	f.log.Debug("commit attempted",
		zap.String("op", op),
		zap.String("facet", f.name),
		zap.String("id", id),
		zap.Int64("previous_seq", previousSeq),
		zap.Int64("state_seq", stateSeq),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
	if err != nil {
		if IsConcurrency(err) {
			f.metrics.observeConflict(f.name, op)
			f.log.Warn("commit lost optimistic-concurrency race",
				zap.String("op", op), zap.String("facet", f.name), zap.String("id", id))
		}
		return nil, err
	}
	f.metrics.observeCommit(f.name, op, time.Since(start))

	return &ChangeOutput[T]{
		Seq:                stateSeq,
		Item:               result.State,
		PastOutboundEvents: result.PastOutboundEvents,
		NewOutboundEvents:  result.NewOutboundEvents,
	}, nil
}
