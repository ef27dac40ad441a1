package facetstream

// Event is an inbound or outbound event moving through the reducer. Type
// is the rule-table key; Payload carries the event's data as whatever
// concrete type the caller constructed it with. The payload is only ever
// serialized at the store boundary (see record.go) - in memory it stays a
// typed Go value, recovered in reducers with a type switch on Current.
type Event struct {
	Type    string
	Payload interface{}
}

// NewEvent builds an Event from a payload and an explicit type name.
func NewEvent(typ string, payload interface{}) Event {
	return Event{Type: typ, Payload: payload}
}

// ReducerInput is everything a Reducer needs to fold one event into the
// accumulator and optionally publish outbound events.
type ReducerInput[T any] struct {
	// State is the accumulator going into this step.
	State T
	// Current is the payload of the event being applied.
	Current interface{}
	// PastInboundEvents is the full slice of previously-committed events,
	// in sequence order.
	PastInboundEvents []Event
	// NewInboundEvents is the full slice of events being appended in this
	// call, in caller order.
	NewInboundEvents []Event
	// All is PastInboundEvents followed by NewInboundEvents.
	All []Event
	// CurrentIndex is the index of Current within All.
	CurrentIndex int
	// StateIndex is len(PastInboundEvents): the boundary in All between
	// replayed history and newly appended events.
	StateIndex int
	// Publish emits an outbound event from within the reducer. Whether it
	// lands in Result.PastOutboundEvents or Result.NewOutboundEvents
	// depends only on whether CurrentIndex < StateIndex.
	Publish func(typ string, payload interface{})
}

// Reducer folds one event into the accumulator and returns the next
// state. Reducers must be pure and fast: no I/O, no blocking. It is legal
// to return the same State reference unchanged.
type Reducer[T any] func(in ReducerInput[T]) T

// Result is the outcome of a Processor.Reduce call.
type Result[T any] struct {
	State T
	// PastOutboundEvents were published while replaying history
	// (CurrentIndex < StateIndex). They describe what already happened
	// and must never be persisted again.
	PastOutboundEvents []Event
	// NewOutboundEvents were published while applying newly appended
	// events. These are the ones a commit actually writes.
	NewOutboundEvents []Event
}

// Processor is the pure reducer at the core of the engine: given a
// starting state, the events already durable for an entity, and the
// events being appended, it produces the next state and the outbound
// events that resulted, split by whether they came from replay or from
// new work.
//
// A Processor holds no store handle and does no I/O; it is safe to share
// across goroutines and across facets with the same state shape.
type Processor[T any] struct {
	rules       map[string]Reducer[T]
	initializer func() T
}

// ProcessorOption configures a Processor at construction time.
type ProcessorOption[T any] func(*Processor[T])

// WithInitializer overrides the zero-value default used when Reduce is
// called with a nil starting state.
func WithInitializer[T any](f func() T) ProcessorOption[T] {
	return func(p *Processor[T]) { p.initializer = f }
}

// NewProcessor builds a Processor from a rule table keyed by event type.
// Event types with no entry are skipped during Reduce rather than
// treated as an error, so that inbound rows of a type older rules no
// longer know about remain replayable.
func NewProcessor[T any](rules map[string]Reducer[T], opts ...ProcessorOption[T]) *Processor[T] {
	p := &Processor[T]{
		rules:       rules,
		initializer: func() T { var zero T; return zero },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Reduce folds pastInboundEvents then newInboundEvents, in order, into
// state. A nil state uses the Processor's initializer.
func (p *Processor[T]) Reduce(state *T, pastInboundEvents, newInboundEvents []Event) Result[T] {
	var s T
	if state == nil {
		s = p.initializer()
	} else {
		s = *state
	}

	all := make([]Event, 0, len(pastInboundEvents)+len(newInboundEvents))
	all = append(all, pastInboundEvents...)
	all = append(all, newInboundEvents...)
	stateIndex := len(pastInboundEvents)

	var pastOutbound, newOutbound []Event
	for i, e := range all {
		reducer, ok := p.rules[e.Type]
		if !ok {
			continue
		}
		i := i
		publish := func(typ string, payload interface{}) {
			ev := Event{Type: typ, Payload: payload}
			if i < stateIndex {
				pastOutbound = append(pastOutbound, ev)
			} else {
				newOutbound = append(newOutbound, ev)
			}
		}
		s = reducer(ReducerInput[T]{
			State:             s,
			Current:           e.Payload,
			PastInboundEvents: pastInboundEvents,
			NewInboundEvents:  newInboundEvents,
			All:               all,
			CurrentIndex:      i,
			StateIndex:        stateIndex,
			Publish:           publish,
		})
	}

	return Result[T]{
		State:              s,
		PastOutboundEvents: pastOutbound,
		NewOutboundEvents:  newOutbound,
	}
}
