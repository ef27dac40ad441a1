package facetstream

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// batchState batches BatchInput numbers and emits a BatchOutput once
// BatchSize have accumulated, ported from the teacher's BatchState
// fixture into the rule-table shape.
type batchState struct {
	BatchSize      int
	BatchesEmitted int
	Values         []int
}

type batchInput struct{ Number int }
type batchOutput struct{ Numbers []int }

func batchRules() map[string]Reducer[batchState] {
	return map[string]Reducer[batchState]{
		"BatchInput": func(in ReducerInput[batchState]) batchState {
			e := in.Current.(batchInput)
			s := in.State
			s.Values = append(append([]int(nil), s.Values...), e.Number)
			if len(s.Values) >= s.BatchSize {
				in.Publish("BatchOutput", batchOutput{Numbers: s.Values})
				s.BatchesEmitted++
				s.Values = nil
			}
			return s
		},
	}
}

func TestProcessorReduceBatching(t *testing.T) {
	tests := []struct {
		name             string
		initial          batchState
		events           []Event
		expectedState    batchState
		expectedOutbound []Event
	}{
		{
			name:    "values accumulate without reaching batch size",
			initial: batchState{BatchSize: 100},
			events: []Event{
				NewEvent("BatchInput", batchInput{1}),
				NewEvent("BatchInput", batchInput{2}),
				NewEvent("BatchInput", batchInput{3}),
			},
			expectedState: batchState{BatchSize: 100, Values: []int{1, 2, 3}},
		},
		{
			name:    "values are cleared after a batch is emitted",
			initial: batchState{BatchSize: 2},
			events: []Event{
				NewEvent("BatchInput", batchInput{1}),
				NewEvent("BatchInput", batchInput{2}),
			},
			expectedState: batchState{BatchSize: 2, BatchesEmitted: 1},
			expectedOutbound: []Event{
				NewEvent("BatchOutput", batchOutput{Numbers: []int{1, 2}}),
			},
		},
		{
			name:    "multiple batches can be emitted from one reduce",
			initial: batchState{BatchSize: 2},
			events: []Event{
				NewEvent("BatchInput", batchInput{1}),
				NewEvent("BatchInput", batchInput{2}),
				NewEvent("BatchInput", batchInput{3}),
				NewEvent("BatchInput", batchInput{4}),
				NewEvent("BatchInput", batchInput{5}),
			},
			expectedState: batchState{BatchSize: 2, BatchesEmitted: 2, Values: []int{5}},
			expectedOutbound: []Event{
				NewEvent("BatchOutput", batchOutput{Numbers: []int{1, 2}}),
				NewEvent("BatchOutput", batchOutput{Numbers: []int{3, 4}}),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProcessor(batchRules())
			result := p.Reduce(&tt.initial, nil, tt.events)

			if diff := cmp.Diff(tt.expectedState, result.State); diff != "" {
				t.Errorf("unexpected state:\n%s", diff)
			}
			if diff := cmp.Diff(tt.expectedOutbound, result.NewOutboundEvents); diff != "" {
				t.Errorf("unexpected outbound events:\n%s", diff)
			}
			if len(result.PastOutboundEvents) != 0 {
				t.Errorf("expected no past outbound events when pastInboundEvents is empty, got %v", result.PastOutboundEvents)
			}
		})
	}
}

// TestProcessorReduceUnknownEventTypesAreSkipped documents that an event
// with no matching rule passes through without affecting state or
// panicking - the tolerance that makes old inbound logs replayable after
// a rule is retired.
func TestProcessorReduceUnknownEventTypesAreSkipped(t *testing.T) {
	p := NewProcessor(batchRules())
	initial := batchState{BatchSize: 5}
	result := p.Reduce(&initial, nil, []Event{NewEvent("SomethingElse", "payload")})

	if diff := cmp.Diff(initial, result.State); diff != "" {
		t.Errorf("expected state to be unchanged:\n%s", diff)
	}
}

// TestProcessorReduceNilStateUsesInitializer covers the contract that a
// nil starting state falls back to the Processor's initializer, as
// Facet.Recalculate relies on for a from-scratch rebuild.
func TestProcessorReduceNilStateUsesInitializer(t *testing.T) {
	p := NewProcessor(batchRules(), WithInitializer(func() batchState {
		return batchState{BatchSize: 3}
	}))
	result := p.Reduce(nil, nil, []Event{NewEvent("BatchInput", batchInput{1})})
	if result.State.BatchSize != 3 {
		t.Fatalf("expected initializer's BatchSize to be used, got %d", result.State.BatchSize)
	}
}

// TestProcessorReducePastVsNewSplitBoundary checks the StateIndex boundary
// directly: events before len(pastInboundEvents) publish to
// PastOutboundEvents, everything from that index on publishes to
// NewOutboundEvents.
func TestProcessorReducePastVsNewSplitBoundary(t *testing.T) {
	rules := map[string]Reducer[batchState]{
		"Mark": func(in ReducerInput[batchState]) batchState {
			in.Publish("Marked", in.CurrentIndex)
			return in.State
		},
	}
	p := NewProcessor(rules)
	past := []Event{NewEvent("Mark", nil), NewEvent("Mark", nil)}
	newEvents := []Event{NewEvent("Mark", nil)}
	result := p.Reduce(nil, past, newEvents)

	if len(result.PastOutboundEvents) != 2 {
		t.Fatalf("expected 2 past outbound events, got %d", len(result.PastOutboundEvents))
	}
	if len(result.NewOutboundEvents) != 1 {
		t.Fatalf("expected 1 new outbound event, got %d", len(result.NewOutboundEvents))
	}
}
