package facetstream

import (
	"context"
	"errors"
	"testing"
)

func TestRetryStopsOnFirstNonConcurrencyError(t *testing.T) {
	wantErr := errors.New("boom")
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped %v, got %v", wantErr, err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
}

func TestRetryRetriesConcurrencyErrorsUntilSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return newError("test", KindConcurrency, nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryStopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, func() error {
		return newError("test", KindConcurrency, nil)
	})
	if err == nil {
		t.Fatal("expected an error when context is already canceled")
	}
}
