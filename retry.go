package facetstream

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

// Retry runs fn, retrying with exponential backoff while fn returns a
// ConcurrencyError, the caller-side "re-get and re-append" loop spec.md
// §4.4 describes for a losing optimistic-concurrency race. Any other
// error - or success - stops the loop immediately. fn is responsible for
// re-reading state on each attempt (e.g. by calling Facet.Append again,
// which itself re-reads); retrying an AppendTo with a fixed, now-stale
// seq will simply fail the same way every time.
func Retry(ctx context.Context, fn func() error) error {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if IsConcurrency(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
