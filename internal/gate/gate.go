// Package gate bounds how many embedding batches run concurrently,
// wrapping golang.org/x/sync's semaphore and errgroup for batch-level
// fan-out with unordered completion.
package gate

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Gate runs a fixed-width fan-out of batch operations, collecting
// results as they complete. Failure of one batch never cancels its
// siblings; only ctx cancellation does, and the gate still drains
// in-flight work before returning.
type Gate struct {
	sem *semaphore.Weighted
	w   int64
}

// New constructs a Gate allowing up to w batches in flight at once.
func New(w int) *Gate {
	if w < 1 {
		w = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(w)), w: int64(w)}
}

// Run dispatches fn(batches[i]) for every batch, bounded to w
// concurrent executions. Results are returned in arbitrary
// (completion) order. A per-batch error is recorded on its Result and
// does not stop other batches; only ctx cancellation stops new
// dispatch, after which Run waits for in-flight batches to finish.
func Run[T any, R any](ctx context.Context, g *Gate, batches []T, fn func(context.Context, T) (R, error)) []Result[R] {
	results := make([]Result[R], 0, len(batches))
	resultsCh := make(chan Result[R], len(batches))

	eg, egCtx := errgroup.WithContext(ctx)
	for _, batch := range batches {
		batch := batch
		if err := g.sem.Acquire(ctx, 1); err != nil {
			resultsCh <- Result[R]{Err: err}
			continue
		}
		eg.Go(func() error {
			defer g.sem.Release(1)
			r, err := fn(egCtx, batch)
			resultsCh <- Result[R]{Value: r, Err: err}
			return nil
		})
	}

	go func() {
		_ = eg.Wait()
		close(resultsCh)
	}()

	for r := range resultsCh {
		results = append(results, r)
	}
	return results
}

// Result pairs one batch's outcome with any error encountered running
// it; Err does not abort sibling batches.
type Result[R any] struct {
	Value R
	Err   error
}
