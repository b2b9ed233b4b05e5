package jobs

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// FanOutResult counts per-item outcomes.
type FanOutResult struct {
	Succeeded int
	Failed    int
	Errors    []error
}

// FanOut calls fn for every item. Batches run one after another and the
// items of a batch run concurrently; a batch finishes before the next one
// starts. A failing item never stops the others. The returned error is
// only set when ctx ends before every batch ran.
func FanOut[T any](ctx context.Context, items []T, batchSize int, fn func(context.Context, T) error) (FanOutResult, error) {
	if batchSize <= 0 {
		batchSize = 50
	}

	var (
		mu  sync.Mutex
		res FanOutResult
	)
	for start := 0; start < len(items); start += batchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := min(start+batchSize, len(items))

		var g errgroup.Group
		for _, item := range items[start:end] {
			g.Go(func() error {
				err := fn(ctx, item)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					res.Failed++
					res.Errors = append(res.Errors, err)
					return nil
				}
				res.Succeeded++
				return nil
			})
		}
		_ = g.Wait()
	}
	return res, nil
}
