package export

import (
	"context"
	"sync"

	"fipe-crawler/pkg/fipe"
)

// leafResult is the outcome of one price fetch. done distinguishes a
// fetched leaf (success or failure) from one never dispatched because
// the run was cancelled.
type leafResult struct {
	done     bool
	snapshot *fipe.PriceSnapshot
	err      error
}

// fetchLeaves dispatches the model's price lookups across a bounded
// worker pool. Results come back indexed by year-option position, so
// the caller can drain them in hierarchical order regardless of
// completion timing. Cancellation stops dispatching new fetches; leaves
// already in flight run to completion.
func (e *Exporter) fetchLeaves(ctx context.Context, ref string, brand fipe.Brand, model fipe.Model, years []fipe.YearOption) []leafResult {
	results := make([]leafResult, len(years))

	workers := e.opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(years) {
		workers = len(years)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				snap, err := e.client.GetPrice(ctx, e.opts.Type, brand.Code, model.Code, years[i].Code, ref)
				results[i] = leafResult{done: true, snapshot: snap, err: err}
			}
		}()
	}

	for i := range years {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return results
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	return results
}
