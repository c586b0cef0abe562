package download

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// FetchAll runs one goroutine per chunk. Each chunk that finishes signals completion on the plan
// exactly once. The first failure cancels the remaining workers; whatever they already wrote stays
// on disk for the next run.
func FetchAll(ctx context.Context, plan *Plan, w *Worker) error {
	errGroup, ctx := errgroup.WithContext(ctx)
	for _, chunk := range plan.Chunks {
		errGroup.Go(func() error {
			if err := w.Run(ctx, chunk); err != nil {
				return err
			}
			plan.markCompleted()
			return nil
		})
	}
	return errGroup.Wait()
}
