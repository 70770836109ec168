// Package parallel provides a bounded parallel mapping helper.
package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map applies fn to every element of in with at most limit goroutines and
// returns the results in input order. Per-element failures are reported by
// the R values themselves; fn returning an error cancels outstanding work.
func Map[E, R any](ctx context.Context, limit int, in []E, fn func(context.Context, E) (R, error)) ([]R, error) {
	if limit < 1 {
		limit = 1
	}
	out := make([]R, len(in))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, e := range in {
		g.Go(func() error {
			r, err := fn(ctx, e)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
