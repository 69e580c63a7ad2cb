package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map runs mapFunc over every element of in with at most limit calls in
// flight. The output keeps the input order. Map is context aware: the
// first error cancels the context handed to the remaining calls and is
// returned once every started call finished.
func Map[E, D any](ctx context.Context, limit int, in []E, mapFunc func(context.Context, E) (D, error)) ([]D, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	out := make([]D, len(in))
	for i, e := range in {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := mapFunc(gctx, e)
			if err != nil {
				return err
			}
			out[i] = d
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
