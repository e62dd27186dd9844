// Package parallel runs a function over a sequence with bounded concurrency.
package parallel

import (
	"context"
	"iter"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit is the concurrency used for file copies.
var DefaultLimit = runtime.GOMAXPROCS(0)

// Each calls fn for every element of seq, at most limit calls run at the
// same time. The first error, from seq or fn, stops pulling new elements;
// Each returns it once all running calls finished. A canceled ctx stops
// the iteration as well.
//
//	err := parallel.Each(ctx, 4, walk.Roots(ctx, root), copyFile)
func Each[E any](ctx context.Context, limit int, seq iter.Seq2[E, error], fn func(context.Context, E) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(limit, 1))

	var seqErr error
	for e, err := range seq {
		if err != nil {
			seqErr = err
			break
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// an earlier call may have failed while this one waited for a slot
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, e)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if seqErr != nil {
		return seqErr
	}
	return ctx.Err()
}
