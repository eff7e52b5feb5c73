package parallel

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

var ErrLimit = errors.New("parallel: limit must be at least 1")

// Map is a bounded parallel mapping function. It calls mapFunc for every
// element of input, with at most limit calls running at any instant, waits
// for all of them and returns the results in the input order.
//
// A call takes its slot before it starts and gives it back when mapFunc
// returns, so everything mapFunc waits for counts against the limit.
//
// Map is context aware: once ctx is done no new calls are started, the
// running ones are waited for and the context error is returned instead of
// partial results.
func Map[E, D any](ctx context.Context, limit int, input []E, mapFunc func(context.Context, E) D) ([]D, error) {
	if limit < 1 {
		return nil, ErrLimit
	}

	out := make([]D, len(input))
	var g errgroup.Group
	g.SetLimit(limit)

	for i, entry := range input {
		if ctx.Err() != nil {
			break
		}
		// blocks while limit calls are active
		g.Go(func() error {
			out[i] = mapFunc(ctx, entry)
			return nil
		})
	}

	_ = g.Wait() // goroutines do not return an error
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
