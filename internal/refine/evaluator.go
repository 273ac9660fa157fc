package refine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/blobuq/internal/sc"
)

// Outcome is the result of evaluating one collocation point: either QoI
// values or a failure.
type Outcome struct {
	Values map[string][]float64
	Err    error
}

// Evaluator runs the model at a batch of collocation points. It returns one
// Outcome per point in order; a non-nil error fails the whole batch.
// Timeouts are the evaluator's concern and surface as failed outcomes.
type Evaluator interface {
	Evaluate(ctx context.Context, points []sc.Point) ([]Outcome, error)
}

// PointFunc adapts a function of physical coordinates to an Evaluator,
// evaluating a batch sequentially.
type PointFunc func(ctx context.Context, x []float64) (map[string][]float64, error)

func (f PointFunc) Evaluate(ctx context.Context, points []sc.Point) ([]Outcome, error) {
	out := make([]Outcome, len(points))
	for i, p := range points {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i].Values, out[i].Err = f(ctx, p.Coords)
	}
	return out, nil
}

// Dispatch evaluates points in batches of batchSize with at most workers
// batches in flight. It returns only once every batch has returned; a
// cancelled context yields no outcomes at all.
func Dispatch(ctx context.Context, eval Evaluator, points []sc.Point, workers, batchSize int) ([]Outcome, error) {
	if workers < 1 {
		workers = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}

	out := make([]Outcome, len(points))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for start := 0; start < len(points); start += batchSize {
		end := min(start+batchSize, len(points))
		g.Go(func() error {
			res, err := eval.Evaluate(gctx, points[start:end])
			if err == nil && len(res) != end-start {
				err = fmt.Errorf("evaluator returned %d outcomes for %d points", len(res), end-start)
			}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				for i := start; i < end; i++ {
					out[i] = Outcome{Err: err}
				}
				return nil
			}
			copy(out[start:end], res)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
