package validate

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/blobuq/internal/logging"
	"github.com/san-kum/blobuq/internal/refine"
	"github.com/san-kum/blobuq/internal/sc"
)

// Predictor evaluates a surrogate at physical coordinates.
type Predictor func(qoi string, x []float64) ([]float64, error)

// Result summarises the surrogate error of one QoI over the test points
// that evaluated successfully. Errors of vector QoIs pool all components.
type Result struct {
	QoI    string  `json:"qoi"`
	Points int     `json:"points"`
	MaxAbs float64 `json:"max_abs"`
	RMS    float64 `json:"rms"`
	// Relative is RMS over the root mean square of the model values, or
	// zero when the model values are all zero.
	Relative float64 `json:"relative"`
}

// Report is the outcome of a validation run.
type Report struct {
	Points  int      `json:"points"`
	Failed  int      `json:"failed"`
	Results []Result `json:"results"`
}

// Check evaluates the model at every grid point, in batches of batchSize
// with at most workers batches in flight, and compares it with the
// surrogate. Failed model runs are counted and skipped; Check fails only
// when none succeed or ctx is cancelled.
func Check(ctx context.Context, grid *Grid, eval refine.Evaluator, predict Predictor, qois []sc.QoI, workers, batchSize int) (*Report, error) {
	log := logging.New("validate")
	points := grid.Points()
	log.Info("validating surrogate", "points", len(points), "qois", len(qois), "workers", workers)

	outcomes, err := refine.Dispatch(ctx, eval, points, workers, batchSize)
	if err != nil {
		return nil, err
	}

	report := &Report{Points: len(points)}
	var failures []error
	diffs := make(map[string][]float64, len(qois))
	refs := make(map[string][]float64, len(qois))
	for i, o := range outcomes {
		if o.Err != nil {
			report.Failed++
			failures = append(failures, fmt.Errorf("point %s: %w", points[i].Key(), o.Err))
			continue
		}
		for _, q := range qois {
			truth, ok := o.Values[q.Name]
			if !ok {
				return nil, fmt.Errorf("point %s: missing quantity %s", points[i].Key(), q.Name)
			}
			pred, err := predict(q.Name, points[i].Coords)
			if err != nil {
				return nil, err
			}
			if len(pred) != len(truth) {
				return nil, fmt.Errorf("point %s: %s has %d model values and %d surrogate values",
					points[i].Key(), q.Name, len(truth), len(pred))
			}
			for j := range truth {
				diffs[q.Name] = append(diffs[q.Name], pred[j]-truth[j])
				refs[q.Name] = append(refs[q.Name], truth[j])
			}
		}
	}
	if report.Failed == len(points) {
		return nil, fmt.Errorf("all %d validation runs failed: %w", len(points), errors.Join(failures...))
	}
	if report.Failed > 0 {
		log.Warn("validation runs failed", "failed", report.Failed, "points", len(points))
	}

	for _, q := range qois {
		d, ref := diffs[q.Name], refs[q.Name]
		r := Result{QoI: q.Name, Points: len(points) - report.Failed}
		if len(d) > 0 {
			n := math.Sqrt(float64(len(d)))
			r.MaxAbs = floats.Norm(d, math.Inf(1))
			r.RMS = floats.Norm(d, 2) / n
			if scale := floats.Norm(ref, 2) / n; scale > 0 {
				r.Relative = r.RMS / scale
			}
		}
		report.Results = append(report.Results, r)
	}
	return report, nil
}
