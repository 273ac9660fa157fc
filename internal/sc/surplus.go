package sc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Surplus is the hierarchical surplus of one index for one QoI: at each
// point new to the index, the sampled value minus what the grid without the
// index predicts there.
type Surplus struct {
	Index     MultiIndex  `json:"index"`
	QoI       string      `json:"qoi"`
	Points    [][]float64 `json:"points"`
	Values    [][]float64 `json:"values"`
	Magnitude float64     `json:"magnitude"`
}

// ComputeSurplus returns the surplus of k for qoi. base is the surrogate
// over the accepted set k would join; it is ignored, and may be nil, for the
// zero index, whose surplus is the sampled value itself. Each vector
// component is handled independently; Magnitude is the largest absolute
// component over all new points.
func ComputeSurplus(gen *Generator, base *Surrogate, schema *Schema, k MultiIndex, qoi string, samples *Samples) (Surplus, error) {
	q, err := schema.Lookup(qoi)
	if err != nil {
		return Surplus{}, err
	}
	if err := gen.CheckIndex(k); err != nil {
		return Surplus{}, err
	}
	if !k.IsZero() {
		if base == nil {
			return Surplus{}, fmt.Errorf("%w: surplus of %s needs a base surrogate", ErrInvalidState, k)
		}
		if base.accepted.Contains(k) || !admissible(base.accepted, k) {
			return Surplus{}, &IndexError{Index: k, Wrapped: ErrNonAdmissibleIndex}
		}
	}

	sp := Surplus{Index: k.Clone(), QoI: qoi}
	for _, p := range gen.NewPoints(k) {
		v, ok := samples.Value(p.Coords, qoi)
		if !ok {
			return Surplus{}, fmt.Errorf("%w: no sample at %s for index %s", ErrInsufficientData, p.Key(), k)
		}
		diff := append([]float64(nil), v...)
		if !k.IsZero() {
			pred, err := base.evaluateUnit(q, p.Unit)
			if err != nil {
				return Surplus{}, err
			}
			floats.Sub(diff, pred)
		}
		sp.Points = append(sp.Points, append([]float64(nil), p.Coords...))
		sp.Values = append(sp.Values, diff)
		sp.Magnitude = math.Max(sp.Magnitude, maxAbs(diff))
	}
	return sp, nil
}

func maxAbs(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return math.Max(math.Abs(floats.Max(v)), math.Abs(floats.Min(v)))
}
