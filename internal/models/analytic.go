package models

import (
	"context"
	"math"

	"github.com/san-kum/blobuq/internal/params"
	"github.com/san-kum/blobuq/internal/sc"
)

// Additive is q = x + 2y^2 on the unit square. It has no interactions, so
// its first-order Sobol indices sum to one.
type Additive struct{}

func NewAdditive() *Additive { return &Additive{} }

func (m *Additive) Params() []params.Dimension {
	return []params.Dimension{
		{Name: "x", Kind: params.Uniform, Min: 0, Max: 1},
		{Name: "y", Kind: params.Uniform, Min: 0, Max: 1},
	}
}

func (m *Additive) QoIs() []sc.QoI {
	return []sc.QoI{{Name: "q", Kind: sc.Scalar}}
}

func (m *Additive) Evaluate(_ context.Context, values map[string]float64) (map[string][]float64, error) {
	v, err := lookup(values, "x", "y")
	if err != nil {
		return nil, err
	}
	return map[string][]float64{"q": {v[0] + 2*v[1]*v[1]}}, nil
}

// Ishigami is the standard sensitivity benchmark
// sin x1 + a sin^2 x2 + b x3^4 sin x1 on [-pi, pi]^3.
type Ishigami struct {
	A, B float64
}

func NewIshigami() *Ishigami {
	return &Ishigami{A: 7, B: 0.1}
}

func (m *Ishigami) Params() []params.Dimension {
	dims := make([]params.Dimension, 3)
	for i, n := range []string{"x1", "x2", "x3"} {
		dims[i] = params.Dimension{Name: n, Kind: params.Uniform, Min: -math.Pi, Max: math.Pi}
	}
	return dims
}

func (m *Ishigami) QoIs() []sc.QoI {
	return []sc.QoI{{Name: "y", Kind: sc.Scalar}}
}

func (m *Ishigami) Evaluate(_ context.Context, values map[string]float64) (map[string][]float64, error) {
	x, err := lookup(values, "x1", "x2", "x3")
	if err != nil {
		return nil, err
	}
	a, b := valueOr(values, "a", m.A), valueOr(values, "b", m.B)
	s2 := math.Sin(x[1])
	y := math.Sin(x[0]) + a*s2*s2 + b*math.Pow(x[2], 4)*math.Sin(x[0])
	return map[string][]float64{"y": {y}}, nil
}

// Variance and first-order indices of the Ishigami function.
func (m *Ishigami) Variance() float64 {
	a, b := m.A, m.B
	pi4 := math.Pow(math.Pi, 4)
	return a*a/8 + b*pi4/5 + b*b*pi4*pi4/18 + 0.5
}

func (m *Ishigami) FirstOrder() []float64 {
	a, b := m.A, m.B
	pi4 := math.Pow(math.Pi, 4)
	v := m.Variance()
	return []float64{
		0.5 * (1 + b*pi4/5) * (1 + b*pi4/5) / v,
		a * a / 8 / v,
		0,
	}
}

// Product multiplies one linear factor per dimension,
// q = prod(1 + c_i (x_i - 1/2)), so every subset of dimensions interacts.
// It also reports the running products as a vector and whether q exceeds 1.
type Product struct {
	Coefficients []float64
}

func NewProduct() *Product {
	return &Product{Coefficients: []float64{1, 0.5, 0.25}}
}

func (m *Product) names() []string {
	names := make([]string, len(m.Coefficients))
	for i := range names {
		names[i] = "x" + string(rune('1'+i))
	}
	return names
}

func (m *Product) Params() []params.Dimension {
	dims := make([]params.Dimension, len(m.Coefficients))
	for i, n := range m.names() {
		dims[i] = params.Dimension{Name: n, Kind: params.Uniform, Min: 0, Max: 1}
	}
	return dims
}

func (m *Product) QoIs() []sc.QoI {
	return []sc.QoI{
		{Name: "q", Kind: sc.Scalar},
		{Name: "partial", Kind: sc.Vector, Size: len(m.Coefficients)},
		{Name: "above", Kind: sc.Flag},
	}
}

func (m *Product) Evaluate(_ context.Context, values map[string]float64) (map[string][]float64, error) {
	x, err := lookup(values, m.names()...)
	if err != nil {
		return nil, err
	}
	partial := make([]float64, len(x))
	q := 1.0
	for i, c := range m.Coefficients {
		q *= 1 + c*(x[i]-0.5)
		partial[i] = q
	}
	above := 0.0
	if q > 1 {
		above = 1
	}
	return map[string][]float64{"q": {q}, "partial": partial, "above": {above}}, nil
}

// FirstOrder returns the exact first-order Sobol indices of q.
func (m *Product) FirstOrder() []float64 {
	total := 1.0
	for _, c := range m.Coefficients {
		total *= 1 + c*c/12
	}
	total--
	out := make([]float64, len(m.Coefficients))
	for i, c := range m.Coefficients {
		out[i] = c * c / 12 / total
	}
	return out
}
