package sc

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
)

type SobolKind string

const (
	FirstOrder SobolKind = "first_order"
	TotalOrder SobolKind = "total"
	AllOrders  SobolKind = "all"
)

// SobolIndex is the normalized variance share of a dimension subset, one
// value per QoI component.
type SobolIndex struct {
	Dimensions []string  `json:"dimensions"`
	Values     []float64 `json:"values"`
}

// Moments are the mean and variance of each QoI component.
type Moments struct {
	Mean     []float64 `json:"mean"`
	Variance []float64 `json:"variance"`
	Std      []float64 `json:"std"`
}

// expansion is the surrogate rewritten in the orthonormal Legendre basis of
// unit space: coefficient vectors keyed by degree multi-index.
type expansion struct {
	degrees map[string]MultiIndex
	coeffs  map[string][]float64
	width   int
}

func (s *Surrogate) expand(q QoI) (*expansion, error) {
	e := &expansion{
		degrees: make(map[string]MultiIndex),
		coeffs:  make(map[string][]float64),
		width:   q.Width(),
	}
	rule := s.gen.Rule()

	for _, t := range s.terms {
		shape := make([]int, len(t.Index))
		for i, l := range t.Index {
			shape[i] = rule.Points(l)
		}

		data := make([]float64, 0, len(t.points)*e.width)
		for _, sm := range t.samples {
			data = append(data, sm.Values[q.Name]...)
		}
		for axis, l := range t.Index {
			proj, err := rule.Projection(l)
			if err != nil {
				return nil, err
			}
			data = modeProduct(data, shape, e.width, axis, proj)
		}

		// data is now indexed by degree, last dimension fastest
		degree := make(MultiIndex, len(shape))
		for off := 0; off < len(data); off += e.width {
			key := degree.Key()
			c, ok := e.coeffs[key]
			if !ok {
				c = make([]float64, e.width)
				e.coeffs[key] = c
				e.degrees[key] = degree.Clone()
			}
			floats.AddScaled(c, float64(t.Coefficient), data[off:off+e.width])

			for i := len(degree) - 1; i >= 0; i-- {
				degree[i]++
				if degree[i] < shape[i] {
					break
				}
				degree[i] = 0
			}
		}
	}
	return e, nil
}

// modeProduct contracts one axis of a row-major tensor with mat, where
// mat[j][a] maps input position j to output position a.
func modeProduct(data []float64, shape []int, width, axis int, mat [][]float64) []float64 {
	inner := width
	for _, n := range shape[axis+1:] {
		inner *= n
	}
	outer := 1
	for _, n := range shape[:axis] {
		outer *= n
	}
	n := shape[axis]

	out := make([]float64, len(data))
	for o := 0; o < outer; o++ {
		for j := 0; j < n; j++ {
			src := data[(o*n+j)*inner : (o*n+j+1)*inner]
			for a := 0; a < n; a++ {
				w := mat[j][a]
				if w == 0 {
					continue
				}
				floats.AddScaled(out[(o*n+a)*inner:(o*n+a+1)*inner], w, src)
			}
		}
	}
	return out
}

func (e *expansion) variance() []float64 {
	v := make([]float64, e.width)
	for key, c := range e.coeffs {
		if e.degrees[key].IsZero() {
			continue
		}
		for i, x := range c {
			v[i] += x * x
		}
	}
	return v
}

// Moments returns mean, variance and standard deviation of qoi under the
// parameter distributions, read off the expansion coefficients.
func (s *Surrogate) Moments(qoi string) (Moments, error) {
	q, err := s.schema.Lookup(qoi)
	if err != nil {
		return Moments{}, err
	}
	e, err := s.expand(q)
	if err != nil {
		return Moments{}, err
	}
	m := Moments{
		Mean:     make([]float64, e.width),
		Variance: e.variance(),
		Std:      make([]float64, e.width),
	}
	if c, ok := e.coeffs[Zero(s.gen.Dim()).Key()]; ok {
		copy(m.Mean, c)
	}
	for i, v := range m.Variance {
		m.Std[i] = math.Sqrt(v)
	}
	return m, nil
}

// Sobol computes variance-based sensitivity indices from the expansion.
// FirstOrder and TotalOrder return one entry per dimension; AllOrders
// returns one entry per dimension subset the expansion carries, ordered by
// subset size.
// Components with zero variance get zero indices.
func (s *Surrogate) Sobol(qoi string, kind SobolKind) ([]SobolIndex, error) {
	q, err := s.schema.Lookup(qoi)
	if err != nil {
		return nil, err
	}
	switch kind {
	case FirstOrder, TotalOrder, AllOrders:
	default:
		return nil, fmt.Errorf("unknown sobol kind: %s", kind)
	}
	if s.accepted.Len() < 2 {
		return nil, fmt.Errorf("%w: sobol indices need at least one refinement", ErrInsufficientData)
	}

	e, err := s.expand(q)
	if err != nil {
		return nil, err
	}
	total := e.variance()
	names := s.gen.Space().Names()

	share := func(acc []float64, c []float64) {
		for i, x := range c {
			if total[i] > 0 {
				acc[i] += x * x / total[i]
			}
		}
	}

	switch kind {
	case AllOrders:
		bySubset := make(map[string]*SobolIndex)
		for key, c := range e.coeffs {
			var dims []string
			for i, a := range e.degrees[key] {
				if a > 0 {
					dims = append(dims, names[i])
				}
			}
			if len(dims) == 0 {
				continue
			}
			sk := strings.Join(dims, ",")
			idx, ok := bySubset[sk]
			if !ok {
				idx = &SobolIndex{Dimensions: dims, Values: make([]float64, e.width)}
				bySubset[sk] = idx
			}
			share(idx.Values, c)
		}
		out := make([]SobolIndex, 0, len(bySubset))
		for _, idx := range bySubset {
			out = append(out, *idx)
		}
		sort.Slice(out, func(i, j int) bool {
			a, b := out[i].Dimensions, out[j].Dimensions
			if len(a) != len(b) {
				return len(a) < len(b)
			}
			return subsetOrder(a, names) < subsetOrder(b, names)
		})
		return out, nil

	default:
		out := make([]SobolIndex, len(names))
		for i, n := range names {
			out[i] = SobolIndex{Dimensions: []string{n}, Values: make([]float64, e.width)}
		}
		for key, c := range e.coeffs {
			deg := e.degrees[key]
			active := 0
			for _, a := range deg {
				if a > 0 {
					active++
				}
			}
			if active == 0 || (kind == FirstOrder && active > 1) {
				continue
			}
			for i, a := range deg {
				if a > 0 {
					share(out[i].Values, c)
				}
			}
		}
		return out, nil
	}
}

// subsetOrder ranks a subset by the positions of its dimensions.
func subsetOrder(dims, names []string) string {
	pos := make(map[string]int, len(names))
	for i, n := range names {
		pos[n] = i
	}
	var b strings.Builder
	for _, d := range dims {
		fmt.Fprintf(&b, "%04d", pos[d])
	}
	return b.String()
}
