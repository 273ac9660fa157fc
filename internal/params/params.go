// Package params describes the uncertain inputs of a campaign.
//
// Every [Dimension] maps its physical range onto the unit interval through
// its cumulative distribution function. Quadrature, interpolation and
// sensitivity analysis work on unit coordinates, so quadrature weights are
// probability weights regardless of the distribution kind.
package params

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

type Kind string

const (
	Uniform Kind = "uniform"
	Beta    Kind = "beta"
)

// Dimension is one uncertain parameter. It is immutable once a campaign
// has been defined.
type Dimension struct {
	Name    string  `yaml:"name" json:"name"`
	Kind    Kind    `yaml:"kind" json:"kind"`
	Min     float64 `yaml:"min" json:"min"`
	Max     float64 `yaml:"max" json:"max"`
	Alpha   float64 `yaml:"alpha,omitempty" json:"alpha,omitempty"`
	Beta    float64 `yaml:"beta,omitempty" json:"beta,omitempty"`
	Default float64 `yaml:"default,omitempty" json:"default,omitempty"`
}

func (d Dimension) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("dimension name must not be empty")
	}
	if math.IsNaN(d.Min) || math.IsNaN(d.Max) || math.IsInf(d.Min, 0) || math.IsInf(d.Max, 0) {
		return fmt.Errorf("dimension %s: bounds must be finite", d.Name)
	}
	if d.Max <= d.Min {
		return fmt.Errorf("dimension %s: max %g must exceed min %g", d.Name, d.Max, d.Min)
	}
	switch d.kind() {
	case Uniform:
	case Beta:
		if d.Alpha <= 0 || d.Beta <= 0 {
			return fmt.Errorf("dimension %s: beta shape parameters must be positive", d.Name)
		}
	default:
		return fmt.Errorf("dimension %s: unknown distribution kind %q", d.Name, d.Kind)
	}
	return nil
}

func (d Dimension) kind() Kind {
	if d.Kind == "" {
		return Uniform
	}
	return d.Kind
}

// Contains reports whether x lies within the declared bounds, inclusive.
func (d Dimension) Contains(x float64) bool {
	return x >= d.Min && x <= d.Max
}

// FromUnit maps a probability level u in [0,1] to a physical value.
func (d Dimension) FromUnit(u float64) float64 {
	switch {
	case u <= 0:
		return d.Min
	case u >= 1:
		return d.Max
	}
	switch d.kind() {
	case Beta:
		b := distuv.Beta{Alpha: d.Alpha, Beta: d.Beta}
		return d.Min + (d.Max-d.Min)*b.Quantile(u)
	default:
		return distuv.Uniform{Min: d.Min, Max: d.Max}.Quantile(u)
	}
}

// ToUnit maps a physical value to its probability level. Values outside
// the bounds are clamped; callers check Contains first when that matters.
func (d Dimension) ToUnit(x float64) float64 {
	switch {
	case x <= d.Min:
		return 0
	case x >= d.Max:
		return 1
	}
	switch d.kind() {
	case Beta:
		b := distuv.Beta{Alpha: d.Alpha, Beta: d.Beta}
		return b.CDF((x - d.Min) / (d.Max - d.Min))
	default:
		return distuv.Uniform{Min: d.Min, Max: d.Max}.CDF(x)
	}
}

// Midpoint is the physical value at probability level 0.5.
func (d Dimension) Midpoint() float64 {
	return d.FromUnit(0.5)
}

// Space is an ordered, name-unique collection of dimensions.
type Space struct {
	dims  []Dimension
	index map[string]int
}

func NewSpace(dims ...Dimension) (*Space, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("parameter space needs at least one dimension")
	}
	s := &Space{
		dims:  make([]Dimension, len(dims)),
		index: make(map[string]int, len(dims)),
	}
	for i, d := range dims {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.index[d.Name]; dup {
			return nil, fmt.Errorf("duplicate dimension name: %s", d.Name)
		}
		d.Kind = d.kind()
		s.dims[i] = d
		s.index[d.Name] = i
	}
	return s, nil
}

func (s *Space) Dim() int { return len(s.dims) }

func (s *Space) Dimension(i int) Dimension { return s.dims[i] }

func (s *Space) Dimensions() []Dimension {
	out := make([]Dimension, len(s.dims))
	copy(out, s.dims)
	return out
}

func (s *Space) Names() []string {
	names := make([]string, len(s.dims))
	for i, d := range s.dims {
		names[i] = d.Name
	}
	return names
}

// Lookup returns the position of the named dimension.
func (s *Space) Lookup(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

func (s *Space) FromUnit(u []float64) []float64 {
	x := make([]float64, len(u))
	for i := range u {
		x[i] = s.dims[i].FromUnit(u[i])
	}
	return x
}

func (s *Space) ToUnit(x []float64) []float64 {
	u := make([]float64, len(x))
	for i := range x {
		u[i] = s.dims[i].ToUnit(x[i])
	}
	return u
}

// Vector orders a name->value mapping by dimension, falling back to
// each dimension's default when a name is missing.
func (s *Space) Vector(values map[string]float64) ([]float64, error) {
	for name := range values {
		if _, ok := s.index[name]; !ok {
			return nil, fmt.Errorf("unknown parameter: %s", name)
		}
	}
	x := make([]float64, len(s.dims))
	for i, d := range s.dims {
		v, ok := values[d.Name]
		if !ok {
			v = d.Default
		}
		x[i] = v
	}
	return x, nil
}

// Named is the inverse of Vector.
func (s *Space) Named(x []float64) map[string]float64 {
	out := make(map[string]float64, len(s.dims))
	for i, d := range s.dims {
		if i < len(x) {
			out[d.Name] = x[i]
		}
	}
	return out
}
