package sc

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// termData is one combination term with its tensor points and samples.
type termData struct {
	Term
	points  []Point
	samples []Sample
}

// Surrogate interpolates the sampled QoIs over an accepted index set using
// the combination technique. It is a snapshot: later refinement does not
// change an existing Surrogate.
type Surrogate struct {
	gen      *Generator
	schema   *Schema
	accepted *IndexSet
	terms    []termData
}

// NewSurrogate builds a surrogate over accepted. Every tensor point of every
// combination term must have a sample.
func NewSurrogate(gen *Generator, schema *Schema, accepted *IndexSet, samples *Samples) (*Surrogate, error) {
	if err := gen.CheckSet(accepted); err != nil {
		return nil, err
	}

	s := &Surrogate{
		gen:      gen,
		schema:   schema,
		accepted: accepted.Clone(),
	}
	for _, t := range CombinationTerms(accepted) {
		td := termData{Term: t, points: gen.TensorPoints(t.Index)}
		td.samples = make([]Sample, len(td.points))
		for i, p := range td.points {
			sm, ok := samples.Get(p.Coords)
			if !ok {
				return nil, fmt.Errorf("%w: no sample at %s for index %s", ErrInsufficientData, p.Key(), t.Index)
			}
			td.samples[i] = sm
		}
		s.terms = append(s.terms, td)
	}
	return s, nil
}

func (s *Surrogate) Accepted() *IndexSet { return s.accepted.Clone() }
func (s *Surrogate) Schema() *Schema     { return s.schema }

func (s *Surrogate) Terms() []Term {
	out := make([]Term, len(s.terms))
	for i, t := range s.terms {
		out[i] = Term{Index: t.Index.Clone(), Coefficient: t.Coefficient}
	}
	return out
}

// Evaluate interpolates qoi at a physical point. Every coordinate must lie
// within its dimension's bounds.
func (s *Surrogate) Evaluate(qoi string, x []float64) ([]float64, error) {
	q, err := s.schema.Lookup(qoi)
	if err != nil {
		return nil, err
	}
	space := s.gen.Space()
	if len(x) != space.Dim() {
		return nil, fmt.Errorf("%w: point has %d coordinates, space has %d", ErrDomain, len(x), space.Dim())
	}
	for i, v := range x {
		d := space.Dimension(i)
		if !d.Contains(v) {
			return nil, &DomainError{Dimension: d.Name, Value: v, Min: d.Min, Max: d.Max}
		}
	}
	return s.evaluateUnit(q, space.ToUnit(x))
}

func (s *Surrogate) evaluateUnit(q QoI, u []float64) ([]float64, error) {
	rule := s.gen.Rule()
	out := make([]float64, q.Width())

	// basis[i][level] holds every Lagrange basis value of that level at u[i]
	basis := make([]map[int][]float64, len(u))
	for i := range basis {
		basis[i] = make(map[int][]float64)
	}

	for _, t := range s.terms {
		for i, l := range t.Index {
			if _, ok := basis[i][l]; !ok {
				b, err := rule.Basis(l, u[i])
				if err != nil {
					return nil, err
				}
				basis[i][l] = b
			}
		}
		for pi, p := range t.points {
			w := float64(t.Coefficient)
			for i, j := range p.Nodes {
				w *= basis[i][t.Index[i]][j]
				if w == 0 {
					break
				}
			}
			if w == 0 {
				continue
			}
			floats.AddScaled(out, w, t.samples[pi].Values[q.Name])
		}
	}
	return out, nil
}
