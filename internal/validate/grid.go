// Package validate checks a surrogate against fresh model evaluations on a
// tensor grid of test points.
package validate

import (
	"fmt"

	"github.com/san-kum/blobuq/internal/params"
	"github.com/san-kum/blobuq/internal/sc"
)

// Grid enumerates every combination of per-dimension unit coordinates.
type Grid struct {
	space *params.Space
	axes  [][]float64
}

// NewGrid builds a grid from explicit unit coordinates, one axis per
// dimension of space.
func NewGrid(space *params.Space, axes [][]float64) (*Grid, error) {
	if len(axes) != space.Dim() {
		return nil, fmt.Errorf("grid has %d axes, space has %d dimensions", len(axes), space.Dim())
	}
	for i, axis := range axes {
		if len(axis) == 0 {
			return nil, fmt.Errorf("axis %s is empty", space.Dimension(i).Name)
		}
		for _, u := range axis {
			if u < 0 || u > 1 {
				return nil, fmt.Errorf("axis %s: unit coordinate %g outside [0, 1]", space.Dimension(i).Name, u)
			}
		}
	}
	return &Grid{space: space, axes: axes}, nil
}

// Uniform places n points per dimension at the cell centres (i+0.5)/n of
// the unit interval, so no test point coincides with an endpoint node.
func Uniform(space *params.Space, n int) (*Grid, error) {
	if n < 1 {
		return nil, fmt.Errorf("need at least one point per dimension, got %d", n)
	}
	axis := make([]float64, n)
	for i := range axis {
		axis[i] = (float64(i) + 0.5) / float64(n)
	}
	axes := make([][]float64, space.Dim())
	for i := range axes {
		axes[i] = axis
	}
	return NewGrid(space, axes)
}

func (g *Grid) Size() int {
	n := 1
	for _, axis := range g.axes {
		n *= len(axis)
	}
	return n
}

// Points lists the grid with the first dimension varying slowest.
func (g *Grid) Points() []sc.Point {
	points := make([]sc.Point, 0, g.Size())
	g.collect(0, make([]float64, len(g.axes)), &points)
	return points
}

func (g *Grid) collect(depth int, current []float64, points *[]sc.Point) {
	if depth == len(g.axes) {
		unit := append([]float64(nil), current...)
		*points = append(*points, sc.Point{Unit: unit, Coords: g.space.FromUnit(unit)})
		return
	}
	for _, u := range g.axes[depth] {
		current[depth] = u
		g.collect(depth+1, current, points)
	}
}
