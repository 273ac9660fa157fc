package sc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/san-kum/blobuq/internal/params"
	"github.com/san-kum/blobuq/internal/quadrature"
)

// keyDigits is the number of significant digits that identify a coordinate.
// Coordinates equal to this precision are treated as the same point.
const keyDigits = 14

// Point is one collocation point. Nodes are positions in the nested node
// sequence of each dimension.
type Point struct {
	Nodes  []int     `json:"nodes"`
	Unit   []float64 `json:"unit"`
	Coords []float64 `json:"coords"`
}

func (p Point) Key() string {
	return PointKey(p.Coords)
}

// PointKey identifies physical coordinates up to keyDigits significant digits.
func PointKey(coords []float64) string {
	parts := make([]string, len(coords))
	for i, x := range coords {
		if x == 0 {
			x = 0 // folds -0
		}
		parts[i] = strconv.FormatFloat(x, 'g', keyDigits, 64)
	}
	return strings.Join(parts, ",")
}

// Term is one tensor grid of the combination technique with its signed
// coefficient.
type Term struct {
	Index       MultiIndex `json:"index"`
	Coefficient int        `json:"coefficient"`
}

// Grid is a sparse collocation grid: the deduplicated union of the tensor
// grids of an index set, plus the non-zero combination terms.
type Grid struct {
	Points []Point
	Terms  []Term
}

// Generator builds collocation points from a parameter space and a nested
// rule shared by all dimensions.
type Generator struct {
	space *params.Space
	rule  *quadrature.Rule
}

func NewGenerator(space *params.Space, rule *quadrature.Rule) *Generator {
	return &Generator{space: space, rule: rule}
}

func (g *Generator) Space() *params.Space   { return g.space }
func (g *Generator) Rule() *quadrature.Rule { return g.rule }
func (g *Generator) Dim() int               { return g.space.Dim() }
func (g *Generator) MaxLevel() int          { return g.rule.MaxLevel() }

// RuleFor returns the physical abscissas and probability weights of one
// dimension at the given level.
func (g *Generator) RuleFor(dim, level int) ([]float64, []float64, error) {
	nodes, err := g.rule.Nodes(level)
	if err != nil {
		return nil, nil, err
	}
	weights, err := g.rule.Weights(level)
	if err != nil {
		return nil, nil, err
	}
	d := g.space.Dimension(dim)
	abscissas := make([]float64, len(nodes))
	for i, u := range nodes {
		abscissas[i] = d.FromUnit(u)
	}
	return abscissas, weights, nil
}

// CheckIndex rejects an index of the wrong dimension or with a level the
// rule cannot resolve.
func (g *Generator) CheckIndex(k MultiIndex) error {
	if len(k) != g.Dim() {
		return &IndexError{Index: k.Clone(), Wrapped: fmt.Errorf("%w: expected %d dimensions", ErrInvalidState, g.Dim())}
	}
	for _, l := range k {
		if err := g.rule.CheckLevel(l); err != nil {
			return &IndexError{Index: k.Clone(), Wrapped: fmt.Errorf("%w: %w", ErrInvalidState, err)}
		}
	}
	return nil
}

// CheckSet validates l and checks every member against the rule. A set
// saved under a larger max level fails here rather than deep inside grid
// construction.
func (g *Generator) CheckSet(l *IndexSet) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if l.Dim() != g.Dim() {
		return fmt.Errorf("%w: index set has %d dimensions, space has %d", ErrInvalidState, l.Dim(), g.Dim())
	}
	for _, k := range l.Sorted() {
		if err := g.CheckIndex(k); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) point(nodes []int) Point {
	p := Point{
		Nodes:  append([]int(nil), nodes...),
		Unit:   make([]float64, len(nodes)),
		Coords: make([]float64, len(nodes)),
	}
	for i, j := range nodes {
		p.Unit[i] = g.rule.Node(j)
		p.Coords[i] = g.space.Dimension(i).FromUnit(p.Unit[i])
	}
	return p
}

// TensorPoints returns the full tensor grid of k, last dimension varying
// fastest.
func (g *Generator) TensorPoints(k MultiIndex) []Point {
	lo := make([]int, len(k))
	hi := make([]int, len(k))
	for i, l := range k {
		hi[i] = g.rule.Points(l)
	}
	return g.box(lo, hi)
}

// NewPoints returns the points of k's tensor grid that no backward
// neighbor of k contains.
func (g *Generator) NewPoints(k MultiIndex) []Point {
	lo := make([]int, len(k))
	hi := make([]int, len(k))
	for i, l := range k {
		lo[i] = g.rule.FirstNew(l)
		hi[i] = g.rule.Points(l)
	}
	return g.box(lo, hi)
}

func (g *Generator) box(lo, hi []int) []Point {
	n := 1
	for i := range lo {
		n *= hi[i] - lo[i]
	}
	out := make([]Point, 0, n)
	if n == 0 {
		return out
	}
	cur := append([]int(nil), lo...)
	for {
		out = append(out, g.point(cur))
		i := len(cur) - 1
		for ; i >= 0; i-- {
			cur[i]++
			if cur[i] < hi[i] {
				break
			}
			cur[i] = lo[i]
		}
		if i < 0 {
			return out
		}
	}
}

// Generate builds the sparse grid of l. The result depends only on the
// members of l, never on the order they were inserted.
func (g *Generator) Generate(l *IndexSet) (*Grid, error) {
	if err := g.CheckSet(l); err != nil {
		return nil, err
	}

	grid := &Grid{Terms: CombinationTerms(l)}
	seen := make(map[string]bool)
	for _, k := range l.Sorted() {
		for _, p := range g.NewPoints(k) {
			key := p.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			grid.Points = append(grid.Points, p)
		}
	}
	return grid, nil
}

// CombinationTerms computes the combination technique coefficients of a
// downward-closed set: c_k is the sum of (-1)^|e| over binary e with k+e
// in l. Zero coefficients are dropped.
func CombinationTerms(l *IndexSet) []Term {
	var terms []Term
	d := l.Dim()
	for _, k := range l.Sorted() {
		c := 0
		for mask := 0; mask < 1<<uint(d); mask++ {
			probe := k.Clone()
			sign := 1
			for i := 0; i < d; i++ {
				if mask&(1<<uint(i)) != 0 {
					probe[i]++
					sign = -sign
				}
			}
			if l.Contains(probe) {
				c += sign
			}
		}
		if c != 0 {
			terms = append(terms, Term{Index: k, Coefficient: c})
		}
	}
	return terms
}
