// Package quadrature provides nested one-dimensional rules on the unit
// interval.
//
// All rules draw their abscissas from one sequence: the midpoint, then the
// two endpoints, then the new nodes of each finer Clenshaw-Curtis level in
// ascending order. Level l takes the first [Rule.Points] nodes of that
// sequence, so every level is a superset of the one below it.
//
// # Growth
//
//   - [Doubling]: 1, 3, 5, 9, 17, ... nodes (classic nested Clenshaw-Curtis)
//   - [Linear]: 1, 2, 3, 4, ... nodes (one new node per level)
//
// Weights integrate against the uniform probability measure, so they sum
// to one at every level.
package quadrature

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/integrate/quad"
)

type Growth string

const (
	Doubling Growth = "doubling"
	Linear   Growth = "linear"
)

// DefaultMaxLevel bounds refinement per dimension when a campaign does not
// set its own limit.
const DefaultMaxLevel = 8

// ErrLevel reports a level the rule was not built for.
var ErrLevel = errors.New("quadrature: level out of range")

// barycentric weights are computed on an interval stretched to this length
// so the node-distance products stay representable for large levels.
const capacity = 4.0

type level struct {
	nodes      []float64
	bary       []float64
	weights    []float64
	projection [][]float64
}

type Rule struct {
	growth   Growth
	maxLevel int
	sequence []float64

	mu     sync.Mutex
	levels map[int]*level
}

func New(growth Growth, maxLevel int) (*Rule, error) {
	switch growth {
	case Doubling, Linear:
	case "":
		growth = Doubling
	default:
		return nil, fmt.Errorf("unknown growth rule: %s", growth)
	}
	if maxLevel < 1 {
		return nil, fmt.Errorf("max level must be at least 1, got %d", maxLevel)
	}
	if growth == Doubling && maxLevel > 10 {
		return nil, fmt.Errorf("max level %d too large for doubling growth (limit 10)", maxLevel)
	}

	r := &Rule{
		growth:   growth,
		maxLevel: maxLevel,
		levels:   make(map[int]*level),
	}
	r.sequence = clenshawCurtisSequence(r.Points(maxLevel))
	return r, nil
}

func (r *Rule) Growth() Growth { return r.growth }
func (r *Rule) MaxLevel() int  { return r.maxLevel }

// Points returns the number of nodes used at the given level.
func (r *Rule) Points(l int) int {
	if l <= 0 {
		return 1
	}
	if r.growth == Linear {
		return l + 1
	}
	return 1<<uint(l) + 1
}

// FirstNew is the position of the first node introduced at level l.
func (r *Rule) FirstNew(l int) int {
	if l <= 0 {
		return 0
	}
	return r.Points(l - 1)
}

// CheckLevel reports whether the rule resolves level l.
func (r *Rule) CheckLevel(l int) error {
	if l < 0 || l > r.maxLevel {
		return fmt.Errorf("%w: %d outside [0, %d]", ErrLevel, l, r.maxLevel)
	}
	return nil
}

func (r *Rule) Nodes(l int) ([]float64, error) {
	lv, err := r.level(l)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(lv.nodes))
	copy(out, lv.nodes)
	return out, nil
}

func (r *Rule) Weights(l int) ([]float64, error) {
	lv, err := r.level(l)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(lv.weights))
	copy(out, lv.weights)
	return out, nil
}

// Node returns the unit abscissa at position j of the node sequence. j must
// lie below Points(MaxLevel()); callers check levels with CheckLevel first.
func (r *Rule) Node(j int) float64 {
	return r.sequence[j]
}

// Basis evaluates every Lagrange basis polynomial of level l at u.
func (r *Rule) Basis(l int, u float64) ([]float64, error) {
	lv, err := r.level(l)
	if err != nil {
		return nil, err
	}
	return lagrange(lv.nodes, lv.bary, u), nil
}

// Projection returns P with P[j][a] = integral of l_j(u) * phi_a(u) over
// [0,1], where l_j is the j-th Lagrange basis polynomial of level l and
// phi_a the orthonormal Legendre polynomial of degree a.
func (r *Rule) Projection(l int) ([][]float64, error) {
	lv, err := r.level(l)
	if err != nil {
		return nil, err
	}
	return lv.projection, nil
}

func (r *Rule) level(l int) (*level, error) {
	if err := r.CheckLevel(l); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if lv, ok := r.levels[l]; ok {
		return lv, nil
	}

	m := r.Points(l)
	lv := &level{nodes: r.sequence[:m:m]}
	lv.bary = barycentric(lv.nodes)

	// m Gauss-Legendre nodes integrate degree 2m-1 exactly, enough for
	// a product of two degree m-1 polynomials.
	gx := make([]float64, m)
	gw := make([]float64, m)
	quad.Legendre{}.FixedLocations(gx, gw, 0, 1)

	lv.weights = make([]float64, m)
	lv.projection = make([][]float64, m)
	for j := range lv.projection {
		lv.projection[j] = make([]float64, m)
	}
	phi := make([]float64, m)
	for g := range gx {
		basis := lagrange(lv.nodes, lv.bary, gx[g])
		legendreAll(gx[g], phi)
		for j, b := range basis {
			lv.weights[j] += gw[g] * b
			for a := range phi {
				lv.projection[j][a] += gw[g] * b * phi[a]
			}
		}
	}

	r.levels[l] = lv
	return lv, nil
}

func clenshawCurtisSequence(n int) []float64 {
	seq := make([]float64, 0, n)
	seq = append(seq, 0.5)
	if n == 1 {
		return seq
	}
	seq = append(seq, 0, 1)
	for k := 2; len(seq) < n; k++ {
		m := 1 << uint(k)
		for j := 1; j < m && len(seq) < n; j += 2 {
			seq = append(seq, ccNode(j, m))
		}
	}
	return seq[:n]
}

// ccNode is the j-th of m+1 Clenshaw-Curtis abscissas on [0,1]. The upper
// half is mirrored from the lower half so symmetric nodes are exact.
func ccNode(j, m int) float64 {
	if 2*j > m {
		return 1 - ccNode(m-j, m)
	}
	return 0.5 * (1 - math.Cos(math.Pi*float64(j)/float64(m)))
}

func barycentric(nodes []float64) []float64 {
	w := make([]float64, len(nodes))
	for j := range nodes {
		p := 1.0
		for k := range nodes {
			if k != j {
				p *= capacity * (nodes[j] - nodes[k])
			}
		}
		w[j] = 1 / p
	}
	return w
}

func lagrange(nodes, bary []float64, u float64) []float64 {
	out := make([]float64, len(nodes))
	for j, x := range nodes {
		if u == x {
			out[j] = 1
			return out
		}
	}
	sum := 0.0
	for j, x := range nodes {
		out[j] = bary[j] / (u - x)
		sum += out[j]
	}
	for j := range out {
		out[j] /= sum
	}
	return out
}
