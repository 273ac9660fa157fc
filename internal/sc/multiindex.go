package sc

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MultiIndex holds one quadrature level per dimension.
type MultiIndex []int

func Zero(dim int) MultiIndex {
	return make(MultiIndex, dim)
}

// Key is a stable map key for the index.
func (m MultiIndex) Key() string {
	var b strings.Builder
	for i, v := range m {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}

func (m MultiIndex) String() string {
	return "(" + strings.ReplaceAll(m.Key(), ",", ", ") + ")"
}

func (m MultiIndex) Clone() MultiIndex {
	c := make(MultiIndex, len(m))
	copy(c, m)
	return c
}

func (m MultiIndex) Sum() int {
	s := 0
	for _, v := range m {
		s += v
	}
	return s
}

func (m MultiIndex) IsZero() bool {
	for _, v := range m {
		if v != 0 {
			return false
		}
	}
	return true
}

func (m MultiIndex) Equal(o MultiIndex) bool {
	if len(m) != len(o) {
		return false
	}
	for i := range m {
		if m[i] != o[i] {
			return false
		}
	}
	return true
}

// Compare orders by total level first, then lexicographically.
func (m MultiIndex) Compare(o MultiIndex) int {
	if a, b := m.Sum(), o.Sum(); a != b {
		if a < b {
			return -1
		}
		return 1
	}
	for i := range m {
		if i >= len(o) {
			return 1
		}
		if m[i] != o[i] {
			if m[i] < o[i] {
				return -1
			}
			return 1
		}
	}
	if len(m) < len(o) {
		return -1
	}
	return 0
}

// Forward returns the index with dimension i incremented.
func (m MultiIndex) Forward(i int) MultiIndex {
	f := m.Clone()
	f[i]++
	return f
}

// Backward returns the index with dimension i decremented, or false if that
// coordinate is already zero.
func (m MultiIndex) Backward(i int) (MultiIndex, bool) {
	if m[i] == 0 {
		return nil, false
	}
	b := m.Clone()
	b[i]--
	return b, true
}

// IsNeighbor reports whether m and o differ by one unit in exactly one
// dimension.
func (m MultiIndex) IsNeighbor(o MultiIndex) bool {
	if len(m) != len(o) {
		return false
	}
	diff := 0
	for i := range m {
		d := m[i] - o[i]
		switch {
		case d == 0:
		case d == 1 || d == -1:
			diff++
		default:
			return false
		}
	}
	return diff == 1
}

// IndexSet is a set of multi-indices of one dimensionality.
type IndexSet struct {
	dim   int
	items map[string]MultiIndex
}

func NewIndexSet(dim int) *IndexSet {
	return &IndexSet{dim: dim, items: make(map[string]MultiIndex)}
}

// InitialSet returns the set holding only the zero index.
func InitialSet(dim int) *IndexSet {
	s := NewIndexSet(dim)
	s.Insert(Zero(dim))
	return s
}

func (s *IndexSet) Dim() int { return s.dim }

func (s *IndexSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

func (s *IndexSet) Contains(m MultiIndex) bool {
	if s == nil {
		return false
	}
	_, ok := s.items[m.Key()]
	return ok
}

// Insert adds m without any admissibility check.
func (s *IndexSet) Insert(m MultiIndex) {
	s.items[m.Key()] = m.Clone()
}

// Sorted returns the members ordered by [MultiIndex.Compare].
func (s *IndexSet) Sorted() []MultiIndex {
	out := make([]MultiIndex, 0, len(s.items))
	for _, m := range s.items {
		out = append(out, m.Clone())
	}
	sortIndices(out)
	return out
}

func (s *IndexSet) Clone() *IndexSet {
	c := NewIndexSet(s.dim)
	for k, m := range s.items {
		c.items[k] = m.Clone()
	}
	return c
}

func (s *IndexSet) Equal(o *IndexSet) bool {
	if s.Len() != o.Len() || s.dim != o.dim {
		return false
	}
	for k := range s.items {
		if _, ok := o.items[k]; !ok {
			return false
		}
	}
	return true
}

// Validate checks that the set is non-empty, holds the zero index and is
// downward closed.
func (s *IndexSet) Validate() error {
	if s.Len() == 0 {
		return fmt.Errorf("%w: empty index set", ErrInvalidState)
	}
	if !s.Contains(Zero(s.dim)) {
		return fmt.Errorf("%w: zero index missing", ErrInvalidState)
	}
	for _, m := range s.Sorted() {
		if len(m) != s.dim {
			return &IndexError{Index: m, Wrapped: fmt.Errorf("%w: expected %d dimensions", ErrInvalidState, s.dim)}
		}
		for i, v := range m {
			if v < 0 {
				return &IndexError{Index: m, Wrapped: fmt.Errorf("%w: negative level", ErrInvalidState)}
			}
			if b, ok := m.Backward(i); ok && !s.Contains(b) {
				return &IndexError{Index: m, Wrapped: fmt.Errorf("%w: backward neighbor %s missing", ErrInvalidState, b)}
			}
		}
	}
	return nil
}

func (s *IndexSet) MarshalJSON() ([]byte, error) {
	sorted := s.Sorted()
	out := make([][]int, len(sorted))
	for i, m := range sorted {
		out[i] = m
	}
	return json.Marshal(out)
}

func (s *IndexSet) UnmarshalJSON(data []byte) error {
	var raw [][]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.items = make(map[string]MultiIndex, len(raw))
	s.dim = 0
	for i, m := range raw {
		if i == 0 {
			s.dim = len(m)
		} else if len(m) != s.dim {
			return fmt.Errorf("index %v: expected %d dimensions", m, s.dim)
		}
		s.Insert(m)
	}
	return nil
}

// LookAhead derives the admissible frontier of l: forward neighbors of
// accepted indices, not yet accepted, whose backward neighbors are all
// accepted. Candidates above maxLevel in any dimension are skipped.
func LookAhead(l *IndexSet, maxLevel int) ([]MultiIndex, error) {
	if l.Len() == 0 {
		return nil, fmt.Errorf("%w: look-ahead on empty index set", ErrInvalidState)
	}

	seen := make(map[string]bool)
	var out []MultiIndex
	for _, k := range l.Sorted() {
		for i := range k {
			c := k.Forward(i)
			key := c.Key()
			if c[i] > maxLevel || seen[key] || l.Contains(c) {
				continue
			}
			seen[key] = true
			if admissible(l, c) {
				out = append(out, c)
			}
		}
	}
	sortIndices(out)
	return out, nil
}

func admissible(l *IndexSet, c MultiIndex) bool {
	for i := range c {
		if b, ok := c.Backward(i); ok && !l.Contains(b) {
			return false
		}
	}
	return true
}

// Accept returns a copy of l extended by idx, which must be in the current
// admissible frontier.
func Accept(l *IndexSet, idx MultiIndex, maxLevel int) (*IndexSet, error) {
	frontier, err := LookAhead(l, maxLevel)
	if err != nil {
		return nil, err
	}
	found := false
	for _, c := range frontier {
		if c.Equal(idx) {
			found = true
			break
		}
	}
	if !found {
		return nil, &IndexError{Index: idx, Wrapped: ErrNonAdmissibleIndex}
	}

	next := l.Clone()
	next.Insert(idx)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}

func sortIndices(ms []MultiIndex) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].Compare(ms[j]) < 0 })
}
