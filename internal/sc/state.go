package sc

import (
	"fmt"
	"sort"
)

// AdaptationError is one entry of the refinement history: the index accepted
// in an iteration and the error that selected it.
type AdaptationError struct {
	Iteration  int        `json:"iteration"`
	QoI        string     `json:"qoi"`
	Index      MultiIndex `json:"index"`
	Error      float64    `json:"error"`
	Normalized float64    `json:"normalized"`
}

// State is the persisted aggregate of an analysis: accepted indices, samples,
// surpluses of accepted indices and the adaptation history.
type State struct {
	Params    []string          `json:"params"`
	Accepted  *IndexSet         `json:"accepted"`
	Samples   *Samples          `json:"samples"`
	Surpluses []Surplus         `json:"surpluses"`
	History   []AdaptationError `json:"history"`
}

// NewState returns the state of a fresh analysis over the named parameters.
func NewState(params []string) *State {
	return &State{
		Params:   append([]string(nil), params...),
		Accepted: InitialSet(len(params)),
		Samples:  NewSamples(),
	}
}

func (s *State) Clone() *State {
	c := &State{
		Params:   append([]string(nil), s.Params...),
		Accepted: s.Accepted.Clone(),
		Samples:  s.Samples.Clone(),
	}
	if s.Surpluses != nil {
		c.Surpluses = make([]Surplus, len(s.Surpluses))
		copy(c.Surpluses, s.Surpluses)
	}
	if s.History != nil {
		c.History = make([]AdaptationError, len(s.History))
		copy(c.History, s.History)
	}
	return c
}

// Validate checks the structural invariants that hold between iterations.
func (s *State) Validate() error {
	if s.Accepted == nil || s.Samples == nil {
		return fmt.Errorf("%w: missing accepted set or samples", ErrInvalidState)
	}
	if err := s.Accepted.Validate(); err != nil {
		return err
	}
	if s.Accepted.Dim() != len(s.Params) {
		return fmt.Errorf("%w: %d parameters but %d-dimensional indices", ErrInvalidState, len(s.Params), s.Accepted.Dim())
	}
	for _, sp := range s.Surpluses {
		if !s.Accepted.Contains(sp.Index) {
			return &IndexError{Index: sp.Index, Wrapped: fmt.Errorf("%w: surplus recorded for unaccepted index", ErrInvalidState)}
		}
	}
	for i, h := range s.History {
		if !s.Accepted.Contains(h.Index) {
			return &IndexError{Index: h.Index, Wrapped: fmt.Errorf("%w: history entry %d names unaccepted index", ErrInvalidState, i)}
		}
		if h.Error < 0 || h.Normalized < 0 {
			return fmt.Errorf("%w: history entry %d has negative error", ErrInvalidState, i)
		}
	}
	return nil
}

// RecordSurplus stores sp, replacing any surplus of the same index and QoI.
// Surpluses stay ordered by index, then QoI name.
func (s *State) RecordSurplus(sp Surplus) {
	i := sort.Search(len(s.Surpluses), func(i int) bool {
		return !surplusLess(s.Surpluses[i], sp)
	})
	if i < len(s.Surpluses) && s.Surpluses[i].Index.Equal(sp.Index) && s.Surpluses[i].QoI == sp.QoI {
		s.Surpluses[i] = sp
		return
	}
	s.Surpluses = append(s.Surpluses, Surplus{})
	copy(s.Surpluses[i+1:], s.Surpluses[i:])
	s.Surpluses[i] = sp
}

func (s *State) Surplus(k MultiIndex, qoi string) (Surplus, bool) {
	for _, sp := range s.Surpluses {
		if sp.QoI == qoi && sp.Index.Equal(k) {
			return sp, true
		}
	}
	return Surplus{}, false
}

// Errors returns the history entries of one QoI, or all entries when qoi
// is empty.
func (s *State) Errors(qoi string) []AdaptationError {
	var out []AdaptationError
	for _, h := range s.History {
		if qoi == "" || h.QoI == qoi {
			out = append(out, h)
		}
	}
	return out
}

func (s *State) LatestError(qoi string) (AdaptationError, bool) {
	for i := len(s.History) - 1; i >= 0; i-- {
		if qoi == "" || s.History[i].QoI == qoi {
			return s.History[i], true
		}
	}
	return AdaptationError{}, false
}

// Refinements counts accepted iterations per QoI.
func (s *State) Refinements() map[string]int {
	out := make(map[string]int)
	for _, h := range s.History {
		out[h.QoI]++
	}
	return out
}

func surplusLess(a, b Surplus) bool {
	if c := a.Index.Compare(b.Index); c != 0 {
		return c < 0
	}
	return a.QoI < b.QoI
}
