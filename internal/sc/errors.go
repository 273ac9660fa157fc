package sc

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy of the analysis engine.
var (
	// ErrInvalidState indicates a malformed or empty index set.
	ErrInvalidState = errors.New("sc: invalid analysis state")

	// ErrNonAdmissibleIndex indicates an acceptance outside the admissible frontier.
	ErrNonAdmissibleIndex = errors.New("sc: index is not admissible")

	// ErrDomain indicates a surrogate query outside the declared bounds.
	ErrDomain = errors.New("sc: point outside parameter domain")

	// ErrInsufficientData indicates a query that needs more refinement first.
	ErrInsufficientData = errors.New("sc: insufficient data")

	// ErrCorruptState indicates persisted state that fails invariant checks.
	ErrCorruptState = errors.New("sc: corrupt analysis state")

	// ErrEvaluationFailure indicates the evaluator produced no QoI for a point.
	ErrEvaluationFailure = errors.New("sc: evaluation failed")

	// ErrUnknownQoI indicates a quantity of interest that was never declared.
	ErrUnknownQoI = errors.New("sc: unknown quantity of interest")
)

// IndexError wraps an index-set error with the offending multi-index.
type IndexError struct {
	Index   MultiIndex
	Wrapped error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%v: %s", e.Wrapped, e.Index)
}

func (e *IndexError) Unwrap() error {
	return e.Wrapped
}

// DomainError reports the first coordinate found outside its bounds.
type DomainError struct {
	Dimension string
	Value     float64
	Min       float64
	Max       float64
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%v: %s=%g not in [%g, %g]", ErrDomain, e.Dimension, e.Value, e.Min, e.Max)
}

func (e *DomainError) Unwrap() error {
	return ErrDomain
}

// EvaluationError records a failed evaluation of one collocation point.
type EvaluationError struct {
	Point   []float64
	Wrapped error
}

func (e *EvaluationError) Error() string {
	coords := make([]string, len(e.Point))
	for i, x := range e.Point {
		coords[i] = fmt.Sprintf("%g", x)
	}
	return fmt.Sprintf("%v at (%s): %v", ErrEvaluationFailure, strings.Join(coords, ", "), e.Wrapped)
}

func (e *EvaluationError) Unwrap() []error {
	return []error{ErrEvaluationFailure, e.Wrapped}
}
