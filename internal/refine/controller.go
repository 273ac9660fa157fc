package refine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/san-kum/blobuq/internal/logging"
	"github.com/san-kum/blobuq/internal/sc"
)

// ErrExhausted is returned by RefineOnce when the admissible set is empty
// because every dimension reached the maximum level.
var ErrExhausted = errors.New("refine: no admissible index left")

// tieTolerance is the relative difference under which two error indicators
// count as equal.
const tieTolerance = 1e-12

type Method string

const (
	// SurplusMethod ranks candidates by their largest hierarchical surplus.
	SurplusMethod Method = "surplus"
	// VarianceMethod ranks candidates by the change in variance they cause.
	VarianceMethod Method = "variance"
)

type Options struct {
	Method    Method
	Normalize bool
	Workers   int
	BatchSize int
}

func DefaultOptions() Options {
	return Options{
		Method:    SurplusMethod,
		Normalize: true,
		Workers:   4,
		BatchSize: 1,
	}
}

func (o Options) validate() (Options, error) {
	switch o.Method {
	case "":
		o.Method = SurplusMethod
	case SurplusMethod, VarianceMethod:
	default:
		return o, fmt.Errorf("unknown error method: %s", o.Method)
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.BatchSize < 1 {
		o.BatchSize = 1
	}
	return o, nil
}

// Event describes a phase change of the controller.
type Event struct {
	Phase      Phase
	Iteration  int
	QoI        string
	Accepted   sc.MultiIndex
	Error      float64
	Normalized float64
	Admissible int
	Evaluated  int
	Failed     int
	Samples    int
}

// Observer receives controller events. It is called with the controller
// locked and must not call back into it.
type Observer interface {
	OnEvent(e Event)
}

type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Controller owns the analysis state and drives dimension-adaptive
// refinement. Iterations are strictly sequential; the points of one
// iteration are evaluated concurrently.
type Controller struct {
	gen    *sc.Generator
	schema *sc.Schema
	eval   Evaluator
	opts   Options
	log    *slog.Logger

	mu        sync.Mutex
	state     *sc.State
	phase     Phase
	busy      bool
	frontier  []sc.MultiIndex
	failures  map[string]error
	surrogate *sc.Surrogate
	observers []Observer
}

// New returns a controller for a fresh analysis.
func New(gen *sc.Generator, schema *sc.Schema, eval Evaluator, opts Options) (*Controller, error) {
	return Resume(gen, schema, eval, sc.NewState(gen.Space().Names()), opts)
}

// Resume returns a controller continuing from a persisted state. Every point
// of the accepted grid must already be sampled.
func Resume(gen *sc.Generator, schema *sc.Schema, eval Evaluator, state *sc.State, opts Options) (*Controller, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	names := gen.Space().Names()
	if len(state.Params) != len(names) {
		return nil, fmt.Errorf("%w: state has %d parameters, space has %d", sc.ErrInvalidState, len(state.Params), len(names))
	}
	for i, n := range names {
		if state.Params[i] != n {
			return nil, fmt.Errorf("%w: parameter %d is %s in state, %s in space", sc.ErrInvalidState, i, state.Params[i], n)
		}
	}
	if state.Accepted.Len() > 0 {
		if err := gen.CheckSet(state.Accepted); err != nil {
			return nil, fmt.Errorf("state does not fit the quadrature rule: %w", err)
		}
	}

	c := &Controller{
		gen:    gen,
		schema: schema,
		eval:   eval,
		opts:   opts,
		log:    logging.New("refine"),
		state:  state.Clone(),
		phase:  Idle,
	}
	if c.initializedLocked() {
		if _, err := c.surrogateLocked(); err != nil {
			return nil, err
		}
		c.phase = Refining
	}
	return c, nil
}

func (c *Controller) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// State returns a snapshot of the analysis state at the last iteration
// boundary.
func (c *Controller) State() *sc.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Frontier returns the admissible set computed by the last LookAhead.
func (c *Controller) Frontier() []sc.MultiIndex {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sc.MultiIndex, len(c.frontier))
	for i, k := range c.frontier {
		out[i] = k.Clone()
	}
	return out
}

// Initialize evaluates the zero-index point if it has not been sampled yet.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.initializedLocked() {
		c.mu.Unlock()
		return nil
	}
	if c.busy {
		c.mu.Unlock()
		return fmt.Errorf("%w: evaluation in progress", sc.ErrInvalidState)
	}
	zero := c.gen.NewPoints(sc.Zero(c.gen.Dim()))
	c.busy = true
	c.setPhaseLocked(AwaitingEvaluation)
	c.mu.Unlock()

	outcomes, err := Dispatch(ctx, c.eval, zero, c.opts.Workers, c.opts.BatchSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	if err != nil {
		c.setPhaseLocked(Idle)
		return fmt.Errorf("evaluate zero index: %w", err)
	}
	if failures := c.integrateLocked(zero, outcomes); len(failures) > 0 {
		c.setPhaseLocked(Idle)
		return errors.Join(failures...)
	}
	c.setPhaseLocked(Evaluated)

	for _, q := range c.schema.Names() {
		sp, err := sc.ComputeSurplus(c.gen, nil, c.schema, sc.Zero(c.gen.Dim()), q, c.state.Samples)
		if err != nil {
			return err
		}
		c.state.RecordSurplus(sp)
	}
	c.surrogate = nil
	c.setPhaseLocked(Refining)
	c.log.Info("initialized", "point", zero[0].Key())
	return nil
}

// LookAhead computes the admissible set of the accepted indices and moves
// the controller to AwaitingEvaluation.
func (c *Controller) LookAhead() ([]sc.MultiIndex, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return nil, fmt.Errorf("%w: evaluation in progress", sc.ErrInvalidState)
	}
	if !c.initializedLocked() {
		return nil, fmt.Errorf("%w: zero index has not been evaluated", sc.ErrInvalidState)
	}

	frontier, err := sc.LookAhead(c.state.Accepted, c.gen.MaxLevel())
	if err != nil {
		return nil, err
	}
	c.frontier = frontier
	c.failures = make(map[string]error)
	c.setPhaseLocked(AwaitingEvaluation)

	out := make([]sc.MultiIndex, len(frontier))
	for i, k := range frontier {
		out[i] = k.Clone()
	}
	return out, nil
}

// Pending returns the points of the admissible set that still need a sample.
func (c *Controller) Pending() []sc.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *Controller) pendingLocked() []sc.Point {
	var out []sc.Point
	seen := make(map[string]bool)
	for _, k := range c.frontier {
		for _, p := range c.gen.NewPoints(k) {
			key := p.Key()
			if seen[key] || c.state.Samples.Has(p.Coords) {
				continue
			}
			seen[key] = true
			out = append(out, p)
		}
	}
	return out
}

// Evaluate dispatches every pending point and blocks until all of them
// return. If ctx is cancelled, nothing is recorded and the controller stays
// in AwaitingEvaluation. Per-point failures are recorded and reported by
// Accept.
func (c *Controller) Evaluate(ctx context.Context) (int, error) {
	c.mu.Lock()
	if c.busy || c.phase != AwaitingEvaluation {
		phase := c.phase
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: cannot evaluate in phase %s", sc.ErrInvalidState, phase)
	}
	pending := c.pendingLocked()
	c.busy = true
	c.mu.Unlock()

	c.log.Debug("dispatching", "points", len(pending), "workers", c.opts.Workers)
	outcomes, err := Dispatch(ctx, c.eval, pending, c.opts.Workers, c.opts.BatchSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	if err != nil {
		c.log.Warn("evaluation interrupted, discarding batch", "points", len(pending), "error", err)
		return 0, err
	}

	failures := c.integrateLocked(pending, outcomes)
	c.setPhaseLocked(Evaluated)
	c.notifyLocked(Event{
		Phase:      Evaluated,
		Iteration:  len(c.state.History),
		Admissible: len(c.frontier),
		Evaluated:  len(pending),
		Failed:     len(failures),
		Samples:    c.state.Samples.Len(),
	})
	return len(pending), nil
}

// integrateLocked records successful outcomes and returns the failures.
func (c *Controller) integrateLocked(points []sc.Point, outcomes []Outcome) []error {
	var failures []error
	for i, p := range points {
		o := outcomes[i]
		err := o.Err
		if err == nil {
			err = c.schema.Check(o.Values)
		}
		if err == nil {
			err = c.state.Samples.Record(p.Coords, o.Values)
		}
		if err != nil {
			ferr := &sc.EvaluationError{Point: p.Coords, Wrapped: err}
			if c.failures != nil {
				c.failures[p.Key()] = ferr
			}
			failures = append(failures, ferr)
			c.log.Warn("point evaluation failed", "point", p.Key(), "error", err)
		}
	}
	return failures
}

type candidate struct {
	index sc.MultiIndex
	err   float64
}

// Accept ranks the evaluated admissible indices by their error indicator for
// qoi and accepts the largest. Ties within a relative 1e-12 go to the lower
// total level, then lexicographic order. Indices with a failed point are
// skipped; if every index has one, the iteration aborts with the joined
// failures.
func (c *Controller) Accept(qoi string) (sc.AdaptationError, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy || c.phase != Evaluated {
		return sc.AdaptationError{}, fmt.Errorf("%w: cannot accept in phase %s", sc.ErrInvalidState, c.phase)
	}
	q, err := c.schema.Lookup(qoi)
	if err != nil {
		return sc.AdaptationError{}, err
	}
	if len(c.frontier) == 0 {
		c.setPhaseLocked(Converged)
		return sc.AdaptationError{}, ErrExhausted
	}

	base, err := c.surrogateLocked()
	if err != nil {
		return sc.AdaptationError{}, err
	}
	var baseVar []float64
	if c.opts.Method == VarianceMethod {
		m, err := base.Moments(qoi)
		if err != nil {
			return sc.AdaptationError{}, err
		}
		baseVar = m.Variance
	}

	var best *candidate
	var failures []error
	for _, k := range c.frontier {
		if ferr := c.failedLocked(k); ferr != nil {
			failures = append(failures, ferr)
			continue
		}
		e, err := c.indicatorLocked(base, baseVar, k, q)
		if err != nil {
			return sc.AdaptationError{}, err
		}
		// the frontier is sorted, so an equal later candidate never wins
		if best == nil || (e > best.err && !nearlyEqual(e, best.err)) {
			best = &candidate{index: k, err: e}
		}
	}
	if best == nil {
		c.setPhaseLocked(Refining)
		return sc.AdaptationError{}, fmt.Errorf("every admissible index has a failed point: %w", errors.Join(failures...))
	}

	next, err := sc.Accept(c.state.Accepted, best.index, c.gen.MaxLevel())
	if err != nil {
		return sc.AdaptationError{}, err
	}
	for _, name := range c.schema.Names() {
		sp, err := sc.ComputeSurplus(c.gen, base, c.schema, best.index, name, c.state.Samples)
		if err != nil {
			return sc.AdaptationError{}, err
		}
		c.state.RecordSurplus(sp)
	}
	c.state.Accepted = next
	c.surrogate = nil

	rec := sc.AdaptationError{
		Iteration:  len(c.state.History) + 1,
		QoI:        qoi,
		Index:      best.index.Clone(),
		Error:      best.err,
		Normalized: best.err,
	}
	if ref := c.referenceLocked(qoi); c.opts.Normalize && ref > 0 {
		rec.Normalized = best.err / ref
	}
	c.state.History = append(c.state.History, rec)
	c.frontier = nil
	c.setPhaseLocked(Refining)

	c.log.Info("accepted index",
		"iteration", rec.Iteration,
		"qoi", qoi,
		"index", rec.Index.String(),
		"error", rec.Error,
		"normalized", rec.Normalized,
		"skipped", len(failures),
	)
	c.notifyLocked(Event{
		Phase:      Refining,
		Iteration:  rec.Iteration,
		QoI:        qoi,
		Accepted:   rec.Index,
		Error:      rec.Error,
		Normalized: rec.Normalized,
		Failed:     len(failures),
		Samples:    c.state.Samples.Len(),
	})
	return rec, nil
}

func (c *Controller) failedLocked(k sc.MultiIndex) error {
	for _, p := range c.gen.NewPoints(k) {
		if err, ok := c.failures[p.Key()]; ok {
			return err
		}
		if !c.state.Samples.Has(p.Coords) {
			return &sc.EvaluationError{Point: p.Coords, Wrapped: errors.New("not evaluated")}
		}
	}
	return nil
}

func (c *Controller) indicatorLocked(base *sc.Surrogate, baseVar []float64, k sc.MultiIndex, q sc.QoI) (float64, error) {
	if c.opts.Method == VarianceMethod {
		next := c.state.Accepted.Clone()
		next.Insert(k)
		s, err := sc.NewSurrogate(c.gen, c.schema, next, c.state.Samples)
		if err != nil {
			return 0, err
		}
		m, err := s.Moments(q.Name)
		if err != nil {
			return 0, err
		}
		e := 0.0
		for i, v := range m.Variance {
			e = math.Max(e, math.Abs(v-baseVar[i]))
		}
		return e, nil
	}

	sp, err := sc.ComputeSurplus(c.gen, base, c.schema, k, q.Name, c.state.Samples)
	if err != nil {
		return 0, err
	}
	return sp.Magnitude, nil
}

// referenceLocked is the largest absolute component of qoi at the zero
// point, the scale errors are normalized by.
func (c *Controller) referenceLocked(qoi string) float64 {
	zero := c.gen.NewPoints(sc.Zero(c.gen.Dim()))[0]
	v, ok := c.state.Samples.Value(zero.Coords, qoi)
	if !ok {
		return 0
	}
	ref := 0.0
	for _, x := range v {
		ref = math.Max(ref, math.Abs(x))
	}
	return ref
}

// RefineOnce runs one full iteration: look-ahead, evaluation of new points
// and acceptance of the index with the largest error for qoi.
func (c *Controller) RefineOnce(ctx context.Context, qoi string) (sc.AdaptationError, error) {
	if _, err := c.schema.Lookup(qoi); err != nil {
		return sc.AdaptationError{}, err
	}
	if err := c.Initialize(ctx); err != nil {
		return sc.AdaptationError{}, err
	}
	frontier, err := c.LookAhead()
	if err != nil {
		return sc.AdaptationError{}, err
	}
	if len(frontier) == 0 {
		c.mu.Lock()
		c.setPhaseLocked(Converged)
		c.mu.Unlock()
		return sc.AdaptationError{}, ErrExhausted
	}
	if _, err := c.Evaluate(ctx); err != nil {
		return sc.AdaptationError{}, err
	}
	return c.Accept(qoi)
}

// RefineToPrecision refines for qoi until at least minIterations have run
// and either the latest normalized error is within tolerance or
// maxIterations is reached. Running out of admissible indices ends the loop
// early. It returns the number of iterations performed; not converging is
// not an error.
func (c *Controller) RefineToPrecision(ctx context.Context, qoi string, tolerance float64, minIterations, maxIterations int) (int, error) {
	if minIterations < 0 || maxIterations < minIterations {
		return 0, fmt.Errorf("invalid iteration bounds: min %d, max %d", minIterations, maxIterations)
	}
	if _, err := c.schema.Lookup(qoi); err != nil {
		return 0, err
	}

	latest := math.Inf(1)
	c.mu.Lock()
	if last, ok := c.state.LatestError(qoi); ok {
		latest = last.Normalized
	}
	c.mu.Unlock()

	count := 0
	for count < minIterations || (latest > tolerance && count < maxIterations) {
		rec, err := c.RefineOnce(ctx, qoi)
		if errors.Is(err, ErrExhausted) {
			c.log.Info("admissible set exhausted", "qoi", qoi, "iterations", count)
			break
		}
		if err != nil {
			return count, err
		}
		count++
		latest = rec.Normalized
	}

	if latest <= tolerance {
		c.mu.Lock()
		c.setPhaseLocked(Converged)
		c.mu.Unlock()
	} else {
		c.log.Info("tolerance not reached", "qoi", qoi, "iterations", count, "error", latest, "tolerance", tolerance)
	}
	return count, nil
}

// Surrogate returns the surrogate over the accepted set, rebuilt only after
// the accepted set changes.
func (c *Controller) Surrogate() (*sc.Surrogate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surrogateLocked()
}

func (c *Controller) surrogateLocked() (*sc.Surrogate, error) {
	if c.surrogate != nil {
		return c.surrogate, nil
	}
	s, err := sc.NewSurrogate(c.gen, c.schema, c.state.Accepted, c.state.Samples)
	if err != nil {
		return nil, err
	}
	c.surrogate = s
	return s, nil
}

func (c *Controller) Predict(qoi string, x []float64) ([]float64, error) {
	s, err := c.Surrogate()
	if err != nil {
		return nil, err
	}
	return s.Evaluate(qoi, x)
}

func (c *Controller) Sobol(qoi string, kind sc.SobolKind) ([]sc.SobolIndex, error) {
	s, err := c.Surrogate()
	if err != nil {
		return nil, err
	}
	return s.Sobol(qoi, kind)
}

func (c *Controller) Moments(qoi string) (sc.Moments, error) {
	s, err := c.Surrogate()
	if err != nil {
		return sc.Moments{}, err
	}
	return s.Moments(qoi)
}

func (c *Controller) initializedLocked() bool {
	zero := c.gen.NewPoints(sc.Zero(c.gen.Dim()))[0]
	return c.state.Samples.Has(zero.Coords)
}

func (c *Controller) setPhaseLocked(p Phase) {
	if c.phase == p {
		return
	}
	c.log.Debug("phase", "from", c.phase.String(), "to", p.String())
	c.phase = p
}

func (c *Controller) notifyLocked(e Event) {
	for _, o := range c.observers {
		o.OnEvent(e)
	}
}

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) <= tieTolerance*math.Max(math.Abs(a), math.Abs(b))
}
