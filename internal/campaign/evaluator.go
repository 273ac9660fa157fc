package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/san-kum/blobuq/internal/logging"
	"github.com/san-kum/blobuq/internal/params"
	"github.com/san-kum/blobuq/internal/refine"
	"github.com/san-kum/blobuq/internal/sc"
)

// Runner produces QoI values for one set of named parameter values. runDir
// is a fresh directory owned by the run.
type Runner interface {
	Run(ctx context.Context, runDir string, values map[string]float64) (map[string][]float64, error)
}

// CommandRunner encodes the input file, runs the solver and decodes its
// output.
type CommandRunner struct {
	Encoder  *Encoder
	Executor *Executor
	Decoder  Decoder
}

func (r *CommandRunner) Run(ctx context.Context, runDir string, values map[string]float64) (map[string][]float64, error) {
	if r.Encoder != nil {
		if err := r.Encoder.Encode(runDir, values); err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
	}
	if err := r.Executor.Execute(ctx, runDir); err != nil {
		return nil, err
	}
	out, err := r.Decoder.Decode(runDir)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return out, nil
}

// FuncRunner runs an in-process model and ignores the run directory.
type FuncRunner func(ctx context.Context, values map[string]float64) (map[string][]float64, error)

func (f FuncRunner) Run(ctx context.Context, _ string, values map[string]float64) (map[string][]float64, error) {
	return f(ctx, values)
}

// Evaluator evaluates collocation points through a Runner, one run
// directory per point, and caches completed runs in the run database.
type Evaluator struct {
	space   *params.Space
	fixed   map[string]float64
	runner  Runner
	db      *RunDB
	workDir string
	schema  *sc.Schema
	log     *slog.Logger
}

var _ refine.Evaluator = (*Evaluator)(nil)

// NewEvaluator builds an evaluator. fixed supplies values of parameters that
// are not varied; varied parameters override them. db and schema may be
// nil to disable caching and result checks.
func NewEvaluator(space *params.Space, fixed map[string]float64, runner Runner, db *RunDB, workDir string, schema *sc.Schema) *Evaluator {
	return &Evaluator{
		space:   space,
		fixed:   fixed,
		runner:  runner,
		db:      db,
		workDir: workDir,
		schema:  schema,
		log:     logging.New("campaign"),
	}
}

// Evaluate runs each point of the batch in turn. A failed run is reported in
// its Outcome; only cancellation of ctx fails the whole batch.
func (e *Evaluator) Evaluate(ctx context.Context, points []sc.Point) ([]refine.Outcome, error) {
	out := make([]refine.Outcome, len(points))
	for i, p := range points {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		values, err := e.evaluate(ctx, p)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		out[i] = refine.Outcome{Values: values, Err: err}
	}
	return out, nil
}

func (e *Evaluator) evaluate(ctx context.Context, p sc.Point) (map[string][]float64, error) {
	key := p.Key()
	values := make(map[string]float64, len(e.fixed)+len(p.Coords))
	for k, v := range e.fixed {
		values[k] = v
	}
	for k, v := range e.space.Named(p.Coords) {
		values[k] = v
	}

	if e.db == nil {
		return e.run(ctx, fmt.Sprintf("run_%s", sanitize(key)), values)
	}

	if cached, ok, err := e.db.Cached(ctx, key); err != nil {
		return nil, err
	} else if ok {
		e.log.Debug("cache hit", "point", key)
		return cached, nil
	}

	id, err := e.db.Start(ctx, key, values)
	if err != nil {
		return nil, err
	}
	dir := fmt.Sprintf("run_%d", id)
	if err := e.db.SetDir(ctx, key, dir); err != nil {
		return nil, err
	}

	result, err := e.run(ctx, dir, values)
	if err != nil {
		if ferr := e.db.Fail(context.WithoutCancel(ctx), key, err); ferr != nil {
			e.log.Error("failed to record run failure", "point", key, "error", ferr)
		}
		return nil, err
	}
	if err := e.db.Complete(ctx, key, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Evaluator) run(ctx context.Context, dir string, values map[string]float64) (map[string][]float64, error) {
	runDir := filepath.Join(e.workDir, dir)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, err
	}

	e.log.Info("run started", "dir", runDir)
	result, err := e.runner.Run(ctx, runDir, values)
	if err == nil && e.schema != nil {
		err = e.schema.Check(result)
	}
	if err != nil {
		e.log.Warn("run failed", "dir", runDir, "error", err)
		return nil, err
	}
	if e.schema == nil {
		return result, nil
	}
	declared := make(map[string][]float64, len(result))
	for _, name := range e.schema.Names() {
		declared[name] = result[name]
	}
	return declared, nil
}

func sanitize(key string) string {
	out := []byte(key)
	for i, c := range out {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '.', c == '-':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
