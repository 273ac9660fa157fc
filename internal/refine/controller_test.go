package refine

import (
	"context"
	"errors"
	"math"
	"sync/atomic"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/san-kum/blobuq/internal/params"
	"github.com/san-kum/blobuq/internal/quadrature"
	"github.com/san-kum/blobuq/internal/sc"
)

func unitGenerator(dims int, growth quadrature.Growth, maxLevel int) *sc.Generator {
	names := []string{"x", "y", "z"}
	var ds []params.Dimension
	for i := 0; i < dims; i++ {
		ds = append(ds, params.Dimension{Name: names[i], Kind: params.Uniform, Min: 0, Max: 1})
	}
	space, err := params.NewSpace(ds...)
	gomega.Expect(err).To(gomega.Succeed())
	rule, err := quadrature.New(growth, maxLevel)
	gomega.Expect(err).To(gomega.Succeed())
	return sc.NewGenerator(space, rule)
}

func scalarSchema() *sc.Schema {
	schema, err := sc.NewSchema(sc.QoI{Name: "f"})
	gomega.Expect(err).To(gomega.Succeed())
	return schema
}

func model(fn func(x []float64) float64) PointFunc {
	return func(_ context.Context, x []float64) (map[string][]float64, error) {
		return map[string][]float64{"f": {fn(x)}}, nil
	}
}

func newController(gen *sc.Generator, eval Evaluator, opts Options) *Controller {
	c, err := New(gen, scalarSchema(), eval, opts)
	gomega.Expect(err).To(gomega.Succeed())
	return c
}

var _ = ginkgo.Describe("Controller", func() {
	var ctx context.Context

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
	})

	ginkgo.Describe("RefineOnce", func() {
		ginkgo.It("grows a 2D linear grid from the midpoint by one index", func() {
			gen := unitGenerator(2, quadrature.Linear, 6)
			c := newController(gen, model(func(x []float64) float64 { return x[0] + 2*x[1]*x[1] }), DefaultOptions())
			gomega.Expect(c.Phase()).To(gomega.Equal(Idle))

			rec, err := c.RefineOnce(ctx, "f")
			gomega.Expect(err).To(gomega.Succeed())

			st := c.State()
			// one call accepts one index: the zero index plus the best neighbour
			gomega.Expect(st.Accepted.Len()).To(gomega.Equal(2))
			gomega.Expect(st.Samples.Len()).To(gomega.Equal(3))
			gomega.Expect(st.History).To(gomega.HaveLen(1))
			gomega.Expect(st.History[0]).To(gomega.Equal(rec))
			gomega.Expect(c.Phase()).To(gomega.Equal(Refining))

			zero, ok := st.Samples.Get([]float64{0.5, 0.5})
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(zero.Values["f"]).To(gomega.Equal([]float64{1}))
		})

		ginkgo.It("accepts the index with the largest surplus", func() {
			gen := unitGenerator(2, quadrature.Linear, 6)
			c := newController(gen, model(func(x []float64) float64 { return 10*x[0] + x[1] }), DefaultOptions())

			rec, err := c.RefineOnce(ctx, "f")
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(rec.Index).To(gomega.Equal(sc.MultiIndex{1, 0}))
			gomega.Expect(rec.Error).To(gomega.BeNumerically("~", 5, 1e-12))
		})

		ginkgo.It("breaks ties by total level then lexicographic order", func() {
			gen := unitGenerator(2, quadrature.Linear, 6)
			c := newController(gen, model(func(x []float64) float64 { return x[0] + x[1] }), DefaultOptions())

			rec, err := c.RefineOnce(ctx, "f")
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(rec.Index).To(gomega.Equal(sc.MultiIndex{0, 1}))
		})

		ginkgo.It("normalizes by the zero-point value", func() {
			gen := unitGenerator(1, quadrature.Linear, 4)
			c := newController(gen, model(func(x []float64) float64 { return 10 + x[0] }), DefaultOptions())

			rec, err := c.RefineOnce(ctx, "f")
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(rec.Error).To(gomega.BeNumerically("~", 0.5, 1e-12))
			gomega.Expect(rec.Normalized).To(gomega.BeNumerically("~", 0.5/10.5, 1e-12))
		})

		ginkgo.It("ranks by variance change with the variance method", func() {
			gen := unitGenerator(2, quadrature.Linear, 6)
			opts := DefaultOptions()
			opts.Method = VarianceMethod
			opts.Normalize = false
			c := newController(gen, model(func(x []float64) float64 { return x[0] + 2*x[1] }), opts)

			rec, err := c.RefineOnce(ctx, "f")
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(rec.Index).To(gomega.Equal(sc.MultiIndex{0, 1}))
			gomega.Expect(rec.Error).To(gomega.BeNumerically("~", 1.0/3, 1e-9))
			gomega.Expect(rec.Normalized).To(gomega.Equal(rec.Error))
		})

		ginkgo.It("rejects an unknown quantity of interest", func() {
			gen := unitGenerator(2, quadrature.Linear, 6)
			c := newController(gen, model(func(x []float64) float64 { return x[0] }), DefaultOptions())

			_, err := c.RefineOnce(ctx, "g")
			gomega.Expect(errors.Is(err, sc.ErrUnknownQoI)).To(gomega.BeTrue())
		})
	})

	ginkgo.Describe("RefineToPrecision", func() {
		ginkgo.It("performs exactly min iterations when min equals max", func() {
			gen := unitGenerator(2, quadrature.Doubling, 6)
			c := newController(gen, model(func(x []float64) float64 { return math.Exp(x[0]) * math.Cos(2*x[1]) }), DefaultOptions())

			n, err := c.RefineToPrecision(ctx, "f", 0.01, 5, 5)
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(n).To(gomega.Equal(5))

			st := c.State()
			gomega.Expect(st.History).To(gomega.HaveLen(n))
			gomega.Expect(st.Accepted.Len()).To(gomega.Equal(6))
			for _, h := range st.History {
				gomega.Expect(h.Error).To(gomega.BeNumerically(">=", 0))
				gomega.Expect(h.Normalized).To(gomega.BeNumerically(">=", 0))
			}
		})

		ginkgo.It("stops once the tolerance is met", func() {
			gen := unitGenerator(2, quadrature.Doubling, 6)
			c := newController(gen, model(func(x []float64) float64 { return 1 + x[0] }), DefaultOptions())

			n, err := c.RefineToPrecision(ctx, "f", 1e3, 0, 20)
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(n).To(gomega.Equal(1))
			gomega.Expect(c.Phase()).To(gomega.Equal(Converged))
		})

		ginkgo.It("never refines below min iterations", func() {
			gen := unitGenerator(2, quadrature.Doubling, 6)
			c := newController(gen, model(func(x []float64) float64 { return 1 + x[0] }), DefaultOptions())

			n, err := c.RefineToPrecision(ctx, "f", 1e3, 3, 20)
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(n).To(gomega.Equal(3))
		})

		ginkgo.It("returns without error when the admissible set runs out", func() {
			gen := unitGenerator(1, quadrature.Linear, 2)
			c := newController(gen, model(func(x []float64) float64 { return math.Sin(5 * x[0]) }), DefaultOptions())

			n, err := c.RefineToPrecision(ctx, "f", 0, 0, 10)
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(n).To(gomega.Equal(2))
			gomega.Expect(c.Phase()).To(gomega.Equal(Converged))
			gomega.Expect(c.State().History).To(gomega.HaveLen(2))
		})

		ginkgo.It("rejects inverted iteration bounds", func() {
			gen := unitGenerator(1, quadrature.Linear, 2)
			c := newController(gen, model(func(x []float64) float64 { return x[0] }), DefaultOptions())

			_, err := c.RefineToPrecision(ctx, "f", 0.1, 4, 2)
			gomega.Expect(err).To(gomega.HaveOccurred())
		})
	})

	ginkgo.Describe("state machine", func() {
		ginkgo.It("refuses to accept before evaluation", func() {
			gen := unitGenerator(2, quadrature.Linear, 4)
			c := newController(gen, model(func(x []float64) float64 { return x[0] }), DefaultOptions())
			gomega.Expect(c.Initialize(ctx)).To(gomega.Succeed())

			_, err := c.Accept("f")
			gomega.Expect(errors.Is(err, sc.ErrInvalidState)).To(gomega.BeTrue())

			_, err = c.LookAhead()
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(c.Phase()).To(gomega.Equal(AwaitingEvaluation))
			gomega.Expect(c.Pending()).To(gomega.HaveLen(2))

			_, err = c.Accept("f")
			gomega.Expect(errors.Is(err, sc.ErrInvalidState)).To(gomega.BeTrue())
		})

		ginkgo.It("refuses look-ahead before the zero index is sampled", func() {
			gen := unitGenerator(2, quadrature.Linear, 4)
			c := newController(gen, model(func(x []float64) float64 { return x[0] }), DefaultOptions())

			_, err := c.LookAhead()
			gomega.Expect(errors.Is(err, sc.ErrInvalidState)).To(gomega.BeTrue())
		})

		ginkgo.It("reuses samples of indices that stayed admissible", func() {
			gen := unitGenerator(2, quadrature.Linear, 6)
			var calls atomic.Int64
			eval := PointFunc(func(_ context.Context, x []float64) (map[string][]float64, error) {
				calls.Add(1)
				return map[string][]float64{"f": {x[0] + 3*x[1]}}, nil
			})
			c := newController(gen, eval, DefaultOptions())

			_, err := c.RefineOnce(ctx, "f")
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(calls.Load()).To(gomega.Equal(int64(3)))

			_, err = c.LookAhead()
			gomega.Expect(err).To(gomega.Succeed())
			n, err := c.Evaluate(ctx)
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(n).To(gomega.Equal(int(calls.Load()) - 3))
			gomega.Expect(c.State().Samples.Len()).To(gomega.Equal(int(calls.Load())))
		})

		ginkgo.It("notifies observers of evaluations and acceptances", func() {
			gen := unitGenerator(2, quadrature.Linear, 4)
			c := newController(gen, model(func(x []float64) float64 { return x[0] }), DefaultOptions())
			var events []Event
			c.AddObserver(ObserverFunc(func(e Event) { events = append(events, e) }))

			_, err := c.RefineOnce(ctx, "f")
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(events).To(gomega.HaveLen(2))
			gomega.Expect(events[0].Phase).To(gomega.Equal(Evaluated))
			gomega.Expect(events[0].Evaluated).To(gomega.Equal(2))
			gomega.Expect(events[1].Phase).To(gomega.Equal(Refining))
			gomega.Expect(events[1].Iteration).To(gomega.Equal(1))
		})
	})

	ginkgo.Describe("cancellation", func() {
		ginkgo.It("discards a partially evaluated iteration", func() {
			gen := unitGenerator(2, quadrature.Linear, 4)
			var block atomic.Bool
			started := make(chan struct{}, 4)
			eval := PointFunc(func(ctx context.Context, x []float64) (map[string][]float64, error) {
				if block.Load() && x[0] != 0 {
					started <- struct{}{}
					<-ctx.Done()
					return nil, ctx.Err()
				}
				return map[string][]float64{"f": {x[0] + x[1]}}, nil
			})
			c := newController(gen, eval, DefaultOptions())
			gomega.Expect(c.Initialize(ctx)).To(gomega.Succeed())

			block.Store(true)
			cctx, cancel := context.WithCancel(ctx)
			go func() {
				<-started
				cancel()
			}()
			_, err := c.RefineOnce(cctx, "f")
			gomega.Expect(errors.Is(err, context.Canceled)).To(gomega.BeTrue())

			st := c.State()
			gomega.Expect(st.Samples.Len()).To(gomega.Equal(1))
			gomega.Expect(st.Accepted.Len()).To(gomega.Equal(1))
			gomega.Expect(st.History).To(gomega.BeEmpty())
			gomega.Expect(c.Phase()).To(gomega.Equal(AwaitingEvaluation))

			block.Store(false)
			_, err = c.RefineOnce(ctx, "f")
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(c.State().Samples.Len()).To(gomega.Equal(3))
		})
	})

	ginkgo.Describe("evaluation failures", func() {
		ginkgo.It("skips indices with a failed point", func() {
			gen := unitGenerator(2, quadrature.Linear, 4)
			eval := PointFunc(func(_ context.Context, x []float64) (map[string][]float64, error) {
				if x[0] == 0 {
					return nil, errors.New("solver diverged")
				}
				return map[string][]float64{"f": {100 * x[0] + x[1]}}, nil
			})
			c := newController(gen, eval, DefaultOptions())

			rec, err := c.RefineOnce(ctx, "f")
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(rec.Index).To(gomega.Equal(sc.MultiIndex{0, 1}))
			gomega.Expect(c.State().Samples.Len()).To(gomega.Equal(2))
		})

		ginkgo.It("aborts the iteration when no index can be scored", func() {
			gen := unitGenerator(2, quadrature.Linear, 4)
			eval := PointFunc(func(_ context.Context, x []float64) (map[string][]float64, error) {
				if x[0] != 0.5 || x[1] != 0.5 {
					return nil, errors.New("timeout")
				}
				return map[string][]float64{"f": {1}}, nil
			})
			c := newController(gen, eval, DefaultOptions())

			_, err := c.RefineOnce(ctx, "f")
			gomega.Expect(errors.Is(err, sc.ErrEvaluationFailure)).To(gomega.BeTrue())
			var ee *sc.EvaluationError
			gomega.Expect(errors.As(err, &ee)).To(gomega.BeTrue())

			st := c.State()
			gomega.Expect(st.Accepted.Len()).To(gomega.Equal(1))
			gomega.Expect(st.History).To(gomega.BeEmpty())
			gomega.Expect(c.Phase()).To(gomega.Equal(Refining))
		})

		ginkgo.It("treats values that violate the schema as failures", func() {
			gen := unitGenerator(1, quadrature.Linear, 4)
			eval := PointFunc(func(_ context.Context, x []float64) (map[string][]float64, error) {
				return map[string][]float64{"f": {math.NaN()}}, nil
			})
			c := newController(gen, eval, DefaultOptions())

			err := c.Initialize(ctx)
			gomega.Expect(errors.Is(err, sc.ErrEvaluationFailure)).To(gomega.BeTrue())
			gomega.Expect(c.Phase()).To(gomega.Equal(Idle))
		})
	})

	ginkgo.Describe("queries", func() {
		ginkgo.It("reports insufficient data before any refinement", func() {
			gen := unitGenerator(2, quadrature.Linear, 4)
			c := newController(gen, model(func(x []float64) float64 { return x[0] }), DefaultOptions())
			gomega.Expect(c.Initialize(ctx)).To(gomega.Succeed())

			_, err := c.Sobol("f", sc.FirstOrder)
			gomega.Expect(errors.Is(err, sc.ErrInsufficientData)).To(gomega.BeTrue())
		})

		ginkgo.It("yields first-order indices summing to one for an additive model", func() {
			gen := unitGenerator(2, quadrature.Doubling, 6)
			c := newController(gen, model(func(x []float64) float64 { return x[0] + 2*x[1] }), DefaultOptions())

			_, err := c.RefineToPrecision(ctx, "f", 1e-12, 2, 4)
			gomega.Expect(err).To(gomega.Succeed())

			first, err := c.Sobol("f", sc.FirstOrder)
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(first[0].Values[0]+first[1].Values[0]).To(gomega.BeNumerically("~", 1, 1e-9))
			gomega.Expect(first[1].Values[0]).To(gomega.BeNumerically("~", 0.8, 1e-9))
		})

		ginkgo.It("predicts the model once the grid resolves it", func() {
			gen := unitGenerator(2, quadrature.Linear, 4)
			c := newController(gen, model(func(x []float64) float64 { return 1 + 2*x[0] - x[1] }), DefaultOptions())

			_, err := c.RefineToPrecision(ctx, "f", 0, 2, 2)
			gomega.Expect(err).To(gomega.Succeed())

			a, err := c.Predict("f", []float64{0.3, 0.8})
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(a[0]).To(gomega.BeNumerically("~", 0.8, 1e-12))
			b, _ := c.Predict("f", []float64{0.3, 0.8})
			gomega.Expect(b).To(gomega.Equal(a))

			_, err = c.Predict("f", []float64{1.5, 0.8})
			gomega.Expect(errors.Is(err, sc.ErrDomain)).To(gomega.BeTrue())

			m, err := c.Moments("f")
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(m.Mean[0]).To(gomega.BeNumerically("~", 1.5, 1e-12))
		})
	})

	ginkgo.Describe("Resume", func() {
		ginkgo.It("continues from a saved state", func() {
			gen := unitGenerator(2, quadrature.Doubling, 6)
			fn := model(func(x []float64) float64 { return math.Sin(x[0]) + x[1]*x[1] })
			first := newController(gen, fn, DefaultOptions())
			_, err := first.RefineToPrecision(ctx, "f", 0, 2, 2)
			gomega.Expect(err).To(gomega.Succeed())

			second, err := Resume(gen, scalarSchema(), fn, first.State(), DefaultOptions())
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(second.Phase()).To(gomega.Equal(Refining))

			rec, err := second.RefineOnce(ctx, "f")
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(rec.Iteration).To(gomega.Equal(3))
			gomega.Expect(first.State().History).To(gomega.HaveLen(2))
		})

		ginkgo.It("rejects a state refined beyond the rule's max level", func() {
			wide := unitGenerator(2, quadrature.Linear, 6)
			fn := model(func(x []float64) float64 { return math.Pow(x[0], 4) })
			first := newController(wide, fn, DefaultOptions())
			_, err := first.RefineToPrecision(ctx, "f", 0, 4, 4)
			gomega.Expect(err).To(gomega.Succeed())

			top := 0
			for _, k := range first.State().Accepted.Sorted() {
				top = max(top, k[0], k[1])
			}
			gomega.Expect(top).To(gomega.BeNumerically(">", 2))

			narrow := unitGenerator(2, quadrature.Doubling, 2)
			_, err = Resume(narrow, scalarSchema(), fn, first.State(), DefaultOptions())
			gomega.Expect(errors.Is(err, sc.ErrInvalidState)).To(gomega.BeTrue())
			gomega.Expect(errors.Is(err, quadrature.ErrLevel)).To(gomega.BeTrue())
			var ie *sc.IndexError
			gomega.Expect(errors.As(err, &ie)).To(gomega.BeTrue())
			gomega.Expect(ie.Index[0]).To(gomega.BeNumerically(">", 2))
		})

		ginkgo.It("rejects a state over different parameters", func() {
			gen := unitGenerator(2, quadrature.Doubling, 6)
			st := sc.NewState([]string{"x", "w"})
			_, err := Resume(gen, scalarSchema(), model(func(x []float64) float64 { return 0 }), st, DefaultOptions())
			gomega.Expect(errors.Is(err, sc.ErrInvalidState)).To(gomega.BeTrue())
		})
	})
})
