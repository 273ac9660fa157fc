package validate

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/san-kum/blobuq/internal/params"
	"github.com/san-kum/blobuq/internal/refine"
	"github.com/san-kum/blobuq/internal/sc"
)

func testSpace(t *testing.T) *params.Space {
	t.Helper()
	space, err := params.NewSpace(
		params.Dimension{Name: "x", Min: 0, Max: 2},
		params.Dimension{Name: "y", Min: 10, Max: 20},
	)
	if err != nil {
		t.Fatal(err)
	}
	return space
}

func TestUniformGrid(t *testing.T) {
	grid, err := Uniform(testSpace(t), 2)
	if err != nil {
		t.Fatal(err)
	}
	if grid.Size() != 4 {
		t.Fatalf("size = %d, want 4", grid.Size())
	}

	var coords [][]float64
	for _, p := range grid.Points() {
		coords = append(coords, p.Coords)
	}
	want := [][]float64{{0.5, 12.5}, {0.5, 17.5}, {1.5, 12.5}, {1.5, 17.5}}
	if diff := cmp.Diff(want, coords, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
}

func TestGridErrors(t *testing.T) {
	space := testSpace(t)
	tests := []struct {
		name string
		axes [][]float64
	}{
		{"too few axes", [][]float64{{0.5}}},
		{"empty axis", [][]float64{{0.5}, {}}},
		{"outside unit interval", [][]float64{{0.5}, {1.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewGrid(space, tt.axes); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := Uniform(space, 0); err == nil {
		t.Error("expected error for zero points")
	}
}

func sum(ctx context.Context, x []float64) (map[string][]float64, error) {
	return map[string][]float64{"q": {x[0] + x[1]}}, nil
}

func TestCheck(t *testing.T) {
	grid, err := Uniform(testSpace(t), 2)
	if err != nil {
		t.Fatal(err)
	}
	eval := refine.PointFunc(func(ctx context.Context, x []float64) (map[string][]float64, error) {
		if x[0] > 1 {
			return nil, errors.New("solver diverged")
		}
		return sum(ctx, x)
	})
	predict := func(qoi string, x []float64) ([]float64, error) {
		return []float64{x[0] + x[1] + 0.1}, nil
	}

	report, err := Check(context.Background(), grid, eval, predict, []sc.QoI{{Name: "q"}}, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := &Report{
		Points: 4,
		Failed: 2,
		Results: []Result{{
			QoI:      "q",
			Points:   2,
			MaxAbs:   0.1,
			RMS:      0.1,
			Relative: 0.1 / math.Sqrt((13*13+18*18)/2.0),
		}},
	}
	if diff := cmp.Diff(want, report, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckFailures(t *testing.T) {
	grid, err := Uniform(testSpace(t), 1)
	if err != nil {
		t.Fatal(err)
	}
	exact := func(qoi string, x []float64) ([]float64, error) {
		return []float64{x[0] + x[1]}, nil
	}

	tests := []struct {
		name string
		eval refine.Evaluator
		qois []sc.QoI
	}{
		{
			name: "all runs fail",
			eval: refine.PointFunc(func(ctx context.Context, x []float64) (map[string][]float64, error) {
				return nil, errors.New("boom")
			}),
			qois: []sc.QoI{{Name: "q"}},
		},
		{
			name: "missing quantity",
			eval: refine.PointFunc(sum),
			qois: []sc.QoI{{Name: "other"}},
		},
		{
			name: "width mismatch",
			eval: refine.PointFunc(func(ctx context.Context, x []float64) (map[string][]float64, error) {
				return map[string][]float64{"q": {1, 2}}, nil
			}),
			qois: []sc.QoI{{Name: "q"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Check(context.Background(), grid, tt.eval, exact, tt.qois, 1, 1); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCheckCancelled(t *testing.T) {
	grid, err := Uniform(testSpace(t), 2)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Check(ctx, grid, refine.PointFunc(sum), nil, []sc.QoI{{Name: "q"}}, 2, 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// batchCounter records batch sizes and the peak number of concurrent
// batches.
type batchCounter struct {
	mu       sync.Mutex
	batches  []int
	inFlight int
	peak     int
}

func (b *batchCounter) Evaluate(ctx context.Context, points []sc.Point) ([]refine.Outcome, error) {
	b.mu.Lock()
	b.batches = append(b.batches, len(points))
	b.inFlight++
	b.peak = max(b.peak, b.inFlight)
	b.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	b.mu.Lock()
	b.inFlight--
	b.mu.Unlock()

	out := make([]refine.Outcome, len(points))
	for i, p := range points {
		out[i].Values, out[i].Err = sum(ctx, p.Coords)
	}
	return out, nil
}

func TestCheckRunsBatchesConcurrently(t *testing.T) {
	grid, err := Uniform(testSpace(t), 3)
	if err != nil {
		t.Fatal(err)
	}
	eval := &batchCounter{}
	exact := func(qoi string, x []float64) ([]float64, error) {
		return []float64{x[0] + x[1]}, nil
	}

	report, err := Check(context.Background(), grid, eval, exact, []sc.QoI{{Name: "q"}}, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(eval.batches) != 5 {
		t.Errorf("batches = %v, want 5 batches for 9 points", eval.batches)
	}
	if eval.peak < 2 || eval.peak > 3 {
		t.Errorf("peak concurrent batches = %d, want 2..3", eval.peak)
	}
	if report.Failed != 0 || report.Results[0].MaxAbs > 1e-12 {
		t.Errorf("report = %+v, want an exact surrogate", report)
	}
}
