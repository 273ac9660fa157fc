package models

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/blobuq/internal/campaign"
	"github.com/san-kum/blobuq/internal/params"
	"github.com/san-kum/blobuq/internal/sc"
)

// Blob is a reduced model of a seeded plasma blob. It tracks the blob
// centre of mass X, its radial velocity V and its integrated density N
// (normalised to 1 at t=0):
//
//	dX/dt = V
//	dV/dt = A - V^2/s - k D_vort V/s^2,   A = h N / (1 + h N)
//	dN/dt = -N (k D_n/s^2 + loss |V|)
//
// where h is the blob height, s the width relative to refWidth and k the
// damping per refDiffusion of viscosity or diffusion. The
// buoyant drive weakens as the blob loses particles, so the velocity
// peaks and decays. The resulting time series go through the same
// reduction as solver output.
type Blob struct {
	Duration float64
	Dt       float64
	// Output every Stride steps.
	Stride int
	// ParallelLoss scales velocity-driven particle loss.
	ParallelLoss float64
	// Viscosity and particle diffusion in m^2/s, used unless the run
	// supplies D_vort or D_n.
	DVort float64
	DN    float64
}

const (
	refWidth     = 0.1
	refDiffusion = 1e-6
	damping      = 0.05
)

func NewBlob() *Blob {
	return &Blob{
		Duration:     20,
		Dt:           0.01,
		Stride:       10,
		ParallelLoss: 0.1,
		DVort:        1e-6,
		DN:           1e-6,
	}
}

func (m *Blob) Params() []params.Dimension {
	return []params.Dimension{
		{Name: "height", Kind: params.Uniform, Min: 0.25, Max: 0.75, Default: 0.5},
		{Name: "width", Kind: params.Uniform, Min: 0.03, Max: 0.15, Default: 0.09},
	}
}

func (m *Blob) QoIs() []sc.QoI {
	return []sc.QoI{
		{Name: "maxV", Kind: sc.Scalar},
		{Name: "maxX", Kind: sc.Scalar},
		{Name: "avgTransp", Kind: sc.Scalar},
		{Name: "massLoss", Kind: sc.Scalar},
		{Name: "peaked", Kind: sc.Flag},
	}
}

func (m *Blob) Evaluate(ctx context.Context, values map[string]float64) (map[string][]float64, error) {
	v, err := lookup(values, "height", "width")
	if err != nil {
		return nil, err
	}
	h, w := v[0], v[1]
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("blob height and width must be positive, got %g and %g", h, w)
	}
	t, density, transport, err := m.Series(ctx, h, w, valueOr(values, "D_vort", m.DVort), valueOr(values, "D_n", m.DN))
	if err != nil {
		return nil, err
	}
	return campaign.BlobQoIs(t, density, transport)
}

// Series integrates the blob and returns the sampled time, integrated
// density and density-weighted position.
func (m *Blob) Series(ctx context.Context, h, w, dVort, dN float64) (t, density, transport []float64, err error) {
	if m.Dt <= 0 || m.Duration <= 0 || m.Stride < 1 {
		return nil, nil, nil, fmt.Errorf("invalid blob integration settings")
	}
	s := w / refWidth
	kv := damping * dVort / refDiffusion
	kn := damping * dN / refDiffusion
	f := func(x []float64) []float64 {
		vel, n := x[1], x[2]
		drive := h * n / (1 + h*n)
		return []float64{
			vel,
			drive - vel*vel/s - kv*vel/(s*s),
			-n * (kn/(s*s) + m.ParallelLoss*math.Abs(vel)),
		}
	}

	steps := int(math.Round(m.Duration / m.Dt))
	n := steps/m.Stride + 1
	t = make([]float64, 0, n)
	density = make([]float64, 0, n)
	transport = make([]float64, 0, n)

	var integ rk4
	x := []float64{0, 0, 1}
	for i := 0; i <= steps; i++ {
		if i%m.Stride == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, nil, err
			}
			t = append(t, float64(i)*m.Dt)
			density = append(density, x[2])
			transport = append(transport, x[0]*x[2])
		}
		if i < steps {
			integ.step(f, x, m.Dt)
		}
	}
	return t, density, transport, nil
}
