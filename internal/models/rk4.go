package models

// derivative is the right-hand side of an autonomous ODE system.
type derivative func(x []float64) []float64

// rk4 is a classical fourth-order Runge-Kutta stepper that reuses its stage
// buffers between steps.
type rk4 struct {
	k1, k2, k3, k4 []float64
	scratch        []float64
}

func (r *rk4) ensureScratch(n int) {
	if len(r.k1) != n {
		r.k1 = make([]float64, n)
		r.k2 = make([]float64, n)
		r.k3 = make([]float64, n)
		r.k4 = make([]float64, n)
		r.scratch = make([]float64, n)
	}
}

// step advances x by dt in place.
func (r *rk4) step(f derivative, x []float64, dt float64) {
	n := len(x)
	r.ensureScratch(n)

	copy(r.k1, f(x))
	for i := range n {
		r.scratch[i] = x[i] + 0.5*dt*r.k1[i]
	}
	copy(r.k2, f(r.scratch))
	for i := range n {
		r.scratch[i] = x[i] + 0.5*dt*r.k2[i]
	}
	copy(r.k3, f(r.scratch))
	for i := range n {
		r.scratch[i] = x[i] + dt*r.k3[i]
	}
	copy(r.k4, f(r.scratch))

	dt6 := dt / 6
	for i := range n {
		x[i] += dt6 * (r.k1[i] + 2*r.k2[i] + 2*r.k3[i] + r.k4[i])
	}
}
