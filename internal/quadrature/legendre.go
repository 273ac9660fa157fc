package quadrature

import "math"

// Legendre evaluates the degree-a Legendre polynomial orthonormal on [0,1].
func Legendre(a int, u float64) float64 {
	phi := make([]float64, a+1)
	legendreAll(u, phi)
	return phi[a]
}

// legendreAll fills phi[a] with the orthonormal polynomial of degree a at u
// for every a < len(phi).
func legendreAll(u float64, phi []float64) {
	if len(phi) == 0 {
		return
	}
	t := 2*u - 1
	prev, cur := 0.0, 1.0
	for n := 0; n < len(phi); n++ {
		phi[n] = math.Sqrt(float64(2*n+1)) * cur
		// (n+1) P_{n+1} = (2n+1) t P_n - n P_{n-1}
		prev, cur = cur, (float64(2*n+1)*t*cur-float64(n)*prev)/float64(n+1)
	}
}
