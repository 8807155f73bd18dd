package features

import "math"

// hannWindow returns a periodic Hann window, the form used for spectral
// analysis where the window tiles with the hop.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}
