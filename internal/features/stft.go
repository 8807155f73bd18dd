package features

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// magnitudeSpectrogram computes |STFT| with centered frames: the signal is
// zero padded by nFFT/2 on both sides so frame t is centered on sample
// t*hop. plan must have length nFFT. Returns [frames][nFFT/2+1].
func magnitudeSpectrogram(plan *fourier.FFT, samples, window []float64, hop int) [][]float64 {
	nFFT := plan.Len()
	pad := nFFT / 2
	padded := make([]float64, len(samples)+2*pad)
	copy(padded[pad:], samples)

	numFrames := 1 + (len(padded)-nFFT)/hop
	bins := nFFT/2 + 1

	frame := make([]float64, nFFT)
	coeffs := make([]complex128, bins)
	spec := make([][]float64, numFrames)
	for t := 0; t < numFrames; t++ {
		start := t * hop
		for i := range frame {
			frame[i] = padded[start+i] * window[i]
		}
		coeffs = plan.Coefficients(coeffs, frame)

		row := make([]float64, bins)
		for k, c := range coeffs {
			row[k] = cmplx.Abs(c)
		}
		spec[t] = row
	}
	return spec
}

// square returns the element-wise square of a [frames][bins] matrix.
func square(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		sq := make([]float64, len(row))
		for j, v := range row {
			sq[j] = v * v
		}
		out[i] = sq
	}
	return out
}

// applyFilterBank projects a [frames][bins] power spectrogram onto the
// filters, giving [bands][frames].
func applyFilterBank(bank, power [][]float64) [][]float64 {
	out := make([][]float64, len(bank))
	for m, filter := range bank {
		band := make([]float64, len(power))
		for t, frame := range power {
			var sum float64
			for k, w := range filter {
				if w != 0 {
					sum += w * frame[k]
				}
			}
			band[t] = sum
		}
		out[m] = band
	}
	return out
}
