package features

import "math"

const (
	dbAmin  = 1e-10
	dbTopDB = 80.0
)

// powerToDB converts a power matrix to decibels relative to ref, clipped
// to at most dbTopDB below the loudest value.
func powerToDB(m [][]float64, ref float64) [][]float64 {
	refDB := 10 * math.Log10(math.Max(dbAmin, ref))
	peak := math.Inf(-1)

	out := make([][]float64, len(m))
	for i, row := range m {
		db := make([]float64, len(row))
		for j, v := range row {
			db[j] = 10*math.Log10(math.Max(dbAmin, v)) - refDB
			if db[j] > peak {
				peak = db[j]
			}
		}
		out[i] = db
	}

	floor := peak - dbTopDB
	for _, row := range out {
		for j, v := range row {
			if v < floor {
				row[j] = floor
			}
		}
	}
	return out
}

// maxValue returns the largest element of m, or 0 for an empty matrix.
func maxValue(m [][]float64) float64 {
	peak := 0.0
	for _, row := range m {
		for _, v := range row {
			if v > peak {
				peak = v
			}
		}
	}
	return peak
}

// mfcc computes the first n orthonormal DCT-II coefficients of each frame
// of a [bands][frames] dB mel spectrogram, giving [n][frames].
func mfcc(melDB [][]float64, n int) [][]float64 {
	bands := len(melDB)
	if bands == 0 {
		return nil
	}
	frames := len(melDB[0])

	basis := make([][]float64, n)
	for k := 0; k < n; k++ {
		scale := math.Sqrt(2.0 / float64(bands))
		if k == 0 {
			scale = math.Sqrt(1.0 / float64(bands))
		}
		row := make([]float64, bands)
		for b := 0; b < bands; b++ {
			row[b] = scale * math.Cos(math.Pi*float64(k)*(2*float64(b)+1)/(2*float64(bands)))
		}
		basis[k] = row
	}

	out := make([][]float64, n)
	for k := 0; k < n; k++ {
		coef := make([]float64, frames)
		for t := 0; t < frames; t++ {
			var sum float64
			for b := 0; b < bands; b++ {
				sum += basis[k][b] * melDB[b][t]
			}
			coef[t] = sum
		}
		out[k] = coef
	}
	return out
}

const deltaWidth = 9

// deltaKernel returns the least-squares polynomial derivative filter of
// the given order (1 or 2) over a symmetric window. These are the
// Savitzky-Golay coefficients with polyorder equal to the derivative order.
func deltaKernel(width, order int) []float64 {
	half := width / 2
	kernel := make([]float64, width)

	switch order {
	case 1:
		var denom float64
		for n := -half; n <= half; n++ {
			denom += float64(n * n)
		}
		for n := -half; n <= half; n++ {
			kernel[n+half] = float64(n) / denom
		}
	case 2:
		var meanSq float64
		for n := -half; n <= half; n++ {
			meanSq += float64(n * n)
		}
		meanSq /= float64(width)
		var denom float64
		for n := -half; n <= half; n++ {
			d := float64(n*n) - meanSq
			denom += d * d
		}
		for n := -half; n <= half; n++ {
			kernel[n+half] = 2 * (float64(n*n) - meanSq) / denom
		}
	}
	return kernel
}

// delta applies a derivative kernel along the time axis of each row. Near
// the edges, where the window does not fit, the polynomial fitted to the
// first or last full window is used, which for these orders means copying
// the nearest interior value. Rows shorter than the window fall back to
// replicating edge frames.
func delta(m [][]float64, order int) [][]float64 {
	kernel := deltaKernel(deltaWidth, order)
	half := deltaWidth / 2

	out := make([][]float64, len(m))
	for i, row := range m {
		n := len(row)
		d := make([]float64, n)
		at := func(t int) float64 {
			var sum float64
			for k := -half; k <= half; k++ {
				idx := min(max(t+k, 0), n-1)
				sum += kernel[k+half] * row[idx]
			}
			return sum
		}
		if n < deltaWidth {
			for t := range row {
				d[t] = at(t)
			}
			out[i] = d
			continue
		}
		for t := half; t < n-half; t++ {
			d[t] = at(t)
		}
		for t := 0; t < half; t++ {
			d[t] = d[half]
			d[n-1-t] = d[n-1-half]
		}
		out[i] = d
	}
	return out
}
