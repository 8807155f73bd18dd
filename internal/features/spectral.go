package features

import "math"

const rolloffPercent = 0.85

// binFrequencies returns the center frequency in Hz of each STFT bin.
func binFrequencies(sampleRate, nFFT int) []float64 {
	freqs := make([]float64, nFFT/2+1)
	for k := range freqs {
		freqs[k] = float64(k) * float64(sampleRate) / float64(nFFT)
	}
	return freqs
}

// spectralCentroid returns the magnitude-weighted mean frequency per frame.
// Silent frames have a centroid of 0.
func spectralCentroid(mag [][]float64, freqs []float64) []float64 {
	out := make([]float64, len(mag))
	for t, frame := range mag {
		var num, den float64
		for k, m := range frame {
			num += freqs[k] * m
			den += m
		}
		if den > 0 {
			out[t] = num / den
		}
	}
	return out
}

// spectralRolloff returns, per frame, the frequency of the first bin at
// which the cumulative magnitude reaches rolloffPercent of the total.
func spectralRolloff(mag [][]float64, freqs []float64) []float64 {
	out := make([]float64, len(mag))
	for t, frame := range mag {
		var total float64
		for _, m := range frame {
			total += m
		}
		threshold := rolloffPercent * total

		var cum float64
		for k, m := range frame {
			cum += m
			if cum >= threshold {
				out[t] = freqs[k]
				break
			}
		}
	}
	return out
}

const zeroThreshold = 1e-10

// zeroCrossingRate returns the fraction of sign changes within each
// centered, edge-padded frame. Values within zeroThreshold of zero count
// as positive.
func zeroCrossingRate(samples []float64, frameLen, hop int) []float64 {
	if len(samples) == 0 {
		return nil
	}
	pad := frameLen / 2
	padded := make([]float64, len(samples)+2*pad)
	copy(padded[pad:], samples)
	for i := 0; i < pad; i++ {
		padded[i] = samples[0]
		padded[len(padded)-1-i] = samples[len(samples)-1]
	}

	negative := func(v float64) bool {
		return math.Abs(v) > zeroThreshold && v < 0
	}

	numFrames := 1 + (len(padded)-frameLen)/hop
	out := make([]float64, numFrames)
	for t := 0; t < numFrames; t++ {
		frame := padded[t*hop : t*hop+frameLen]
		crossings := 0
		prev := negative(frame[0])
		for _, v := range frame[1:] {
			cur := negative(v)
			if cur != prev {
				crossings++
			}
			prev = cur
		}
		out[t] = float64(crossings) / float64(frameLen)
	}
	return out
}
