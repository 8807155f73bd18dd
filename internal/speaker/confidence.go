package speaker

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	topK              = 3
	singleSpeakerStd  = 0.1
	confidenceEpsilon = 1e-6
)

// CandidateScore is the mean of the topK highest sample similarities, or of
// all of them when there are fewer.
func CandidateScore(sims []float64) float64 {
	if len(sims) == 0 {
		return 0
	}
	sorted := append([]float64(nil), sims...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	if len(sorted) > topK {
		sorted = sorted[:topK]
	}
	return stat.Mean(sorted, nil)
}

// Confidence measures how far best stands out from the gallery's candidate
// scores: the standard normal CDF of its z-score, remapped so that an
// average candidate gives 0 and a strong outlier approaches 1.
func Confidence(best float64, scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}

	mu, sigma := stat.PopMeanStdDev(scores, nil)
	if len(scores) == 1 {
		sigma = singleSpeakerStd
	}

	z := (best - mu) / (sigma + confidenceEpsilon)
	conf := (distuv.UnitNormal.CDF(z) - 0.5) * 2
	return math.Max(0, math.Min(1, conf))
}
