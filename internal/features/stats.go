package features

import "gonum.org/v1/gonum/stat"

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// std is the population standard deviation.
func std(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.PopStdDev(xs, nil)
}

func rowMeans(m [][]float64) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		out[i] = mean(row)
	}
	return out
}

func rowStds(m [][]float64) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		out[i] = std(row)
	}
	return out
}
