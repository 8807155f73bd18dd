package speaker

import (
	"math"

	"github.com/snarg/speaker-id/internal/features"
)

const (
	euclideanWeight = 0.7
	cosineWeight    = 0.3
)

// Similarity blends inverse Euclidean distance with rescaled cosine
// similarity into a score in (0, 1]. Identical vectors score exactly 1.
// A zero-norm vector contributes nothing through the cosine term.
// Vectors of different length score 0.
func Similarity(a, b features.Voiceprint) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dist, dot, normA, normB float64
	for i := range a {
		d := a[i] - b[i]
		dist += d * d
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if dist == 0 && normA > 0 {
		return 1
	}

	score := euclideanWeight / (1 + math.Sqrt(dist))
	if normA > 0 && normB > 0 {
		cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
		cos = math.Max(-1, math.Min(1, cos))
		score += cosineWeight * (cos + 1) / 2
	}
	return score
}
