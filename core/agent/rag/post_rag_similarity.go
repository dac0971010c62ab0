package rag

import "math"

// CosineSimilarity returns dot(a,b)/(|a|*|b|). Vectors of different length,
// empty vectors and zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// MaxSimilarity returns the highest similarity of v against pool and the
// index of that pool member, or -1 for an empty pool.
func MaxSimilarity(v []float32, pool [][]float32) (float64, int) {
	best, at := 0.0, -1
	for i, p := range pool {
		if s := CosineSimilarity(v, p); at < 0 || s > best {
			best, at = s, i
		}
	}
	return best, at
}
