package facematch

// Centroid returns the L2-normalized element-wise mean of vectors. Vectors
// whose dimension differs from the first one are ignored. It returns nil for
// empty input or when the mean is the zero vector.
func Centroid(vectors [][]float32) []float32 {
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil
	}

	dim := len(vectors[0])
	sum := make([]float64, dim)
	count := 0
	for _, v := range vectors {
		if len(v) != dim {
			continue
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
		count++
	}

	mean := make([]float32, dim)
	for i := range sum {
		mean[i] = float32(sum[i] / float64(count))
	}
	return Normalize(mean)
}
