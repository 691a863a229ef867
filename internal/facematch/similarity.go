package facematch

import (
	"cmp"
	"math"
	"slices"
)

// Distancer computes the feature extractor's native observation distance.
type Distancer interface {
	Distance(a, b []float32) (float64, error)
}

// DistanceFunc adapts a plain function to Distancer.
type DistanceFunc func(a, b []float32) (float64, error)

func (f DistanceFunc) Distance(a, b []float32) (float64, error) {
	return f(a, b)
}

// Matcher decides whether two face vectors belong to the same person. Both
// the native distance and the cosine similarity must agree.
type Matcher struct {
	metric               Distancer
	observationThreshold float64
	cosineThreshold      float64
}

func NewMatcher(metric Distancer, observationThreshold, cosineThreshold float64) *Matcher {
	return &Matcher{
		metric:               metric,
		observationThreshold: observationThreshold,
		cosineThreshold:      cosineThreshold,
	}
}

// AreSimilar returns true only when the observation distance is at most the
// observation threshold and the cosine similarity is at least the cosine
// threshold. Vectors the metric cannot compare are never similar.
func (m *Matcher) AreSimilar(a, b []float32) bool {
	_, ok := m.score(a, b)
	return ok
}

// BestMatch compares v against every reference and returns the highest
// cosine similarity among the references that match it.
func (m *Matcher) BestMatch(v []float32, refs [][]float32) (float64, bool) {
	best := math.Inf(-1)
	found := false
	for _, ref := range refs {
		if sim, ok := m.score(v, ref); ok && sim > best {
			best = sim
			found = true
		}
	}
	return best, found
}

func (m *Matcher) score(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	d, err := m.metric.Distance(a, b)
	if err != nil || math.IsNaN(d) || d > m.observationThreshold {
		return 0, false
	}
	sim := CosineSimilarity(a, b)
	return sim, sim >= m.cosineThreshold
}

// Candidate is an identified vector offered to FindSimilar.
type Candidate struct {
	ID     string
	Vector []float32
}

// ScoredCandidate is a FindSimilar hit.
type ScoredCandidate struct {
	Candidate
	Similarity float64
}

// FindSimilar returns the candidates whose cosine similarity to query is at
// least threshold, excluding the query itself by id, sorted by descending
// similarity and truncated to topK. Candidates with a different dimension
// are skipped.
func FindSimilar(query Candidate, candidates []Candidate, threshold float64, topK int) []ScoredCandidate {
	if topK <= 0 || len(query.Vector) == 0 {
		return nil
	}

	var results []ScoredCandidate
	for _, c := range candidates {
		if c.ID == query.ID || len(c.Vector) != len(query.Vector) {
			continue
		}
		if sim := CosineSimilarity(query.Vector, c.Vector); sim >= threshold {
			results = append(results, ScoredCandidate{Candidate: c, Similarity: sim})
		}
	}

	slices.SortStableFunc(results, func(a, b ScoredCandidate) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// CosineSimilarity returns the cosine of the angle between a and b, clamped
// to [-1, 1]. Mismatched, empty or zero vectors give 0.
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

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	return min(max(similarity, -1), 1)
}

// CosineDistance is 1 - cosine similarity. Invalid input returns the maximum distance 2.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 || vectorNorm(a) == 0 || vectorNorm(b) == 0 {
		return 2.0
	}
	return 1 - CosineSimilarity(a, b)
}

// EuclideanDistance returns the L2 distance between a and b after
// normalizing both to unit length.
func EuclideanDistance(a, b []float32) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nil || nb == nil || len(na) != len(nb) {
		return math.Inf(1)
	}
	var sum float64
	for i := range na {
		d := float64(na[i]) - float64(nb[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v, or nil for an empty or zero vector.
func Normalize(v []float32) []float32 {
	n := vectorNorm(v)
	if n == 0 {
		return nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
