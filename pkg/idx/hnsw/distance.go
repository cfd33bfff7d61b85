// Package hnsw implements the online, transactionally persisted HNSW
// vector index: layered neighbor lists reloaded by version check (poll
// a version stamp, reload only what changed), with `google/btree`
// backing the candidate priority queue and `RoaringBitmap/roaring/v2`
// backing large neighbor/doc-id sets.
package hnsw

import (
	"math"

	"github.com/cuemby/nexus/pkg/catalog"
)

// Distance computes the configured distance metric between two equal-
// length vectors.
func Distance(kind catalog.DistanceKind, a, b []float64) float64 {
	switch kind {
	case catalog.DistManhattan:
		return manhattan(a, b)
	case catalog.DistCosine:
		return cosine(a, b)
	case catalog.DistDot:
		return -dot(a, b) // smaller is closer, so negate the similarity
	default:
		return euclidean(a, b)
	}
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func manhattan(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func cosine(a, b []float64) float64 {
	num := dot(a, b)
	na, nb := math.Sqrt(dot(a, a)), math.Sqrt(dot(b, b))
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - num/(na*nb)
}
