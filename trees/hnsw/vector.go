// Package hnsw implements the HNSW approximate-nearest-neighbor vector
// index (C10): a layered proximity graph over stored vectors, a
// doc-id/record-id mapping with a roaring-bitmap free list, and a
// vector-to-doc-ids map used to dedupe identical vectors. Grounded on
// original_source/crates/core/src/idx/trees/hnsw/index.rs and
// .../hnsw/docs.rs.
package hnsw

import (
	"encoding/binary"
	"math"

	"github.com/surrealdb/surrealdb-sub027/errs"
)

// Metric selects the distance function two vectors are compared under.
type Metric int

const (
	MetricEuclidean Metric = iota
	MetricCosine
	MetricDot
	MetricManhattan
)

func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.BigEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.BigEndian.Uint32(b[i*4:]))
	}
	return v
}

// Distance computes the configured metric between a and b, smaller meaning
// closer, per §3's "distance is metric-agnostic; the index stores whichever
// metric the field definition names".
func Distance(m Metric, a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errs.Newf(errs.DimensionMismatch, "hnsw: dimension mismatch %d != %d", len(a), len(b))
	}
	switch m {
	case MetricEuclidean:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return math.Sqrt(sum), nil
	case MetricManhattan:
		var sum float64
		for i := range a {
			sum += math.Abs(float64(a[i]) - float64(b[i]))
		}
		return sum, nil
	case MetricDot:
		var sum float64
		for i := range a {
			sum += float64(a[i]) * float64(b[i])
		}
		return -sum, nil // smaller-is-closer convention: negate the dot product
	case MetricCosine:
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 1, nil
		}
		return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)), nil
	default:
		return 0, errs.New(errs.Internal, "hnsw: unknown metric")
	}
}
