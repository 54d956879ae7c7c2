// Package vector implements the sparse, L2-normalised term-weight vectors
// that make up the index rows and query vectors.
package vector

import (
	"fmt"
	"math"
	"sort"
)

// Sparse stores only non-zero coordinates as parallel slices. Indices are
// strictly ascending and Values are non-negative. The zero value is the
// zero vector.
type Sparse struct {
	Indices []int32   `json:"i"`
	Values  []float64 `json:"v"`
}

// FromCounts weighs raw term counts and returns the L2-normalised vector.
// weight(i) is multiplied into every count; entries whose product is not
// positive are dropped.
func FromCounts(counts map[int32]int, weight func(int32) float64) Sparse {
	if len(counts) == 0 {
		return Sparse{}
	}
	indices := make([]int32, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	v := Sparse{
		Indices: make([]int32, 0, len(indices)),
		Values:  make([]float64, 0, len(indices)),
	}
	for _, idx := range indices {
		w := float64(counts[idx]) * weight(idx)
		if w <= 0 {
			continue
		}
		v.Indices = append(v.Indices, idx)
		v.Values = append(v.Values, w)
	}
	return v.Normalize()
}

// Len returns the number of stored coordinates.
func (v Sparse) Len() int {
	return len(v.Indices)
}

// IsZero reports whether v has no non-zero coordinate.
func (v Sparse) IsZero() bool {
	for _, w := range v.Values {
		if w != 0 {
			return false
		}
	}
	return true
}

// Norm returns the Euclidean norm.
func (v Sparse) Norm() float64 {
	var sum float64
	for _, w := range v.Values {
		sum += w * w
	}
	return math.Sqrt(sum)
}

// Normalize returns a copy of v scaled to unit length. The zero vector is
// returned unchanged.
func (v Sparse) Normalize() Sparse {
	norm := v.Norm()
	if norm == 0 {
		return Sparse{}
	}
	out := Sparse{
		Indices: append([]int32(nil), v.Indices...),
		Values:  make([]float64, len(v.Values)),
	}
	for i, w := range v.Values {
		out.Values[i] = w / norm
	}
	return out
}

// Dot returns the inner product of two sparse vectors.
func (v Sparse) Dot(o Sparse) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(v.Indices) && j < len(o.Indices) {
		switch {
		case v.Indices[i] == o.Indices[j]:
			sum += v.Values[i] * o.Values[j]
			i++
			j++
		case v.Indices[i] < o.Indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// Get returns the weight stored at idx, or 0.
func (v Sparse) Get(idx int32) float64 {
	pos := sort.Search(len(v.Indices), func(i int) bool { return v.Indices[i] >= idx })
	if pos < len(v.Indices) && v.Indices[pos] == idx {
		return v.Values[pos]
	}
	return 0
}

// Scatter writes v into a dense slice. dst must be long enough to hold the
// largest index.
func (v Sparse) Scatter(dst []float64) {
	for i, idx := range v.Indices {
		dst[idx] = v.Values[i]
	}
}

// Top returns up to n indices with the largest positive weights, heaviest
// first. Equal weights are ordered by ascending index.
func (v Sparse) Top(n int) []int32 {
	if n <= 0 {
		return nil
	}
	order := make([]int, 0, len(v.Indices))
	for i, w := range v.Values {
		if w > 0 {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return v.Values[order[a]] > v.Values[order[b]]
	})
	if len(order) > n {
		order = order[:n]
	}
	top := make([]int32, len(order))
	for i, pos := range order {
		top[i] = v.Indices[pos]
	}
	return top
}

// Validate checks the structural invariants against a vocabulary of size
// dim: equal slice lengths, strictly ascending in-range indices and finite
// non-negative weights.
func (v Sparse) Validate(dim int) error {
	if len(v.Indices) != len(v.Values) {
		return fmt.Errorf("indices/values length mismatch: %d vs %d", len(v.Indices), len(v.Values))
	}
	for i, idx := range v.Indices {
		if idx < 0 || int(idx) >= dim {
			return fmt.Errorf("index %d out of range [0,%d)", idx, dim)
		}
		if i > 0 && v.Indices[i-1] >= idx {
			return fmt.Errorf("indices not strictly ascending at position %d", i)
		}
		w := v.Values[i]
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("invalid weight %v at index %d", w, idx)
		}
	}
	return nil
}
