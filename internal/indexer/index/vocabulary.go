package index

import (
	"fmt"
	"math"

	"github.com/novelnest/bookmatch/internal/indexer/vector"
)

// Vocabulary is the frozen term table of an index. Position in the table is
// the term's vector index; each position carries the term's smoothed IDF.
type Vocabulary struct {
	terms  []string
	idf    []float64
	lookup map[string]int32
}

// NewVocabulary validates and freezes a term table. terms and idf are
// copied.
func NewVocabulary(terms []string, idf []float64) (*Vocabulary, error) {
	if len(terms) != len(idf) {
		return nil, fmt.Errorf("vocabulary: %d terms but %d weights", len(terms), len(idf))
	}
	if len(terms) > math.MaxInt32 {
		return nil, fmt.Errorf("vocabulary: %d terms exceeds int32 range", len(terms))
	}
	v := &Vocabulary{
		terms:  append([]string(nil), terms...),
		idf:    append([]float64(nil), idf...),
		lookup: make(map[string]int32, len(terms)),
	}
	for i, term := range v.terms {
		if term == "" {
			return nil, fmt.Errorf("vocabulary: empty term at index %d", i)
		}
		if _, dup := v.lookup[term]; dup {
			return nil, fmt.Errorf("vocabulary: duplicate term %q at index %d", term, i)
		}
		w := v.idf[i]
		if !(w > 0) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("vocabulary: invalid idf %v for term %q", w, term)
		}
		v.lookup[term] = int32(i)
	}
	return v, nil
}

// Size returns the number of terms V.
func (v *Vocabulary) Size() int {
	return len(v.terms)
}

// Term returns the term at vector index i.
func (v *Vocabulary) Term(i int32) string {
	return v.terms[i]
}

// IDF returns the weight of the term at vector index i.
func (v *Vocabulary) IDF(i int32) float64 {
	return v.idf[i]
}

// Lookup returns the vector index of term.
func (v *Vocabulary) Lookup(term string) (int32, bool) {
	i, ok := v.lookup[term]
	return i, ok
}

// Terms returns a copy of the term table in index order.
func (v *Vocabulary) Terms() []string {
	return append([]string(nil), v.terms...)
}

// Weigh maps a token sequence into the vector space: counts per term,
// out-of-vocabulary tokens ignored, counts times IDF, L2-normalised. A
// sequence with no known term yields the zero vector.
func (v *Vocabulary) Weigh(tokens []string) vector.Sparse {
	counts := make(map[int32]int)
	for _, token := range tokens {
		if idx, ok := v.lookup[token]; ok {
			counts[idx]++
		}
	}
	return vector.FromCounts(counts, v.IDF)
}

// smoothIDF is ln((1+n)/(1+df)) + 1, which stays positive for df <= n.
func smoothIDF(n, df int) float64 {
	return math.Log(float64(1+n)/float64(1+df)) + 1
}
