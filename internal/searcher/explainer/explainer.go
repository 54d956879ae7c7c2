// Package explainer picks the shared high-weight terms that justify a
// recommendation.
package explainer

import (
	"sort"

	"github.com/novelnest/bookmatch/internal/indexer/index"
	"github.com/novelnest/bookmatch/internal/indexer/vector"
)

const (
	QueryTerms    = 8
	DocumentTerms = 12
	MaxTerms      = 5
)

// Explain returns up to MaxTerms terms found both among the QueryTerms
// heaviest coordinates of query and the DocumentTerms heaviest coordinates
// of doc. Terms come back in vocabulary order, not by weight.
func Explain(query, doc vector.Sparse, vocab *index.Vocabulary) []string {
	if vocab == nil {
		return nil
	}
	salient := make(map[int32]struct{}, QueryTerms)
	for _, i := range query.Top(QueryTerms) {
		salient[i] = struct{}{}
	}
	if len(salient) == 0 {
		return nil
	}
	var shared []int32
	for _, i := range doc.Top(DocumentTerms) {
		if _, ok := salient[i]; ok {
			shared = append(shared, i)
		}
	}
	if len(shared) == 0 {
		return nil
	}
	sort.Slice(shared, func(a, b int) bool { return shared[a] < shared[b] })
	if len(shared) > MaxTerms {
		shared = shared[:MaxTerms]
	}
	terms := make([]string, 0, len(shared))
	for _, i := range shared {
		if i < 0 || int(i) >= vocab.Size() {
			continue
		}
		terms = append(terms, vocab.Term(i))
	}
	return terms
}
