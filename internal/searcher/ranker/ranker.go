// Package ranker scores a query vector against every row of an index and
// returns a deterministic top-K.
package ranker

import (
	"sort"

	"github.com/novelnest/bookmatch/internal/indexer/index"
	"github.com/novelnest/bookmatch/internal/indexer/vector"
	apperrors "github.com/novelnest/bookmatch/pkg/errors"
)

// ScoredDoc is one ranked document and its cosine similarity to the query.
type ScoredDoc struct {
	DocID int64   `json:"doc_id"`
	Score float64 `json:"score"`
}

// Params bounds and filters a ranking.
type Params struct {
	// Limit is k; it must be positive.
	Limit int
	// ExcludeID never appears in the results when Exclude is set; a
	// document is not its own recommendation.
	ExcludeID int64
	Exclude   bool
}

// Rank computes the cosine similarity of query against every row. Both
// sides are unit vectors, so the score is a plain dot product. Results are
// sorted by score descending, ties by ascending document id, and hold
// min(Limit, eligible documents) entries.
func Rank(query vector.Sparse, idx *index.Index, params Params) ([]ScoredDoc, error) {
	if params.Limit <= 0 {
		return nil, apperrors.InvalidInputf("k must be a positive integer, got %d", params.Limit)
	}
	if idx == nil || idx.Len() == 0 {
		return []ScoredDoc{}, nil
	}

	if err := query.Validate(idx.Vocabulary().Size()); err != nil {
		return nil, apperrors.InvalidInputf("query vector does not fit the index: %v", err)
	}
	dense := make([]float64, idx.Vocabulary().Size())
	query.Scatter(dense)

	result := make([]ScoredDoc, 0, idx.Len())
	for i := 0; i < idx.Len(); i++ {
		id := idx.DocID(i)
		if params.Exclude && id == params.ExcludeID {
			continue
		}
		row, err := idx.Row(i)
		if err != nil {
			return nil, err
		}
		var score float64
		for j, term := range row.Indices {
			score += dense[term] * row.Values[j]
		}
		result = append(result, ScoredDoc{DocID: id, Score: score})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].DocID < result[j].DocID
	})
	if len(result) > params.Limit {
		result = result[:params.Limit]
	}
	return result, nil
}
