// Package index holds the term-weighted document matrix: a frozen
// vocabulary with IDF weights and one L2-normalised sparse row per
// document. An Index is immutable once built or loaded and may be shared by
// any number of concurrent readers.
package index

import (
	"fmt"
	"math"
	"time"

	"github.com/novelnest/bookmatch/internal/indexer/vector"
	apperrors "github.com/novelnest/bookmatch/pkg/errors"
)

// Meta describes how and when an index was produced.
type Meta struct {
	BuildID     string    `json:"build_id"`
	BuiltAt     time.Time `json:"built_at"`
	MaxFeatures int       `json:"max_features"`
}

// normTolerance bounds how far a non-zero row's L2 norm may stray from 1.
const normTolerance = 1e-6

// Index is row i <-> document i over one Vocabulary.
type Index struct {
	meta      Meta
	vocab     *Vocabulary
	ids       []int64
	rows      []vector.Sparse
	positions map[int64]int
}

// New validates the matrix invariants and freezes the index. ids and rows
// are retained, not copied; callers must not modify them afterwards.
func New(meta Meta, vocab *Vocabulary, ids []int64, rows []vector.Sparse) (*Index, error) {
	if vocab == nil {
		return nil, fmt.Errorf("index: nil vocabulary")
	}
	if len(ids) != len(rows) {
		return nil, fmt.Errorf("index: %d document ids but %d rows", len(ids), len(rows))
	}
	idx := &Index{
		meta:      meta,
		vocab:     vocab,
		ids:       ids,
		rows:      rows,
		positions: make(map[int64]int, len(ids)),
	}
	for i, id := range ids {
		if _, dup := idx.positions[id]; dup {
			return nil, fmt.Errorf("index: duplicate document id %d", id)
		}
		idx.positions[id] = i
		if err := rows[i].Validate(vocab.Size()); err != nil {
			return nil, fmt.Errorf("index: row %d (document %d): %w", i, id, err)
		}
		if !rows[i].IsZero() {
			if norm := rows[i].Norm(); math.Abs(norm-1) > normTolerance {
				return nil, fmt.Errorf("index: row %d (document %d) has norm %g, want 1", i, id, norm)
			}
		}
	}
	return idx, nil
}

// Meta returns the build metadata.
func (x *Index) Meta() Meta {
	return x.meta
}

// Vocabulary returns the shared term table.
func (x *Index) Vocabulary() *Vocabulary {
	return x.vocab
}

// Len returns the number of documents.
func (x *Index) Len() int {
	return len(x.ids)
}

// DocID returns the document id of row i.
func (x *Index) DocID(i int) int64 {
	return x.ids[i]
}

// Row returns row i, or ErrInvalidInput when i is out of range.
func (x *Index) Row(i int) (vector.Sparse, error) {
	if i < 0 || i >= len(x.rows) {
		return vector.Sparse{}, apperrors.InvalidInputf("row %d out of range [0,%d)", i, len(x.rows))
	}
	return x.rows[i], nil
}

// Position returns the row holding document id.
func (x *Index) Position(id int64) (int, bool) {
	i, ok := x.positions[id]
	return i, ok
}

// RowByID returns the row of document id, or ErrNotFound.
func (x *Index) RowByID(id int64) (vector.Sparse, error) {
	i, ok := x.positions[id]
	if !ok {
		return vector.Sparse{}, apperrors.NotFoundf("document %d is not indexed", id)
	}
	return x.rows[i], nil
}

// Encode maps tokens into this index's vector space.
func (x *Index) Encode(tokens []string) vector.Sparse {
	return x.vocab.Weigh(tokens)
}
