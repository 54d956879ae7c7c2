package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/novelnest/bookmatch/internal/indexer/vector"
	apperrors "github.com/novelnest/bookmatch/pkg/errors"
)

// DefaultMaxFeatures caps the vocabulary when Options leaves it unset.
const DefaultMaxFeatures = 20000

// Tokenizer is the text-to-terms step the builder depends on.
type Tokenizer interface {
	Tokenize(text string) []string
}

// Document is one corpus entry reduced to its id and text blob.
type Document struct {
	ID   int64
	Text string
}

// Options controls a build.
type Options struct {
	// MaxFeatures keeps at most this many terms, most frequent first.
	// Zero means DefaultMaxFeatures; negative means no cap.
	MaxFeatures int
	// Workers is the number of goroutines counting terms.
	Workers int
	// BuildID overrides the generated build id.
	BuildID string
}

type partialCounts struct {
	tf map[string]int
	df map[string]int
}

// Build tokenizes the corpus, selects the vocabulary, computes smoothed IDF
// and returns the frozen index. Documents keep their input order as rows.
func Build(ctx context.Context, docs []Document, tok Tokenizer, opts Options) (*Index, error) {
	logger := slog.Default().With("component", "index-builder")
	start := time.Now()

	if len(docs) == 0 {
		return nil, fmt.Errorf("building index: %w", apperrors.ErrEmptyCorpus)
	}
	ids := make([]int64, len(docs))
	seen := make(map[int64]struct{}, len(docs))
	for i, d := range docs {
		if d.ID <= 0 {
			return nil, fmt.Errorf("building index: %w: document at position %d has id %d", apperrors.ErrCorruptCorpus, i, d.ID)
		}
		if _, dup := seen[d.ID]; dup {
			return nil, fmt.Errorf("building index: %w: duplicate document id %d", apperrors.ErrCorruptCorpus, d.ID)
		}
		seen[d.ID] = struct{}{}
		ids[i] = d.ID
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(docs) {
		workers = len(docs)
	}

	// Each worker owns a disjoint slice of counts and its own partial
	// totals; the totals are merged once after the pool drains.
	counts := make([]map[string]int, len(docs))
	partials := make([]partialCounts, workers)
	chunk := (len(docs) + workers - 1) / workers
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, len(docs))
		if lo >= hi {
			partials[w] = partialCounts{tf: map[string]int{}, df: map[string]int{}}
			continue
		}
		g.Go(func() error {
			p := partialCounts{tf: make(map[string]int), df: make(map[string]int)}
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				tc := make(map[string]int)
				for _, term := range tok.Tokenize(docs[i].Text) {
					tc[term]++
				}
				counts[i] = tc
				for term, c := range tc {
					p.tf[term] += c
					p.df[term]++
				}
			}
			partials[w] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("counting terms: %w", err)
	}

	tf := make(map[string]int)
	df := make(map[string]int)
	for _, p := range partials {
		for term, c := range p.tf {
			tf[term] += c
		}
		for term, c := range p.df {
			df[term] += c
		}
	}
	if len(tf) == 0 {
		return nil, fmt.Errorf("building index: %w: no terms survived tokenization", apperrors.ErrEmptyCorpus)
	}

	terms := selectTerms(tf, opts.MaxFeatures)
	weights := make([]float64, len(terms))
	for i, term := range terms {
		weights[i] = smoothIDF(len(docs), df[term])
	}
	vocab, err := NewVocabulary(terms, weights)
	if err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}

	rows := make([]vector.Sparse, len(docs))
	zeroRows := 0
	for i, tc := range counts {
		restricted := make(map[int32]int, len(tc))
		for term, c := range tc {
			if idx, ok := vocab.Lookup(term); ok {
				restricted[idx] = c
			}
		}
		rows[i] = vector.FromCounts(restricted, vocab.IDF)
		if rows[i].Len() == 0 {
			zeroRows++
			logger.Debug("document has no in-vocabulary terms", "doc_id", docs[i].ID)
		}
	}

	maxFeatures := opts.MaxFeatures
	if maxFeatures == 0 {
		maxFeatures = DefaultMaxFeatures
	}
	meta := Meta{
		BuildID:     opts.BuildID,
		BuiltAt:     time.Now().UTC(),
		MaxFeatures: maxFeatures,
	}
	if meta.BuildID == "" {
		meta.BuildID = uuid.NewString()
	}
	idx, err := New(meta, vocab, ids, rows)
	if err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}
	logger.Info("index built",
		"build_id", meta.BuildID,
		"docs", len(docs),
		"terms", vocab.Size(),
		"distinct_terms", len(tf),
		"zero_rows", zeroRows,
		"workers", workers,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return idx, nil
}

// selectTerms orders terms by total frequency, highest first, ties by byte
// order, and keeps at most maxFeatures of them.
func selectTerms(tf map[string]int, maxFeatures int) []string {
	terms := make([]string, 0, len(tf))
	for term := range tf {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if tf[terms[i]] != tf[terms[j]] {
			return tf[terms[i]] > tf[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if maxFeatures == 0 {
		maxFeatures = DefaultMaxFeatures
	}
	if maxFeatures > 0 && len(terms) > maxFeatures {
		terms = terms[:maxFeatures]
	}
	return terms
}
