// Package recommender answers the two query operations of the service:
// books similar to a known book, and books similar to free text. It owns
// the active index behind an atomic pointer so a rebuilt index can be
// swapped in while queries are running.
package recommender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/novelnest/bookmatch/internal/catalog"
	"github.com/novelnest/bookmatch/internal/indexer/index"
	"github.com/novelnest/bookmatch/internal/indexer/vector"
	"github.com/novelnest/bookmatch/internal/searcher/explainer"
	"github.com/novelnest/bookmatch/internal/searcher/ranker"
	apperrors "github.com/novelnest/bookmatch/pkg/errors"
	"github.com/novelnest/bookmatch/pkg/logger"
	"github.com/novelnest/bookmatch/pkg/metrics"
)

const (
	ModeDocument = "document"
	ModeText     = "text"
)

type Tokenizer interface {
	Tokenize(text string) []string
}

// TitleResolver finds a book by title. catalog.Store satisfies it.
type TitleResolver interface {
	FindByTitle(ctx context.Context, title string) (catalog.Document, error)
}

// Ref names the query book: by ID when ID is set, otherwise by Title.
type Ref struct {
	ID    int64
	Title string
}

type Recommendation struct {
	DocumentID int64    `json:"document_id"`
	Score      float64  `json:"score"`
	Terms      []string `json:"terms"`
}

// Result is one answered query. BuildID names the index that produced it.
type Result struct {
	BuildID         string           `json:"build_id"`
	QueryID         int64            `json:"query_id,omitempty"`
	Recommendations []Recommendation `json:"recommendations"`
}

type Recommender struct {
	current atomic.Pointer[index.Index]
	tok     Tokenizer
	titles  TitleResolver
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New serves idx, which must not be nil. titles may be nil when title
// lookups are not needed; m may be nil to disable metrics.
func New(idx *index.Index, tok Tokenizer, titles TitleResolver, m *metrics.Metrics) *Recommender {
	r := &Recommender{
		tok:     tok,
		titles:  titles,
		metrics: m,
		logger:  slog.Default().With("component", "recommender"),
	}
	r.current.Store(idx)
	m.SetIndexSize(idx.Len(), idx.Vocabulary().Size())
	return r
}

// Index returns the index queries currently run against.
func (r *Recommender) Index() *index.Index {
	return r.current.Load()
}

// Swap publishes idx to subsequent queries and returns the previous index.
// Queries already running finish on the index they started with.
func (r *Recommender) Swap(idx *index.Index) *index.Index {
	if idx == nil {
		return r.current.Load()
	}
	old := r.current.Swap(idx)
	r.metrics.SetIndexSize(idx.Len(), idx.Vocabulary().Size())
	r.logger.Info("index swapped",
		"build_id", idx.Meta().BuildID,
		"previous_build_id", old.Meta().BuildID,
		"docs", idx.Len(),
		"terms", idx.Vocabulary().Size(),
	)
	return old
}

// SimilarToDocument ranks the index against the row of the referenced book.
// The book itself is never part of its results.
func (r *Recommender) SimilarToDocument(ctx context.Context, ref Ref, k int) (res *Result, err error) {
	start := time.Now()
	defer func() { r.observe(ModeDocument, start, res, err) }()

	if k <= 0 {
		return nil, apperrors.InvalidInputf("k must be a positive integer, got %d", k)
	}
	idx := r.current.Load()
	id, err := r.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	query, err := idx.RowByID(id)
	if err != nil {
		return nil, err
	}
	res, err = r.rank(ctx, idx, query, ranker.Params{Limit: k, Exclude: true, ExcludeID: id})
	if err != nil {
		return nil, err
	}
	res.QueryID = id
	return res, nil
}

// SimilarToText ranks the index against free text. Only blank text is
// rejected; text that yields no known terms scores 0 against every book.
func (r *Recommender) SimilarToText(ctx context.Context, text string, k int) (res *Result, err error) {
	start := time.Now()
	defer func() { r.observe(ModeText, start, res, err) }()

	if k <= 0 {
		return nil, apperrors.InvalidInputf("k must be a positive integer, got %d", k)
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.InvalidInputf("text required")
	}
	tokens := r.tok.Tokenize(text)
	idx := r.current.Load()
	query := idx.Encode(tokens)
	if query.IsZero() {
		logger.FromContext(ctx).Debug("query has no in-vocabulary terms", "tokens", len(tokens))
	}
	return r.rank(ctx, idx, query, ranker.Params{Limit: k})
}

func (r *Recommender) resolve(ctx context.Context, ref Ref) (int64, error) {
	if ref.ID != 0 {
		if ref.ID < 0 {
			return 0, apperrors.InvalidInputf("book id must be positive, got %d", ref.ID)
		}
		return ref.ID, nil
	}
	title := strings.TrimSpace(ref.Title)
	if title == "" {
		return 0, apperrors.InvalidInputf("title required")
	}
	if r.titles == nil {
		return 0, fmt.Errorf("%w: title lookup is not configured", apperrors.ErrInternal)
	}
	doc, err := r.titles.FindByTitle(ctx, title)
	if err != nil {
		return 0, err
	}
	return doc.ID, nil
}

func (r *Recommender) rank(ctx context.Context, idx *index.Index, query vector.Sparse, params ranker.Params) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scored, err := ranker.Rank(query, idx, params)
	if err != nil {
		return nil, err
	}
	vocab := idx.Vocabulary()
	recs := make([]Recommendation, len(scored))
	for i, s := range scored {
		row, err := idx.RowByID(s.DocID)
		if err != nil {
			return nil, fmt.Errorf("%w: ranked document %d has no row", apperrors.ErrInternal, s.DocID)
		}
		terms := explainer.Explain(query, row, vocab)
		if terms == nil {
			terms = []string{}
		}
		recs[i] = Recommendation{DocumentID: s.DocID, Score: s.Score, Terms: terms}
	}
	return &Result{BuildID: idx.Meta().BuildID, Recommendations: recs}, nil
}

func (r *Recommender) observe(mode string, start time.Time, res *Result, err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecommendationsTotal.WithLabelValues(mode, outcome(err)).Inc()
	r.metrics.RecommendationLatency.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if res != nil {
		r.metrics.RecommendationResults.Observe(float64(len(res.Recommendations)))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperrors.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
