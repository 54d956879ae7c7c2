package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/novelnest/bookmatch/internal/catalog"
	"github.com/novelnest/bookmatch/internal/indexer/index"
	"github.com/novelnest/bookmatch/internal/searcher/cache"
	"github.com/novelnest/bookmatch/internal/searcher/recommender"
	apperrors "github.com/novelnest/bookmatch/pkg/errors"
	"github.com/novelnest/bookmatch/pkg/logger"
)

const maxBodyBytes = 1 << 20

type Recommender interface {
	SimilarToDocument(ctx context.Context, ref recommender.Ref, k int) (*recommender.Result, error)
	SimilarToText(ctx context.Context, text string, k int) (*recommender.Result, error)
	Index() *index.Index
}

// Books enriches ranked ids with display fields.
type Books interface {
	Get(ctx context.Context, ids []int64) (map[int64]catalog.Document, error)
}

// BookResult is one item of a recommendation response.
type BookResult struct {
	BookID int64    `json:"book_id"`
	Title  string   `json:"title"`
	Author string   `json:"author"`
	Score  float64  `json:"score"`
	Why    []string `json:"why"`
}

// SimilarResponse is the envelope of the v1 endpoints.
type SimilarResponse struct {
	BuildID  string       `json:"build_id"`
	QueryID  int64        `json:"query_id,omitempty"`
	Results  []BookResult `json:"results"`
	CacheHit bool         `json:"cache_hit"`
}

type titleRequest struct {
	Title string `json:"title"`
	K     *int   `json:"k"`
}

type textRequest struct {
	Text string `json:"text"`
	K    *int   `json:"k"`
}

type Handler struct {
	rec      Recommender
	books    Books
	cache    *cache.QueryCache
	defaultK int
	maxK     int
	logger   *slog.Logger
}

// New wires the HTTP surface. queryCache may be nil.
func New(rec Recommender, books Books, queryCache *cache.QueryCache, defaultK, maxK int) *Handler {
	return &Handler{
		rec:      rec,
		books:    books,
		cache:    queryCache,
		defaultK: defaultK,
		maxK:     maxK,
		logger:   slog.Default().With("component", "recommend-handler"),
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/similar_by_title", h.SimilarByTitle)
	mux.HandleFunc("POST /api/similar_by_text", h.SimilarByText)
	mux.HandleFunc("GET /api/v1/books/{id}/similar", h.SimilarByID)
	mux.HandleFunc("GET /api/v1/index", h.IndexInfo)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// SimilarByTitle answers {title, k} with a bare result array.
func (h *Handler) SimilarByTitle(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		h.writeError(w, r, apperrors.InvalidInputf("title required"))
		return
	}
	k, err := h.limit(req.K)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.similar(r.Context(), "title", title, k, func() (*recommender.Result, error) {
		return h.rec.SimilarToDocument(r.Context(), recommender.Ref{Title: title}, k)
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp.Results)
}

// SimilarByText answers {text, k} with a bare result array.
func (h *Handler) SimilarByText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		h.writeError(w, r, apperrors.InvalidInputf("text required"))
		return
	}
	k, err := h.limit(req.K)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.similar(r.Context(), recommender.ModeText, text, k, func() (*recommender.Result, error) {
		return h.rec.SimilarToText(r.Context(), text, k)
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp.Results)
}

func (h *Handler) SimilarByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		h.writeError(w, r, apperrors.InvalidInputf("book id must be a positive integer"))
		return
	}
	var requested *int
	if raw := r.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, apperrors.InvalidInputf("k must be a positive integer"))
			return
		}
		requested = &parsed
	}
	k, err := h.limit(requested)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.similar(r.Context(), "id", strconv.FormatInt(id, 10), k, func() (*recommender.Result, error) {
		return h.rec.SimilarToDocument(r.Context(), recommender.Ref{ID: id}, k)
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) IndexInfo(w http.ResponseWriter, r *http.Request) {
	idx := h.rec.Index()
	meta := idx.Meta()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"build_id":     meta.BuildID,
		"built_at":     meta.BuiltAt,
		"max_features": meta.MaxFeatures,
		"documents":    idx.Len(),
		"terms":        idx.Vocabulary().Size(),
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "caching is disabled"})
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// similar runs compute through the cache and joins the ranked ids with
// catalog fields.
func (h *Handler) similar(
	ctx context.Context,
	mode, query string,
	k int,
	compute func() (*recommender.Result, error),
) (*SimilarResponse, error) {
	start := time.Now()
	key := cache.Key{BuildID: h.rec.Index().Meta().BuildID, Mode: mode, Query: query, K: k}
	result, hit, err := h.cache.GetOrCompute(ctx, key, compute)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(result.Recommendations))
	for i, rec := range result.Recommendations {
		ids[i] = rec.DocumentID
	}
	docs, err := h.books.Get(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading book details: %w", err)
	}

	items := make([]BookResult, len(result.Recommendations))
	var missing []int64
	for i, rec := range result.Recommendations {
		doc, ok := docs[rec.DocumentID]
		if !ok {
			missing = append(missing, rec.DocumentID)
		}
		items[i] = BookResult{
			BookID: rec.DocumentID,
			Title:  doc.Title,
			Author: doc.Author,
			Score:  rec.Score,
			Why:    rec.Terms,
		}
	}

	if len(missing) > 0 {
		logger.FromContext(ctx).Warn("ranked books missing from catalog",
			"build_id", result.BuildID,
			"book_ids", missing,
		)
	}

	logger.FromContext(ctx).Info("recommendation served",
		"mode", mode,
		"k", k,
		"returned", len(items),
		"cache_hit", hit,
		"build_id", result.BuildID,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return &SimilarResponse{
		BuildID:  result.BuildID,
		QueryID:  result.QueryID,
		Results:  items,
		CacheHit: hit,
	}, nil
}

// limit applies the default and the ceiling to a requested k.
func (h *Handler) limit(requested *int) (int, error) {
	if requested == nil {
		return h.defaultK, nil
	}
	k := *requested
	if k < 1 {
		return 0, apperrors.InvalidInputf("k must be a positive integer, got %d", k)
	}
	if k > h.maxK {
		k = h.maxK
	}
	return k, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return apperrors.InvalidInputf("invalid request body: %v", err)
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err onto a status code. Client errors echo their message;
// server errors are logged and answered generically.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := http.StatusText(status)
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		message = appErr.Message
	case status < http.StatusInternalServerError:
		message = err.Error()
	default:
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
