package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/novelnest/bookmatch/internal/catalog"
	"github.com/novelnest/bookmatch/internal/indexer/index"
	"github.com/novelnest/bookmatch/internal/searcher/cache"
	"github.com/novelnest/bookmatch/internal/searcher/recommender"
	"github.com/novelnest/bookmatch/pkg/logger"
	"github.com/novelnest/bookmatch/pkg/metrics"
)

type fieldsTokenizer struct{}

func (fieldsTokenizer) Tokenize(text string) []string { return strings.Fields(strings.ToLower(text)) }

type memStore struct{ data map[string]string }

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	return nil
}

func (m *memStore) FlushByPattern(_ context.Context, _ string) (int64, error) {
	n := int64(len(m.data))
	m.data = map[string]string{}
	return n, nil
}

var books = []catalog.Document{
	{ID: 1, Title: "Dragon Road", Author: "Li", TextFields: []string{"dragon sword quest", "wuxia"}},
	{ID: 2, Title: "Sword of Dawn", Author: "Wang", TextFields: []string{"sword dragon revenge", "wuxia"}},
	{ID: 3, Title: "Palace Nights", Author: "Zhao", TextFields: []string{"palace empress intrigue", "court"}},
	{ID: 4, Title: "Star Fleet", Author: "Chen", TextFields: []string{"starship galaxy war", "scifi"}},
	{ID: 5, Title: "The Empress", Author: "Sun", TextFields: []string{"empress palace court", "history"}},
}

func newServer(t *testing.T, qc *cache.QueryCache) *httptest.Server {
	t.Helper()
	store, err := catalog.NewMemoryStore(books)
	if err != nil {
		t.Fatal(err)
	}
	docs := make([]index.Document, len(books))
	for i, b := range books {
		docs[i] = index.Document{ID: b.ID, Text: b.Blob()}
	}
	idx, err := index.Build(context.Background(), docs, fieldsTokenizer{}, index.Options{BuildID: "test-build"})
	if err != nil {
		t.Fatal(err)
	}
	rec := recommender.New(idx, fieldsTokenizer{}, store, nil)
	mux := http.NewServeMux()
	New(rec, store, qc, 3, 4).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, body string) (int, []byte) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.Bytes()
}

func get(t *testing.T, srv *httptest.Server, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.Bytes()
}

func TestSimilarByTitle(t *testing.T) {
	srv := newServer(t, nil)
	status, body := post(t, srv, "/api/similar_by_title", `{"title":"  dragon road ","k":2}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %s", status, body)
	}
	var results []BookResult
	if err := json.Unmarshal(body, &results); err != nil {
		t.Fatalf("decoding %s: %v", body, err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	top := results[0]
	if top.BookID != 2 || top.Title != "Sword of Dawn" || top.Author != "Wang" {
		t.Errorf("top = %+v", top)
	}
	if top.Score <= 0 || len(top.Why) == 0 {
		t.Errorf("top lacks score or explanation: %+v", top)
	}
	for _, r := range results {
		if r.BookID == 1 {
			t.Error("query book recommended to itself")
		}
	}
}

func TestSimilarByText(t *testing.T) {
	srv := newServer(t, nil)
	status, body := post(t, srv, "/api/similar_by_text", `{"text":"empress palace"}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %s", status, body)
	}
	var results []BookResult
	if err := json.Unmarshal(body, &results); err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("default k gave %d results, want 3", len(results))
	}
	if results[0].BookID != 3 && results[0].BookID != 5 {
		t.Errorf("top = %+v", results[0])
	}
	if results[2].Why == nil {
		t.Error("why must be an array, not null")
	}
}

func TestSimilarByTextUnknownWords(t *testing.T) {
	srv := newServer(t, nil)
	for _, text := range []string{"zzz qqq", "侦察兵", "好"} {
		t.Run(text, func(t *testing.T) {
			status, body := post(t, srv, "/api/similar_by_text", `{"text":"`+text+`","k":2}`)
			if status != http.StatusOK {
				t.Fatalf("status = %d, body %s", status, body)
			}
			var results []BookResult
			if err := json.Unmarshal(body, &results); err != nil {
				t.Fatal(err)
			}
			if len(results) != 2 || results[0].BookID != 1 || results[1].BookID != 2 {
				t.Fatalf("results = %+v", results)
			}
			for _, r := range results {
				if r.Score != 0 {
					t.Errorf("score = %v, want 0", r.Score)
				}
			}
		})
	}
}

func TestSimilarByID(t *testing.T) {
	srv := newServer(t, nil)
	status, body := get(t, srv, "/api/v1/books/3/similar?k=50")
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %s", status, body)
	}
	var resp SimilarResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.BuildID != "test-build" || resp.QueryID != 3 {
		t.Errorf("envelope = %+v", resp)
	}
	if len(resp.Results) != 4 {
		t.Errorf("k clamped to maxK: got %d results, want 4", len(resp.Results))
	}
	if resp.Results[0].BookID != 5 {
		t.Errorf("top = %+v, want book 5", resp.Results[0])
	}
}

func TestErrors(t *testing.T) {
	srv := newServer(t, nil)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		msg    string
	}{
		{"empty title", http.MethodPost, "/api/similar_by_title", `{"title":"  "}`, 400, "title required"},
		{"missing title", http.MethodPost, "/api/similar_by_title", `{}`, 400, "title required"},
		{"unknown title", http.MethodPost, "/api/similar_by_title", `{"title":"nonexistent"}`, 404, ""},
		{"empty text", http.MethodPost, "/api/similar_by_text", `{"text":""}`, 400, "text required"},
		{"blank text", http.MethodPost, "/api/similar_by_text", `{"text":"   "}`, 400, "text required"},
		{"zero k", http.MethodPost, "/api/similar_by_text", `{"text":"dragon","k":0}`, 400, ""},
		{"negative k", http.MethodPost, "/api/similar_by_title", `{"title":"dragon","k":-2}`, 400, ""},
		{"bad json", http.MethodPost, "/api/similar_by_text", `{"text":`, 400, ""},
		{"unknown id", http.MethodGet, "/api/v1/books/99/similar", "", 404, ""},
		{"bad id", http.MethodGet, "/api/v1/books/abc/similar", "", 400, ""},
		{"bad k", http.MethodGet, "/api/v1/books/1/similar?k=x", "", 400, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var status int
			var body []byte
			if tt.method == http.MethodPost {
				status, body = post(t, srv, tt.path, tt.body)
			} else {
				status, body = get(t, srv, tt.path)
			}
			if status != tt.status {
				t.Fatalf("status = %d, want %d (%s)", status, tt.status, body)
			}
			var payload map[string]string
			if err := json.Unmarshal(body, &payload); err != nil {
				t.Fatalf("error body %s: %v", body, err)
			}
			if payload["error"] == "" {
				t.Error("missing error message")
			}
			if tt.msg != "" && payload["error"] != tt.msg {
				t.Errorf("error = %q, want %q", payload["error"], tt.msg)
			}
		})
	}
}

func TestIndexInfo(t *testing.T) {
	srv := newServer(t, nil)
	status, body := get(t, srv, "/api/v1/index")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var info map[string]any
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatal(err)
	}
	if info["build_id"] != "test-build" || info["documents"] != float64(5) {
		t.Errorf("info = %v", info)
	}
}

func TestCachedResponses(t *testing.T) {
	store := &memStore{data: map[string]string{}}
	qc := cache.New(store, time.Minute, metrics.New(prometheus.NewRegistry()))
	srv := newServer(t, qc)

	var first, second SimilarResponse
	for _, dst := range []*SimilarResponse{&first, &second} {
		status, body := get(t, srv, "/api/v1/books/1/similar?k=2")
		if status != http.StatusOK {
			t.Fatalf("status = %d, body %s", status, body)
		}
		if err := json.Unmarshal(body, dst); err != nil {
			t.Fatal(err)
		}
	}
	if first.CacheHit || !second.CacheHit {
		t.Errorf("cache_hit = %v then %v, want false then true", first.CacheHit, second.CacheHit)
	}
	if len(second.Results) != 2 || second.Results[0].BookID != first.Results[0].BookID {
		t.Errorf("cached results differ: %+v vs %+v", second.Results, first.Results)
	}
	if second.Results[0].Title == "" {
		t.Error("cached result not enriched with catalog fields")
	}

	status, body := get(t, srv, "/api/v1/cache/stats")
	var stats map[string]any
	if err := json.Unmarshal(body, &stats); err != nil || status != http.StatusOK {
		t.Fatalf("stats: %d %s", status, body)
	}
	if stats["hits"] != float64(1) {
		t.Errorf("stats = %v", stats)
	}

	if status, _ := post(t, srv, "/api/v1/cache/invalidate", ""); status != http.StatusOK {
		t.Errorf("invalidate status = %d", status)
	}
	if len(store.data) != 0 {
		t.Error("entries survived invalidation")
	}
}

func TestCacheDisabled(t *testing.T) {
	srv := newServer(t, nil)
	if status, _ := post(t, srv, "/api/v1/cache/invalidate", ""); status != http.StatusServiceUnavailable {
		t.Errorf("invalidate status = %d, want 503", status)
	}
}

func TestSimilarWarnsOnUncataloguedBook(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(logger.New(&logs, "info", "json"))
	t.Cleanup(func() { slog.SetDefault(prev) })

	docs := make([]index.Document, len(books))
	for i, b := range books {
		docs[i] = index.Document{ID: b.ID, Text: b.Blob()}
	}
	idx, err := index.Build(context.Background(), docs, fieldsTokenizer{}, index.Options{BuildID: "test-build"})
	if err != nil {
		t.Fatal(err)
	}
	partial, err := catalog.NewMemoryStore(books[:4])
	if err != nil {
		t.Fatal(err)
	}
	h := New(recommender.New(idx, fieldsTokenizer{}, partial, nil), partial, nil, 3, 4)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/books/3/similar?k=1", nil)
	req.SetPathValue("id", "3")
	rec := httptest.NewRecorder()
	h.SimilarByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp SimilarResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].BookID != 5 || resp.Results[0].Title != "" {
		t.Fatalf("results = %+v", resp.Results)
	}
	if !strings.Contains(logs.String(), "ranked books missing from catalog") {
		t.Errorf("no warning logged: %s", logs.String())
	}
}
