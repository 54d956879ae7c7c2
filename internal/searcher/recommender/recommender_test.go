package recommender

import (
	"context"
	"errors"
	"math"
	"reflect"
	"slices"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/novelnest/bookmatch/internal/catalog"
	"github.com/novelnest/bookmatch/internal/indexer/index"
	"github.com/novelnest/bookmatch/internal/indexer/tokenizer"
	"github.com/novelnest/bookmatch/internal/indexer/tokenizer/tokenizertest"
	apperrors "github.com/novelnest/bookmatch/pkg/errors"
	"github.com/novelnest/bookmatch/pkg/metrics"
)

var scenario = []catalog.Document{
	{ID: 1, Title: "长安权谋录", Author: "甲", TextFields: []string{"古言权谋，宫廷复仇", "古言"}},
	{ID: 2, Title: "江湖夜雨", Author: "乙", TextFields: []string{"古言权谋，江湖侠客", "武侠"}},
	{ID: 3, Title: "星河尽头", Author: "丙", TextFields: []string{"星河宇宙，机甲未来", "科幻"}},
	{ID: 4, Title: "校园往事", Author: "丁", TextFields: []string{"校园青春，都市职场", "青春"}},
	{ID: 5, Title: "雾中案", Author: "戊", TextFields: []string{"悬疑推理，侦探案件", "推理"}},
}

type fixture struct {
	rec     *Recommender
	store   *catalog.MemoryStore
	tok     *tokenizer.Tokenizer
	metrics *metrics.Metrics
}

func buildIndex(t *testing.T, tok index.Tokenizer, docs []catalog.Document, buildID string) *index.Index {
	t.Helper()
	in := make([]index.Document, len(docs))
	for i, d := range docs {
		in[i] = index.Document{ID: d.ID, Text: d.Blob()}
	}
	idx, err := index.Build(context.Background(), in, tok, index.Options{Workers: 2, BuildID: buildID})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return idx
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tok := tokenizertest.New(t)
	store, err := catalog.NewMemoryStore(scenario)
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.New(prometheus.NewRegistry())
	return &fixture{
		rec:     New(buildIndex(t, tok, scenario, "build-1"), tok, store, m),
		store:   store,
		tok:     tok,
		metrics: m,
	}
}

func TestSimilarToDocumentSharedTerms(t *testing.T) {
	f := newFixture(t)
	res, err := f.rec.SimilarToDocument(context.Background(), Ref{Title: "长安权谋"}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if res.QueryID != 1 || res.BuildID != "build-1" {
		t.Errorf("QueryID = %d, BuildID = %q", res.QueryID, res.BuildID)
	}
	if len(res.Recommendations) != 3 {
		t.Fatalf("got %d recommendations", len(res.Recommendations))
	}
	top := res.Recommendations[0]
	if top.DocumentID != 2 {
		t.Fatalf("top = %d, want 2: %+v", top.DocumentID, res.Recommendations)
	}
	if top.Score <= 0 {
		t.Errorf("top score = %v", top.Score)
	}
	for _, want := range []string{"古言", "权谋"} {
		if !slices.Contains(top.Terms, want) {
			t.Errorf("explanation %v lacks %q", top.Terms, want)
		}
	}
	for _, r := range res.Recommendations {
		if r.DocumentID == 1 {
			t.Error("query book recommended to itself")
		}
	}
	for _, r := range res.Recommendations[1:] {
		if r.Score != 0 || len(r.Terms) != 0 {
			t.Errorf("unrelated book %d scored %v with %v", r.DocumentID, r.Score, r.Terms)
		}
	}
}

func TestSimilarToDocumentByID(t *testing.T) {
	f := newFixture(t)
	byID, err := f.rec.SimilarToDocument(context.Background(), Ref{ID: 2}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if byID.Recommendations[0].DocumentID != 1 {
		t.Errorf("top = %+v, want book 1", byID.Recommendations[0])
	}
}

func TestSimilarToTextIncludesSource(t *testing.T) {
	f := newFixture(t)
	res, err := f.rec.SimilarToText(context.Background(), scenario[0].Blob(), 5)
	if err != nil {
		t.Fatal(err)
	}
	got := res.Recommendations
	if len(got) != 5 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].DocumentID != 1 || math.Abs(got[0].Score-1) > 1e-9 {
		t.Errorf("self match = %+v, want book 1 with score 1", got[0])
	}
	if got[1].DocumentID != 2 {
		t.Errorf("second = %+v, want book 2", got[1])
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("scores increase at %d", i)
		}
	}
}

func TestSimilarToTextOutOfVocabulary(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		text string
	}{
		{"unknown latin words", "Harry Potter wizard"},
		{"chinese word missing from dictionary", "侦察兵"},
		{"sentence of single characters", "一个少女在深宫中步步为营"},
		{"single character", "好"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.rec.SimilarToText(context.Background(), tt.text, 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(res.Recommendations) != len(scenario) {
				t.Fatalf("len = %d, want %d", len(res.Recommendations), len(scenario))
			}
			for i, r := range res.Recommendations {
				if r.Score != 0 {
					t.Errorf("score = %v, want exactly 0", r.Score)
				}
				if r.DocumentID != int64(i+1) {
					t.Errorf("position %d = %d, ties must order by id", i, r.DocumentID)
				}
				if r.Terms == nil || len(r.Terms) != 0 {
					t.Errorf("terms = %#v, want empty", r.Terms)
				}
			}
		})
	}
}

func TestErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"empty text", func() error { _, err := f.rec.SimilarToText(ctx, "", 5); return err }, apperrors.ErrInvalidInput},
		{"whitespace text", func() error { _, err := f.rec.SimilarToText(ctx, " \t\n", 5); return err }, apperrors.ErrInvalidInput},
		{"zero k", func() error { _, err := f.rec.SimilarToText(ctx, "古言", 0); return err }, apperrors.ErrInvalidInput},
		{"negative k", func() error { _, err := f.rec.SimilarToDocument(ctx, Ref{ID: 1}, -3); return err }, apperrors.ErrInvalidInput},
		{"unknown title", func() error { _, err := f.rec.SimilarToDocument(ctx, Ref{Title: "no such title"}, 5); return err }, apperrors.ErrNotFound},
		{"unknown id", func() error { _, err := f.rec.SimilarToDocument(ctx, Ref{ID: 404}, 5); return err }, apperrors.ErrNotFound},
		{"empty ref", func() error { _, err := f.rec.SimilarToDocument(ctx, Ref{}, 5); return err }, apperrors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if got := testutil.ToFloat64(f.metrics.RecommendationsTotal.WithLabelValues(ModeDocument, "not_found")); got != 2 {
		t.Errorf("not_found counter = %v, want 2", got)
	}
}

func TestCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.rec.SimilarToText(ctx, "古言", 3); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestSwap(t *testing.T) {
	f := newFixture(t)
	extended := append(slices.Clone(scenario), catalog.Document{
		ID: 6, Title: "权谋新篇", TextFields: []string{"古言权谋，宫廷朝堂", ""},
	})
	next := buildIndex(t, f.tok, extended, "build-2")

	old := f.rec.Swap(next)
	if old.Meta().BuildID != "build-1" || f.rec.Index() != next {
		t.Fatalf("Swap did not publish the new index")
	}
	if got := testutil.ToFloat64(f.metrics.IndexDocuments); got != 6 {
		t.Errorf("index_documents = %v", got)
	}
	res, err := f.rec.SimilarToDocument(context.Background(), Ref{ID: 1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.BuildID != "build-2" || res.Recommendations[0].DocumentID != 6 {
		t.Errorf("after swap: %+v", res)
	}
	if f.rec.Swap(nil) != next {
		t.Error("Swap(nil) replaced the index")
	}
}

func TestConcurrentQueriesDuringSwap(t *testing.T) {
	f := newFixture(t)
	a := f.rec.Index()
	b := buildIndex(t, f.tok, scenario, "build-b")
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				res, err := f.rec.SimilarToDocument(context.Background(), Ref{ID: 1}, 2)
				if err != nil {
					t.Error(err)
					return
				}
				if res.Recommendations[0].DocumentID != 2 {
					t.Errorf("top = %d", res.Recommendations[0].DocumentID)
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			f.rec.Swap(b)
		} else {
			f.rec.Swap(a)
		}
	}
	wg.Wait()
}

func TestOutcome(t *testing.T) {
	got := []string{
		outcome(nil),
		outcome(apperrors.InvalidInputf("x")),
		outcome(apperrors.NotFoundf("x")),
		outcome(errors.New("boom")),
	}
	if want := []string{"ok", "invalid", "not_found", "error"}; !reflect.DeepEqual(got, want) {
		t.Errorf("outcome = %v, want %v", got, want)
	}
}
