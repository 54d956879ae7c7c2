package index_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/novelnest/bookmatch/internal/indexer/index"
	"github.com/novelnest/bookmatch/internal/indexer/tokenizer/tokenizertest"
	apperrors "github.com/novelnest/bookmatch/pkg/errors"
)

// fieldsTokenizer splits on whitespace, which keeps expectations in these
// tests independent of dictionary segmentation.
type fieldsTokenizer struct{}

func (fieldsTokenizer) Tokenize(text string) []string { return strings.Fields(text) }

func buildDocs(texts ...string) []index.Document {
	docs := make([]index.Document, len(texts))
	for i, text := range texts {
		docs[i] = index.Document{ID: int64(i + 1), Text: text}
	}
	return docs
}

func TestBuildVocabularyOrderAndIDF(t *testing.T) {
	docs := buildDocs(
		"apple banana apple",
		"banana cherry",
		"cherry banana date",
	)
	idx, err := index.Build(context.Background(), docs, fieldsTokenizer{}, index.Options{Workers: 2})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	vocab := idx.Vocabulary()
	// banana 3, apple 2, cherry 2, date 1; apple < cherry breaks the tie.
	want := []string{"banana", "apple", "cherry", "date"}
	if !reflect.DeepEqual(vocab.Terms(), want) {
		t.Fatalf("Terms = %v, want %v", vocab.Terms(), want)
	}
	dfs := map[string]int{"banana": 3, "apple": 1, "cherry": 2, "date": 1}
	for term, df := range dfs {
		i, ok := vocab.Lookup(term)
		if !ok {
			t.Fatalf("term %q missing", term)
		}
		want := math.Log(4.0/float64(1+df)) + 1
		if math.Abs(vocab.IDF(i)-want) > 1e-12 {
			t.Errorf("idf(%s) = %v, want %v", term, vocab.IDF(i), want)
		}
		if vocab.IDF(i) <= 0 {
			t.Errorf("idf(%s) not positive", term)
		}
	}
	if idx.Len() != 3 || idx.DocID(0) != 1 || idx.DocID(2) != 3 {
		t.Errorf("rows/ids not in corpus order")
	}
}

func TestBuildRowsNormalized(t *testing.T) {
	docs := buildDocs("a b c a", "b d", "e e e")
	idx, err := index.Build(context.Background(), docs, fieldsTokenizer{}, index.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 0; i < idx.Len(); i++ {
		row, err := idx.Row(i)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(row.Norm()-1) > 1e-9 {
			t.Errorf("row %d norm = %v", i, row.Norm())
		}
		if math.Abs(row.Dot(row)-1) > 1e-9 {
			t.Errorf("row %d self similarity = %v", i, row.Dot(row))
		}
	}
}

func TestBuildMaxFeatures(t *testing.T) {
	docs := buildDocs("x x x y y z", "x y w", "v")
	idx, err := index.Build(context.Background(), docs, fieldsTokenizer{}, index.Options{MaxFeatures: 2})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := idx.Vocabulary().Terms(); !reflect.DeepEqual(got, []string{"x", "y"}) {
		t.Errorf("Terms = %v", got)
	}
	// "v" was cut from the vocabulary, so document 3 is the zero vector.
	row, _ := idx.Row(2)
	if !row.IsZero() {
		t.Errorf("row 2 = %+v, want zero vector", row)
	}
	if idx.Meta().MaxFeatures != 2 {
		t.Errorf("Meta.MaxFeatures = %d", idx.Meta().MaxFeatures)
	}
}

func TestBuildDeterministic(t *testing.T) {
	tok := tokenizertest.New(t)
	var texts []string
	for i := 0; i < 40; i++ {
		w := tokenizertest.Words
		texts = append(texts, fmt.Sprintf("%s%s%s，%s%s", w[i%len(w)], w[(i*3)%len(w)], w[(i*7)%len(w)], w[(i+5)%len(w)], w[i%len(w)]))
	}
	docs := buildDocs(texts...)

	a, err := index.Build(context.Background(), docs, tok, index.Options{Workers: 1})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b, err := index.Build(context.Background(), docs, tok, index.Options{Workers: 7})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !reflect.DeepEqual(a.Vocabulary().Terms(), b.Vocabulary().Terms()) {
		t.Fatal("vocabulary order differs between builds")
	}
	for i := 0; i < a.Vocabulary().Size(); i++ {
		if a.Vocabulary().IDF(int32(i)) != b.Vocabulary().IDF(int32(i)) {
			t.Fatalf("idf %d differs", i)
		}
	}
	for i := 0; i < a.Len(); i++ {
		ra, _ := a.Row(i)
		rb, _ := b.Row(i)
		if !reflect.DeepEqual(ra, rb) {
			t.Fatalf("row %d differs: %+v vs %+v", i, ra, rb)
		}
	}
}

func TestBuildErrors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		docs []index.Document
		want error
	}{
		{"empty corpus", nil, apperrors.ErrEmptyCorpus},
		{"no terms", buildDocs("", "  "), apperrors.ErrEmptyCorpus},
		{"zero id", []index.Document{{ID: 0, Text: "a"}}, apperrors.ErrCorruptCorpus},
		{"duplicate id", []index.Document{{ID: 4, Text: "a"}, {ID: 4, Text: "b"}}, apperrors.ErrCorruptCorpus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := index.Build(ctx, tt.docs, fieldsTokenizer{}, index.Options{})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := index.Build(ctx, buildDocs("a", "b"), fieldsTokenizer{}, index.Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestEncode(t *testing.T) {
	idx, err := index.Build(context.Background(), buildDocs("red green", "green blue", "blue blue"), fieldsTokenizer{}, index.Options{})
	if err != nil {
		t.Fatal(err)
	}
	q := idx.Encode([]string{"green", "purple", "green"})
	if q.Len() != 1 {
		t.Fatalf("Encode kept %d coordinates, want 1", q.Len())
	}
	if math.Abs(q.Norm()-1) > 1e-12 {
		t.Errorf("query norm = %v", q.Norm())
	}
	if oov := idx.Encode([]string{"purple", "orange"}); !oov.IsZero() {
		t.Errorf("all-OOV query = %+v, want zero", oov)
	}
	if empty := idx.Encode(nil); !empty.IsZero() {
		t.Errorf("empty query = %+v, want zero", empty)
	}
}

func TestRowAccess(t *testing.T) {
	idx, err := index.Build(context.Background(), []index.Document{{ID: 10, Text: "a b"}, {ID: 20, Text: "b c"}}, fieldsTokenizer{}, index.Options{BuildID: "fixed"})
	if err != nil {
		t.Fatal(err)
	}
	if idx.Meta().BuildID != "fixed" {
		t.Errorf("BuildID = %q", idx.Meta().BuildID)
	}
	if _, err := idx.Row(2); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("Row(2) err = %v", err)
	}
	if _, err := idx.Row(-1); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("Row(-1) err = %v", err)
	}
	if _, err := idx.RowByID(99); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("RowByID(99) err = %v", err)
	}
	pos, ok := idx.Position(20)
	if !ok || pos != 1 {
		t.Errorf("Position(20) = %d, %v", pos, ok)
	}
}

func TestNewVocabularyRejectsBadInput(t *testing.T) {
	if _, err := index.NewVocabulary([]string{"a", "a"}, []float64{1, 1}); err == nil {
		t.Error("duplicate terms accepted")
	}
	if _, err := index.NewVocabulary([]string{"a"}, []float64{0}); err == nil {
		t.Error("zero idf accepted")
	}
	if _, err := index.NewVocabulary([]string{"a"}, []float64{1, 2}); err == nil {
		t.Error("length mismatch accepted")
	}
}

func BenchmarkBuild(b *testing.B) {
	tok := tokenizertest.New(b)
	docs := make([]index.Document, 2000)
	for i := range docs {
		w := tokenizertest.Words
		docs[i] = index.Document{
			ID:   int64(i + 1),
			Text: strings.Repeat(w[i%len(w)]+w[(i*7)%len(w)]+w[(i*13)%len(w)], 5),
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := index.Build(context.Background(), docs, tok, index.Options{Workers: 4}); err != nil {
			b.Fatal(err)
		}
	}
}
