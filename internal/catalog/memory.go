package catalog

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/novelnest/bookmatch/pkg/errors"
)

// MemoryStore keeps the whole catalog in memory in insertion order. It is
// read-only after construction and safe for concurrent use.
type MemoryStore struct {
	docs []Document
	byID map[int64]int
}

// NewMemoryStore validates docs and returns a store over them.
func NewMemoryStore(docs []Document) (*MemoryStore, error) {
	s := &MemoryStore{
		docs: make([]Document, len(docs)),
		byID: make(map[int64]int, len(docs)),
	}
	for i, d := range docs {
		if err := ValidateDocument(d); err != nil {
			return nil, fmt.Errorf("%w: document at position %d: %v", apperrors.ErrCorruptCorpus, i, err)
		}
		if _, dup := s.byID[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate document id %d", apperrors.ErrCorruptCorpus, d.ID)
		}
		d.TextFields = append([]string(nil), d.TextFields...)
		s.docs[i] = d
		s.byID[d.ID] = i
	}
	return s, nil
}

func (s *MemoryStore) Documents(_ context.Context) ([]Document, error) {
	return append([]Document(nil), s.docs...), nil
}

func (s *MemoryStore) Get(_ context.Context, ids []int64) (map[int64]Document, error) {
	out := make(map[int64]Document, len(ids))
	for _, id := range ids {
		if i, ok := s.byID[id]; ok {
			out[id] = s.docs[i]
		}
	}
	return out, nil
}

func (s *MemoryStore) FindByTitle(_ context.Context, title string) (Document, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Document{}, apperrors.InvalidInputf("title required")
	}
	for _, d := range s.docs {
		if titleMatches(d.Title, title) {
			return d, nil
		}
	}
	return Document{}, apperrors.NotFoundf("no book title contains %q", title)
}

// Len returns the number of documents.
func (s *MemoryStore) Len() int {
	return len(s.docs)
}
