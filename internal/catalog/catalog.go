// Package catalog owns the book records the recommender ranks: where they
// come from (memory, CSV, PostgreSQL), how they are validated and how they
// are looked up by id or title after ranking.
package catalog

import (
	"context"
	"strings"
)

// Document is one book. TextFields are the fields that feed the index, in
// order; for the book corpus that is [intro, tags].
type Document struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	Author     string   `json:"author"`
	TextFields []string `json:"text_fields"`
}

// Blob is the text the tokenizer sees: the text fields joined by a space.
func (d Document) Blob() string {
	return strings.Join(d.TextFields, " ")
}

// Store is the read side of the catalog.
type Store interface {
	// Documents returns every document in catalog order.
	Documents(ctx context.Context) ([]Document, error)
	// Get returns the documents with the given ids; unknown ids are
	// absent from the map.
	Get(ctx context.Context, ids []int64) (map[int64]Document, error)
	// FindByTitle returns the first document, in catalog order, whose
	// title contains title case-insensitively, or ErrNotFound.
	FindByTitle(ctx context.Context, title string) (Document, error)
}

func titleMatches(title, query string) bool {
	return strings.Contains(strings.ToLower(title), strings.ToLower(query))
}
