package catalog

import (
	"context"
	"sync/atomic"
)

// CSVStore serves a catalog CSV from memory and can reread it while
// requests are in flight. Readers see either the old or the new snapshot,
// never a mix.
type CSVStore struct {
	path    string
	current atomic.Pointer[MemoryStore]
}

// NewCSVStore reads path once and serves it.
func NewCSVStore(path string) (*CSVStore, error) {
	s := &CSVStore{path: path}
	snapshot, err := LoadCSV(path)
	if err != nil {
		return nil, err
	}
	s.current.Store(snapshot)
	return s, nil
}

// Load rereads the file without installing it.
func (s *CSVStore) Load(ctx context.Context) (*MemoryStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadCSV(s.path)
}

// Replace installs snapshot for subsequent reads.
func (s *CSVStore) Replace(snapshot *MemoryStore) {
	s.current.Store(snapshot)
}

func (s *CSVStore) Documents(ctx context.Context) ([]Document, error) {
	return s.current.Load().Documents(ctx)
}

func (s *CSVStore) Get(ctx context.Context, ids []int64) (map[int64]Document, error) {
	return s.current.Load().Get(ctx, ids)
}

func (s *CSVStore) FindByTitle(ctx context.Context, title string) (Document, error) {
	return s.current.Load().FindByTitle(ctx, title)
}

func (s *CSVStore) Len() int {
	return s.current.Load().Len()
}
