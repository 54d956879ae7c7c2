package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	apperrors "github.com/novelnest/bookmatch/pkg/errors"
)

// TextColumns are the CSV columns joined into a document's text blob.
var TextColumns = []string{"intro", "tags"}

// LoadCSV reads a books CSV (id,title,author,intro,tags; header required,
// column order free) into a MemoryStore.
func LoadCSV(path string) (*MemoryStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog csv: %w", err)
	}
	defer f.Close()
	docs, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return NewMemoryStore(docs)
}

// ReadCSV parses CSV records into documents. Missing text cells become "".
func ReadCSV(r io.Reader) ([]Document, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: csv has no header", apperrors.ErrEmptyCorpus)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", apperrors.ErrCorruptCorpus, err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		cols[name] = i
	}
	for _, required := range []string{"id", "title"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: csv header lacks %q column", apperrors.ErrCorruptCorpus, required)
		}
	}
	cell := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var docs []Document
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrCorruptCorpus, err)
		}
		line, _ := cr.FieldPos(0)
		id, err := strconv.ParseInt(cell(record, "id"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: bad id %q", apperrors.ErrCorruptCorpus, line, cell(record, "id"))
		}
		fields := make([]string, len(TextColumns))
		for i, name := range TextColumns {
			fields[i] = cell(record, name)
		}
		docs = append(docs, Document{
			ID:         id,
			Title:      cell(record, "title"),
			Author:     cell(record, "author"),
			TextFields: fields,
		})
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: csv has no rows", apperrors.ErrEmptyCorpus)
	}
	return docs, nil
}
