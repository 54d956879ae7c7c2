// Package segment persists an Index as a single checksummed .bmix file.
package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/novelnest/bookmatch/internal/indexer/index"
	"github.com/novelnest/bookmatch/internal/indexer/vector"
)

// MagicBytes identifies a valid .bmix index file ("BMIX").
const (
	MagicBytes    uint32 = 0x584D4942
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 16
)

// Header is the 64-byte header written at the start of every index file.
type Header struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	DocCount   uint32
	CreatedAt  int64
	MetaOffset int64
	MetaSize   int64
	VocabSize  int64
	RowsSize   int64
}

// VocabEntry is one vocabulary table row; array position is the vector
// index.
type VocabEntry struct {
	Term string  `json:"t"`
	IDF  float64 `json:"w"`
}

// RowEntry is one document row in sparse form.
type RowEntry struct {
	DocID int64 `json:"id"`
	vector.Sparse
}

// Writer serialises an Index into a single index file.
type Writer struct {
	path string
}

// NewWriter creates a Writer targeting path.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Write atomically replaces the index file: it writes to a .tmp sibling,
// syncs it and renames it over the target, so readers never observe a
// partially written index.
func (w *Writer) Write(idx *index.Index) (err error) {
	if idx == nil || idx.Len() == 0 {
		return fmt.Errorf("cannot write empty index")
	}
	metaData, err := json.Marshal(idx.Meta())
	if err != nil {
		return fmt.Errorf("marshaling meta: %w", err)
	}
	vocab := idx.Vocabulary()
	entries := make([]VocabEntry, vocab.Size())
	for i := range entries {
		entries[i] = VocabEntry{Term: vocab.Term(int32(i)), IDF: vocab.IDF(int32(i))}
	}
	vocabData, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshaling vocabulary: %w", err)
	}
	rows := make([]RowEntry, idx.Len())
	for i := range rows {
		row, err := idx.Row(i)
		if err != nil {
			return err
		}
		rows[i] = RowEntry{DocID: idx.DocID(i), Sparse: row}
	}
	rowsData, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshaling rows: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}
	tmpPath := w.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp index file: %w", err)
	}
	defer func() {
		f.Close()
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	header := Header{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		TermCount:  uint32(vocab.Size()),
		DocCount:   uint32(idx.Len()),
		CreatedAt:  idx.Meta().BuiltAt.Unix(),
		MetaOffset: int64(HeaderSize),
		MetaSize:   int64(len(metaData)),
		VocabSize:  int64(len(vocabData)),
		RowsSize:   int64(len(rowsData)),
	}
	if _, err := f.Write(encodeHeader(header)); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, block := range [][]byte{metaData, vocabData, rowsData} {
		if _, err := f.Write(block); err != nil {
			return fmt.Errorf("writing block: %w", err)
		}
	}
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(metaData))
	binary.LittleEndian.PutUint32(footer[4:8], crc32.ChecksumIEEE(vocabData))
	binary.LittleEndian.PutUint32(footer[8:12], crc32.ChecksumIEEE(rowsData))
	binary.LittleEndian.PutUint32(footer[12:16], header.DocCount)
	if _, err := f.Write(footer); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing index file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing index file: %w", err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return fmt.Errorf("renaming index file: %w", err)
	}
	return nil
}

func encodeHeader(h Header) []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.MetaOffset))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.MetaSize))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.VocabSize))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.RowsSize))
	return b
}

func decodeHeader(b []byte) Header {
	return Header{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		TermCount:  binary.LittleEndian.Uint32(b[8:12]),
		DocCount:   binary.LittleEndian.Uint32(b[12:16]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(b[16:24])),
		MetaOffset: int64(binary.LittleEndian.Uint64(b[24:32])),
		MetaSize:   int64(binary.LittleEndian.Uint64(b[32:40])),
		VocabSize:  int64(binary.LittleEndian.Uint64(b[40:48])),
		RowsSize:   int64(binary.LittleEndian.Uint64(b[48:56])),
	}
}
