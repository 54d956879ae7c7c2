package segment

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"os"

	"github.com/novelnest/bookmatch/internal/indexer/index"
	"github.com/novelnest/bookmatch/internal/indexer/vector"
	apperrors "github.com/novelnest/bookmatch/pkg/errors"
)

// Load reads and fully validates an index file. Any problem with the file,
// from a missing path to a checksum mismatch or a broken matrix invariant,
// is reported as ErrIndexLoad.
func Load(path string) (*index.Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.WrapIndexLoad(err, "reading %s", path)
	}
	return Decode(data)
}

// Decode parses an in-memory index file.
func Decode(data []byte) (*index.Index, error) {
	if len(data) < HeaderSize+FooterSize {
		return nil, apperrors.IndexLoadf("file truncated: %d bytes", len(data))
	}
	h := decodeHeader(data[:HeaderSize])
	if h.Magic != MagicBytes {
		return nil, apperrors.IndexLoadf("bad magic bytes %x", h.Magic)
	}
	if h.Version != FormatVersion {
		return nil, apperrors.IndexLoadf("unsupported format version %d (want %d)", h.Version, FormatVersion)
	}
	size := int64(len(data))
	if h.MetaOffset != int64(HeaderSize) || h.MetaSize < 0 || h.VocabSize < 0 || h.RowsSize < 0 ||
		h.MetaSize > size || h.VocabSize > size || h.RowsSize > size {
		return nil, apperrors.IndexLoadf("corrupt header")
	}
	end := h.MetaOffset + h.MetaSize + h.VocabSize + h.RowsSize
	if end+int64(FooterSize) != size {
		return nil, apperrors.IndexLoadf("size mismatch: header describes %d bytes, file has %d", end+int64(FooterSize), size)
	}

	metaData := data[h.MetaOffset : h.MetaOffset+h.MetaSize]
	vocabData := data[h.MetaOffset+h.MetaSize : h.MetaOffset+h.MetaSize+h.VocabSize]
	rowsData := data[end-h.RowsSize : end]
	footer := data[end:]

	checks := []struct {
		name  string
		block []byte
		sum   uint32
	}{
		{"meta", metaData, binary.LittleEndian.Uint32(footer[0:4])},
		{"vocabulary", vocabData, binary.LittleEndian.Uint32(footer[4:8])},
		{"rows", rowsData, binary.LittleEndian.Uint32(footer[8:12])},
	}
	for _, c := range checks {
		if crc32.ChecksumIEEE(c.block) != c.sum {
			return nil, apperrors.IndexLoadf("%s block checksum mismatch", c.name)
		}
	}
	if docs := binary.LittleEndian.Uint32(footer[12:16]); docs != h.DocCount {
		return nil, apperrors.IndexLoadf("footer document count %d != header %d", docs, h.DocCount)
	}

	var meta index.Meta
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, apperrors.WrapIndexLoad(err, "parsing meta")
	}
	var entries []VocabEntry
	if err := json.Unmarshal(vocabData, &entries); err != nil {
		return nil, apperrors.WrapIndexLoad(err, "parsing vocabulary")
	}
	if len(entries) != int(h.TermCount) {
		return nil, apperrors.IndexLoadf("vocabulary has %d terms, header says %d", len(entries), h.TermCount)
	}
	var rows []RowEntry
	if err := json.Unmarshal(rowsData, &rows); err != nil {
		return nil, apperrors.WrapIndexLoad(err, "parsing rows")
	}
	if len(rows) != int(h.DocCount) || len(rows) == 0 {
		return nil, apperrors.IndexLoadf("index has %d rows, header says %d", len(rows), h.DocCount)
	}

	terms := make([]string, len(entries))
	idf := make([]float64, len(entries))
	for i, e := range entries {
		terms[i] = e.Term
		idf[i] = e.IDF
	}
	vocab, err := index.NewVocabulary(terms, idf)
	if err != nil {
		return nil, apperrors.WrapIndexLoad(err, "invalid vocabulary")
	}
	ids := make([]int64, len(rows))
	vecs := make([]vector.Sparse, len(rows))
	for i, r := range rows {
		ids[i] = r.DocID
		vecs[i] = r.Sparse
	}
	idx, err := index.New(meta, vocab, ids, vecs)
	if err != nil {
		return nil, apperrors.WrapIndexLoad(err, "invalid matrix")
	}
	return idx, nil
}
