// Package dataset reads MIMIC-style note files and code descriptions into the
// index form the classifiers consume.
package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"icdcode/model"
	"icdcode/vocab"
)

const (
	ColumnID     = "HADM_ID"
	ColumnText   = "TEXT"
	ColumnLabels = "LABELS"

	labelSep = ";"
)

var ErrMissingColumn = errors.New("dataset: missing column")

// Document is one note with its token indices and assigned label indices.
type Document struct {
	ID     string
	Tokens []int
	Labels []int
}

// Reader turns CSV rows into documents against a fixed vocabulary and label
// set.
type Reader struct {
	vocab  *vocab.Vocabulary
	labels *vocab.LabelSet
	// MaxLength truncates documents when positive.
	MaxLength int
	log       *zerolog.Logger
}

func NewReader(v *vocab.Vocabulary, ls *vocab.LabelSet, logger *zerolog.Logger) *Reader {
	if logger == nil {
		logger = &log.Logger
	}
	return &Reader{vocab: v, labels: ls, log: logger}
}

// Load reads the file at path.
func (r *Reader) Load(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open notes")
	}
	defer f.Close()

	docs, err := r.Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read notes %s", path)
	}
	return docs, nil
}

// Read parses a CSV with a header row naming at least TEXT and LABELS. Text is
// split on whitespace; labels are separated by ';'. Codes outside the label
// set are dropped.
func (r *Reader) Read(in io.Reader) ([]Document, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.Wrap(ErrMissingColumn, "empty file")
	}
	if err != nil {
		return nil, err
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	text, ok := cols[ColumnText]
	if !ok {
		return nil, errors.Wrap(ErrMissingColumn, ColumnText)
	}
	labels, ok := cols[ColumnLabels]
	if !ok {
		return nil, errors.Wrap(ErrMissingColumn, ColumnLabels)
	}
	id, hasID := cols[ColumnID]

	var docs []Document
	skipped := 0
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if text >= len(rec) || labels >= len(rec) {
			return nil, errors.Errorf("line %d: %d fields, header has %d", line, len(rec), len(header))
		}

		doc := Document{Tokens: r.encode(rec[text])}
		if hasID && id < len(rec) {
			doc.ID = rec[id]
		}
		for _, code := range strings.Split(rec[labels], labelSep) {
			code = strings.TrimSpace(code)
			if code == "" {
				continue
			}
			if idx, ok := r.labels.Index(code); ok {
				doc.Labels = append(doc.Labels, idx)
			} else {
				skipped++
			}
		}
		docs = append(docs, doc)
	}
	r.log.Debug().Int("documents", len(docs)).Int("unknown_codes", skipped).Msg("notes read")
	return docs, nil
}

func (r *Reader) encode(text string) []int {
	words := strings.Fields(text)
	if r.MaxLength > 0 && len(words) > r.MaxLength {
		words = words[:r.MaxLength]
	}
	return r.vocab.Encode(words)
}

// Batches groups docs into padded batches of at most size documents. Every
// batch is padded to its longest document, and to at least minLen.
func Batches(docs []Document, size, labels, minLen int) []*model.Batch {
	if size < 1 {
		size = 1
	}
	if minLen < 1 {
		minLen = 1
	}
	var out []*model.Batch
	for start := 0; start < len(docs); start += size {
		end := start + size
		if end > len(docs) {
			end = len(docs)
		}
		chunk := docs[start:end]
		seqs := make([][]int, len(chunk))
		targets := make([][]float64, len(chunk))
		for i, d := range chunk {
			seqs[i] = d.Tokens
			targets[i] = model.MultiHot(d.Labels, labels)
		}
		out = append(out, &model.Batch{
			Tokens:  model.PadSequences(seqs, minLen),
			Targets: targets,
		})
	}
	return out
}
