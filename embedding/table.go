// Package embedding loads and initializes the vector tables consumed by the
// classifiers: the word embedding table and per-code label vectors.
package embedding

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
)

// ErrMalformed is returned for vector files that cannot be parsed.
var ErrMalformed = errors.New("embedding: malformed vector file")

const normEps = 1e-6

// Table is a dense (Rows, Dim) embedding matrix in row-major order.
type Table struct {
	Rows int
	Dim  int
	Data []float64
}

// Row returns a view of row i.
func (t *Table) Row(i int) []float64 {
	return t.Data[i*t.Dim : (i+1)*t.Dim]
}

// Tensor wraps a copy of the table data.
func (t *Table) Tensor() tensor.Tensor {
	backing := make([]float64, len(t.Data))
	copy(backing, t.Data)
	return tensor.New(tensor.WithShape(t.Rows, t.Dim), tensor.WithBacking(backing))
}

// Random creates a table drawn from N(0, 1) with the padding row zeroed.
func Random(rows, dim int, seed uint64) *Table {
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)}
	t := &Table{Rows: rows, Dim: dim, Data: make([]float64, rows*dim)}
	for i := dim; i < len(t.Data); i++ {
		t.Data[i] = norm.Rand()
	}
	return t
}

// LoadTable reads a pretrained word-vector file with one "word v1 ... vd"
// entry per line. Line i becomes row i, so the file is expected to start
// with the padding entry. Every row is scaled to unit length and a random
// unit-length row is appended for the unknown token.
func LoadTable(path string, seed uint64) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open embeddings")
	}
	defer f.Close()

	log.Info().Str("path", path).Msg("loading pretrained embeddings")

	t := &Table{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<24)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if line == 1 && isHeader(fields) {
			continue
		}
		vec, err := parseFloats(fields[1:])
		if err != nil {
			return nil, errors.Wrapf(ErrMalformed, "%s:%d: %v", path, line, err)
		}
		if t.Dim == 0 {
			t.Dim = len(vec)
		}
		if len(vec) != t.Dim || t.Dim == 0 {
			return nil, errors.Wrapf(ErrMalformed, "%s:%d: want %d values, got %d", path, line, t.Dim, len(vec))
		}
		Normalize(vec)
		t.Data = append(t.Data, vec...)
		t.Rows++
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "read embeddings %s", path)
	}
	if t.Rows == 0 {
		return nil, errors.Wrapf(ErrMalformed, "%s: no vectors", path)
	}

	unk := make([]float64, t.Dim)
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)}
	for i := range unk {
		unk[i] = norm.Rand()
	}
	Normalize(unk)
	t.Data = append(t.Data, unk...)
	t.Rows++

	log.Debug().Int("rows", t.Rows).Int("dim", t.Dim).Msg("embeddings loaded")
	return t, nil
}

// Normalize scales v in place to unit length. A zero vector stays zero.
func Normalize(v []float64) {
	floats.Scale(1/(floats.Norm(v, 2)+normEps), v)
}

func parseFloats(fields []string) ([]float64, error) {
	vec := make([]float64, len(fields))
	for i, s := range fields {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		vec[i] = f
	}
	return vec, nil
}

// isHeader reports whether fields look like a word2vec "count dim" header.
func isHeader(fields []string) bool {
	if len(fields) != 2 {
		return false
	}
	for _, f := range fields {
		if _, err := strconv.Atoi(f); err != nil {
			return false
		}
	}
	return true
}
