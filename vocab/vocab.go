// Package vocab maps tokens and codes to the integer indices used by the models.
package vocab

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Pad is the index reserved for padding positions.
const Pad = 0

// ErrEmpty is returned when a vocabulary or label file has no entries.
var ErrEmpty = errors.New("vocab: no entries")

// Vocabulary maps tokens to indices. Index 0 is padding, real tokens start at
// 1 and the last index (len(words)+1) is the unknown token.
type Vocabulary struct {
	words []string
	index map[string]int
}

// New builds a vocabulary from words in index order. Duplicate words keep
// their first index.
func New(words []string) (*Vocabulary, error) {
	if len(words) == 0 {
		return nil, ErrEmpty
	}
	v := &Vocabulary{
		words: make([]string, len(words)),
		index: make(map[string]int, len(words)),
	}
	copy(v.words, words)
	for i, w := range words {
		if _, ok := v.index[w]; !ok {
			v.index[w] = i + 1
		}
	}
	return v, nil
}

// Load reads one token per line.
func Load(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open vocabulary")
	}
	defer f.Close()

	words, err := readLines(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read vocabulary %s", path)
	}
	return New(words)
}

// Len is the number of real tokens, excluding padding and unknown.
func (v *Vocabulary) Len() int { return len(v.words) }

// Rows is the number of embedding rows the vocabulary needs.
func (v *Vocabulary) Rows() int { return len(v.words) + 2 }

// Unknown is the index used for out-of-vocabulary tokens.
func (v *Vocabulary) Unknown() int { return len(v.words) + 1 }

// Index returns the index of w, or Unknown.
func (v *Vocabulary) Index(w string) int {
	if i, ok := v.index[w]; ok {
		return i
	}
	return v.Unknown()
}

// Word returns the token at index i. Padding and unknown have reserved names.
func (v *Vocabulary) Word(i int) string {
	switch {
	case i == Pad:
		return "**PAD**"
	case i == v.Unknown():
		return "**UNK**"
	case i > 0 && i <= len(v.words):
		return v.words[i-1]
	}
	return ""
}

// Encode maps tokens to indices.
func (v *Vocabulary) Encode(tokens []string) []int {
	ids := make([]int, len(tokens))
	for i, t := range tokens {
		ids[i] = v.Index(t)
	}
	return ids
}

// LabelSet is the ordered set of output codes.
type LabelSet struct {
	codes []string
	index map[string]int
}

// NewLabelSet builds a label set; position in codes is the output index.
func NewLabelSet(codes []string) (*LabelSet, error) {
	if len(codes) == 0 {
		return nil, ErrEmpty
	}
	ls := &LabelSet{
		codes: make([]string, 0, len(codes)),
		index: make(map[string]int, len(codes)),
	}
	for _, c := range codes {
		if _, ok := ls.index[c]; ok {
			continue
		}
		ls.index[c] = len(ls.codes)
		ls.codes = append(ls.codes, c)
	}
	return ls, nil
}

// LoadLabels reads one code per line.
func LoadLabels(path string) (*LabelSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open labels")
	}
	defer f.Close()

	codes, err := readLines(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read labels %s", path)
	}
	return NewLabelSet(codes)
}

func (ls *LabelSet) Len() int { return len(ls.codes) }

// Index reports the output index of code.
func (ls *LabelSet) Index(code string) (int, bool) {
	i, ok := ls.index[code]
	return i, ok
}

func (ls *LabelSet) Code(i int) string { return ls.codes[i] }

// Codes returns a copy of the codes in output order.
func (ls *LabelSet) Codes() []string {
	out := make([]string, len(ls.codes))
	copy(out, ls.codes)
	return out
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}
