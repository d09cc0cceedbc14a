package dataset

import (
	"bufio"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"icdcode/vocab"
)

// LoadDescriptions reads "code<TAB>description" lines. Later lines override
// earlier ones for the same code.
func LoadDescriptions(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open descriptions")
	}
	defer f.Close()

	desc, err := ReadDescriptions(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read descriptions %s", path)
	}
	return desc, nil
}

func ReadDescriptions(r io.Reader) (map[string]string, error) {
	desc := make(map[string]string)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimRight(sc.Text(), "\r\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		code, rest, ok := strings.Cut(text, "\t")
		if !ok {
			return nil, errors.Errorf("line %d: no tab separator", line)
		}
		desc[strings.TrimSpace(code)] = strings.TrimSpace(rest)
	}
	return desc, sc.Err()
}

// Tokenize lowercases text and splits it into word tokens. Purely numeric
// tokens are dropped.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := words[:0]
	for _, w := range words {
		if strings.IndexFunc(w, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
			continue
		}
		out = append(out, w)
	}
	return out
}

// EncodeDescriptions maps descriptions onto label indices and token indices,
// the form model.Batch.Descriptions expects. Codes outside the label set are
// ignored; descriptions with no usable tokens are left out.
func EncodeDescriptions(desc map[string]string, v *vocab.Vocabulary, ls *vocab.LabelSet) map[int][]int {
	out := make(map[int][]int, ls.Len())
	for code, text := range desc {
		idx, ok := ls.Index(code)
		if !ok {
			continue
		}
		tokens := Tokenize(text)
		if len(tokens) == 0 {
			continue
		}
		out[idx] = v.Encode(tokens)
	}
	return out
}
