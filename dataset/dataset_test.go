package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icdcode/vocab"
)

const notes = `SUBJECT_ID,HADM_ID,TEXT,LABELS
1,100,"chest pain and fever",401.9;428.0
2,101,"fever",V45.81;999.9
3,102,"sepsis sepsis unknownword",
`

func fixtures(t *testing.T) (*vocab.Vocabulary, *vocab.LabelSet, *Reader) {
	t.Helper()
	v, err := vocab.New([]string{"chest", "pain", "and", "fever", "sepsis"})
	require.NoError(t, err)
	ls, err := vocab.NewLabelSet([]string{"401.9", "428.0", "V45.81"})
	require.NoError(t, err)
	nop := zerolog.Nop()
	return v, ls, NewReader(v, ls, &nop)
}

func TestReadNotes(t *testing.T) {
	v, _, r := fixtures(t)
	docs, err := r.Read(strings.NewReader(notes))
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "100", docs[0].ID)
	assert.Equal(t, []int{1, 2, 3, 4}, docs[0].Tokens)
	assert.Equal(t, []int{0, 1}, docs[0].Labels)

	assert.Equal(t, []int{2}, docs[1].Labels, "unknown codes are dropped")
	assert.Equal(t, []int{5, 5, v.Unknown()}, docs[2].Tokens)
	assert.Empty(t, docs[2].Labels)
}

func TestReadNotesTruncates(t *testing.T) {
	_, _, r := fixtures(t)
	r.MaxLength = 2
	docs, err := r.Read(strings.NewReader(notes))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, docs[0].Tokens)
	assert.Equal(t, []int{4}, docs[1].Tokens)
}

func TestReadNotesMissingColumn(t *testing.T) {
	_, _, r := fixtures(t)
	_, err := r.Read(strings.NewReader("HADM_ID,TEXT\n1,fever\n"))
	assert.ErrorIs(t, err, ErrMissingColumn)

	_, err = r.Read(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestLoadNotes(t *testing.T) {
	_, _, r := fixtures(t)
	path := filepath.Join(t.TempDir(), "dev_50.csv")
	require.NoError(t, os.WriteFile(path, []byte(notes), 0o644))

	docs, err := r.Load(path)
	require.NoError(t, err)
	assert.Len(t, docs, 3)

	_, err = r.Load(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestBatches(t *testing.T) {
	_, ls, r := fixtures(t)
	docs, err := r.Read(strings.NewReader(notes))
	require.NoError(t, err)

	batches := Batches(docs, 2, ls.Len(), 3)
	require.Len(t, batches, 2)

	first := batches[0]
	assert.Equal(t, [][]int{{1, 2, 3, 4}, {4, 0, 0, 0}}, first.Tokens)
	assert.Equal(t, [][]float64{{1, 1, 0}, {0, 0, 1}}, first.Targets)

	second := batches[1]
	assert.Equal(t, 1, second.Size())
	assert.Equal(t, 3, second.Len())
	assert.Equal(t, [][]float64{{0, 0, 0}}, second.Targets)
}

func TestDescriptions(t *testing.T) {
	v, ls, _ := fixtures(t)
	desc, err := ReadDescriptions(strings.NewReader(
		"401.9\tUnspecified essential hypertension\n" +
			"\n" +
			"428.0\tCongestive heart failure, unspecified\n" +
			"V45.81\t2012\n" +
			"038.9\tUnspecified septicemia\n"))
	require.NoError(t, err)
	assert.Len(t, desc, 4)
	assert.Equal(t, "Congestive heart failure, unspecified", desc["428.0"])

	enc := EncodeDescriptions(desc, v, ls)
	assert.Len(t, enc, 2, "numeric-only and out-of-set descriptions are skipped")
	assert.Equal(t, []int{v.Unknown(), v.Unknown(), v.Unknown()}, enc[0])

	_, err = ReadDescriptions(strings.NewReader("401.9 no tab\n"))
	assert.Error(t, err)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"chest", "pain", "w", "o", "b12", "fever"},
		Tokenize("Chest-pain w/o 100 B12, FEVER."))
}
