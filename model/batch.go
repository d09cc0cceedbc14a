package model

import (
	"gorgonia.org/tensor"

	"icdcode/vocab"
)

// Batch is a set of documents padded to a common length with their multi-hot
// targets.
type Batch struct {
	// Tokens is (size, length), padded with vocab.Pad.
	Tokens [][]int
	// Targets is (size, labels) with 1 for every assigned code.
	Targets [][]float64
	// Descriptions maps a label index to its description tokens. Only read by
	// the description regularizer.
	Descriptions map[int][]int
}

// Size is the number of documents.
func (b *Batch) Size() int { return len(b.Tokens) }

// Len is the padded sequence length.
func (b *Batch) Len() int {
	if len(b.Tokens) == 0 {
		return 0
	}
	return len(b.Tokens[0])
}

func (b *Batch) validate(labels, rows int) error {
	if b.Size() == 0 || b.Len() == 0 {
		return mismatch("empty batch")
	}
	if len(b.Targets) != b.Size() {
		return mismatch("batch has %d documents but %d targets", b.Size(), len(b.Targets))
	}
	for i, seq := range b.Tokens {
		if len(seq) != b.Len() {
			return mismatch("document %d has length %d, batch is padded to %d", i, len(seq), b.Len())
		}
		for _, id := range seq {
			if id < 0 || id >= rows {
				return mismatch("document %d: token index %d outside vocabulary of %d rows", i, id, rows)
			}
		}
		if len(b.Targets[i]) != labels {
			return mismatch("target %d has width %d, model has %d labels", i, len(b.Targets[i]), labels)
		}
	}
	return nil
}

// flat returns the token indices in row-major order.
func (b *Batch) flat() []int {
	ids := make([]int, 0, b.Size()*b.Len())
	for _, seq := range b.Tokens {
		ids = append(ids, seq...)
	}
	return ids
}

// column returns the token at position t of every document.
func (b *Batch) column(t int) []int {
	ids := make([]int, b.Size())
	for i, seq := range b.Tokens {
		ids[i] = seq[t]
	}
	return ids
}

func (b *Batch) targets() tensor.Tensor {
	labels := len(b.Targets[0])
	data := make([]float64, 0, b.Size()*labels)
	for _, row := range b.Targets {
		data = append(data, row...)
	}
	return tensor.New(tensor.WithShape(b.Size(), labels), tensor.WithBacking(data))
}

// positives lists the labels of document i with a non-zero target.
func (b *Batch) positives(i int) []int {
	var out []int
	for j, v := range b.Targets[i] {
		if v > 0 {
			out = append(out, j)
		}
	}
	return out
}

// PadSequences right-pads every sequence with vocab.Pad to the longest one,
// or to minLen if that is longer.
func PadSequences(seqs [][]int, minLen int) [][]int {
	n := minLen
	for _, s := range seqs {
		if len(s) > n {
			n = len(s)
		}
	}
	out := make([][]int, len(seqs))
	for i, s := range seqs {
		row := make([]int, n)
		copy(row, s)
		for j := len(s); j < n; j++ {
			row[j] = vocab.Pad
		}
		out[i] = row
	}
	return out
}

// MultiHot builds a width-sized target row with ones at labels.
func MultiHot(labels []int, width int) []float64 {
	row := make([]float64, width)
	for _, l := range labels {
		if l >= 0 && l < width {
			row[l] = 1
		}
	}
	return row
}
