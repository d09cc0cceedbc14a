package model

import (
	"gorgonia.org/tensor"

	"icdcode/embedding"
)

// initFromCodes replaces each named (Y, dim) parameter with per-label code
// vectors. Matched codes get their vector scaled to unit length; codes absent
// from the vectors get a uniform Xavier-bounded vector seeded by the code.
// Does nothing when no code vectors are configured.
func (m *base) initFromCodes(names ...string) error {
	kv := m.cfg.CodeVectors
	if kv == nil || len(names) == 0 {
		return nil
	}
	labels := m.cfg.Labels
	dim := m.params.Get(names[0]).Shape()[1]
	if kv.Dim() != dim {
		return mismatch("code vectors have dimension %d, output rows need %d", kv.Dim(), dim)
	}

	bound := embedding.XavierBound(labels, kv.Dim())
	weights := make([]float64, labels*dim)
	matched, unmatched := 0, 0
	for i := 0; i < labels; i++ {
		code := m.cfg.LabelSet.Code(i)
		row := weights[i*dim : (i+1)*dim]
		if vec, ok := kv.Get(code); ok {
			matched++
			copy(row, vec)
			embedding.Normalize(row)
		} else {
			unmatched++
			copy(row, embedding.HashedUniform(code, dim, bound))
		}
	}
	m.log.Info().
		Int("matched", matched).
		Int("unmatched", unmatched).
		Strs("params", names).
		Msg("output layer initialized from code embeddings")

	for _, name := range names {
		backing := make([]float64, len(weights))
		copy(backing, weights)
		m.params.add(name, tensor.New(tensor.WithShape(labels, dim), tensor.WithBacking(backing)))
	}
	return nil
}
