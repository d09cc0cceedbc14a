package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestKeepMaskValues(t *testing.T) {
	mask := newInitializer(3).keepMask(0.2, 4, 25).Data().([]float64)
	var kept int
	for _, v := range mask {
		if v != 0 {
			assert.InDelta(t, 1.25, v, 1e-12)
			kept++
		}
	}
	assert.Greater(t, kept, 50)
	assert.Less(t, kept, len(mask))
}

func TestDropoutIsSeeded(t *testing.T) {
	cfg := testConfig(3, 10)
	cfg.Dropout = 0.3
	a, err := NewConvAttnPool(cfg)
	require.NoError(t, err)
	b, err := NewConvAttnPool(cfg)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		outA, err := a.Forward(testBatch(), Training())
		require.NoError(t, err)
		outB, err := b.Forward(testBatch(), Training())
		require.NoError(t, err)
		assert.Equal(t, outA.Scores.Data(), outB.Scores.Data(), "pass %d", i)
	}
}

func TestDropoutGradientMatchesFiniteDifference(t *testing.T) {
	cfg := testConfig(3, 10)
	cfg.Dropout = 0.2
	m, err := NewVanillaConv(cfg)
	require.NoError(t, err)

	batch := testBatch()
	fixed := newInitializer(11).keepMask(cfg.Dropout, batch.Size(), batch.Len(), 6)
	m.mask = func(...int) tensor.Tensor { return fixed.Clone().(tensor.Tensor) }

	out, err := m.Forward(batch, Training(), WithGradients())
	require.NoError(t, err)
	analytic := out.Grads[ParamEmbed].Data().([]float64)

	lossAt := func(idx int, delta float64) float64 {
		orig := m.Params().Get(ParamEmbed)
		moved := orig.Clone().(tensor.Tensor)
		moved.Data().([]float64)[idx] += delta
		require.NoError(t, m.Params().Set(ParamEmbed, moved))
		defer func() { require.NoError(t, m.Params().Set(ParamEmbed, orig)) }()

		o, err := m.Forward(batch, Training())
		require.NoError(t, err)
		return o.Loss
	}

	const eps = 1e-6
	var checked int
	// Rows 1 and 4 are tokens of the first document.
	for _, row := range []int{1, 4} {
		for j := 0; j < 6; j++ {
			idx := row*6 + j
			numeric := (lossAt(idx, eps) - lossAt(idx, -eps)) / (2 * eps)
			assert.InDelta(t, numeric, analytic[idx], 1e-6, "embed[%d][%d]", row, j)
			if analytic[idx] != 0 {
				checked++
			}
		}
	}
	assert.Greater(t, checked, 0)
}
