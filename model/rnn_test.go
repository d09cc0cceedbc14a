package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVanillaRNNOutputWidth(t *testing.T) {
	for _, bi := range []bool{false, true} {
		cfg := testConfig(3, 10)
		cfg.Bidirectional = bi
		m, err := NewVanillaRNN(cfg)
		require.NoError(t, err)
		assert.Equal(t, []int{3, 8}, []int(m.Params().Get(ParamFinalW).Shape()))

		hidden := 8
		if bi {
			hidden = 4
		}
		assert.Equal(t, []int{hidden, hidden}, []int(m.Params().Get("rnn.l0.d0.U_z").Shape()))
		assert.Equal(t, bi, m.Params().Get("rnn.l0.d1.U_z") != nil)
	}
}

func TestVanillaRNNRejectsConfig(t *testing.T) {
	cfg := testConfig(3, 10)
	cfg.Bidirectional = true
	cfg.RNNDim = 7
	_, err := NewVanillaRNN(cfg)
	assert.ErrorIs(t, err, ErrConfigMismatch)

	cfg = testConfig(3, 10)
	cfg.Cell = "elman"
	_, err = NewVanillaRNN(cfg)
	assert.ErrorIs(t, err, ErrConfigMismatch)

	cfg = testConfig(3, 10)
	cfg.Layers = 0
	_, err = NewVanillaRNN(cfg)
	assert.ErrorIs(t, err, ErrConfigMismatch)
}

func TestVanillaRNNStacked(t *testing.T) {
	for _, cell := range []Cell{CellLSTM, CellGRU} {
		cfg := testConfig(3, 10)
		cfg.Cell = cell
		cfg.Layers = 2
		cfg.Bidirectional = true
		m, err := NewVanillaRNN(cfg)
		require.NoError(t, err)
		assert.Equal(t, []int{8, 4}, []int(m.Params().Get("rnn.l1.d0.W_"+cellGates[cell][0]).Shape()),
			"upper layers read both directions")

		out, err := m.Forward(testBatch(), WithGradients())
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3}, []int(out.Scores.Shape()))
		assertFinite(t, out.Scores.Data().([]float64))
		assert.Nil(t, out.Attention)
		assert.Contains(t, out.Grads, "rnn.l1.d1.U_"+cellGates[cell][1])
	}
}

func TestVanillaRNNDocumentsAreIndependent(t *testing.T) {
	m, err := NewVanillaRNN(testConfig(3, 10))
	require.NoError(t, err)

	batch := testBatch()
	both, err := m.Forward(batch)
	require.NoError(t, err)

	single, err := m.Forward(&Batch{
		Tokens:  [][]int{batch.Tokens[1]},
		Targets: [][]float64{batch.Targets[1]},
	})
	require.NoError(t, err)

	assert.InDeltaSlice(t, both.Scores.Data().([]float64)[3:6], single.Scores.Data().([]float64), 1e-9)
}
