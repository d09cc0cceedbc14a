package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"icdcode/embedding"
	"icdcode/vocab"
)

func testLabels(t *testing.T) *vocab.LabelSet {
	t.Helper()
	ls, err := vocab.NewLabelSet([]string{"401.9", "428.0", "V45.81"})
	require.NoError(t, err)
	return ls
}

func TestConvAttnAttentionIsDistribution(t *testing.T) {
	for _, kernel := range []int{3, 4} {
		cfg := testConfig(3, 10)
		cfg.KernelSize = kernel
		m, err := NewConvAttnPool(cfg)
		require.NoError(t, err)

		batch := testBatch()
		out, err := m.Forward(batch)
		require.NoError(t, err)
		require.NotNil(t, out.Attention)

		// Same-length padding: odd kernels keep the length, even ones add one.
		positions := batch.Len() + 2*(kernel/2) - kernel + 1
		assert.Equal(t, []int{2, 3, positions}, []int(out.Attention.Shape()))

		alpha := out.Attention.Data().([]float64)
		for row := 0; row < 2*3; row++ {
			weights := alpha[row*positions : (row+1)*positions]
			for _, w := range weights {
				assert.GreaterOrEqual(t, w, 0.0)
			}
			assert.InDelta(t, 1.0, floats.Sum(weights), 1e-9)
		}
	}
}

func TestConvAttnTrainingPass(t *testing.T) {
	cfg := testConfig(3, 10)
	cfg.Dropout = 0.5
	m, err := NewConvAttnPool(cfg)
	require.NoError(t, err)

	out, err := m.Forward(testBatch(), Training())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, out.Loss, 0.0)
	assert.Equal(t, []int{2, 3}, []int(out.Scores.Shape()))
}

func TestConvAttnCodeEmbeddingInit(t *testing.T) {
	kv := embedding.NewKeyedVectors(4)
	require.NoError(t, kv.Set("401.9", []float64{0, 2, 0, 0}))
	require.NoError(t, kv.Set("V45.81", []float64{1, 1, 1, 1}))

	cfg := testConfig(3, 10)
	cfg.CodeVectors = kv
	cfg.LabelSet = testLabels(t)
	m, err := NewConvAttnPool(cfg)
	require.NoError(t, err)

	u := m.Params().Get(ParamU).Data().([]float64)
	final := m.Params().Get(ParamFinalW).Data().([]float64)
	assert.Equal(t, u, final, "attention and final rows start from the same code vectors")
	assert.InDeltaSlice(t, []float64{0, 1, 0, 0}, final[0:4], 1e-5)
	assert.InDeltaSlice(t, []float64{0.5, 0.5, 0.5, 0.5}, final[8:12], 1e-5)

	cfg.CodeVectors = embedding.NewKeyedVectors(6)
	_, err = NewConvAttnPool(cfg)
	assert.ErrorIs(t, err, ErrConfigMismatch, "code vectors must match the filter maps")

	ls, err := vocab.NewLabelSet([]string{"401.9"})
	require.NoError(t, err)
	cfg.CodeVectors = kv
	cfg.LabelSet = ls
	_, err = NewConvAttnPool(cfg)
	assert.ErrorIs(t, err, ErrConfigMismatch, "label set must cover every output")
}

func descBatch() *Batch {
	b := testBatch()
	b.Descriptions = map[int][]int{
		0: {1, 2, 3},
		1: {4},
		2: {5, 6},
	}
	return b
}

func TestConvAttnDescriptionRegularizer(t *testing.T) {
	cfg := testConfig(3, 10)
	cfg.Lambda = 0.1
	m, err := NewConvAttnPool(cfg)
	require.NoError(t, err)
	assert.NotNil(t, m.Params().Get(ParamDescConvW))
	assert.Nil(t, m.Params().Get(ParamDescEmbed), "description path shares the main table")

	without, err := m.Forward(testBatch())
	require.NoError(t, err)
	assert.InDelta(t, referenceBCE(without.Scores, testBatch().Targets), without.Loss, 1e-9)

	with, err := m.Forward(descBatch())
	require.NoError(t, err)
	assert.Greater(t, with.Loss, without.Loss)
	assert.Equal(t, without.Scores.Data(), with.Scores.Data(), "descriptions only change the loss")
}

func TestConvAttnDescriptionIgnoredWithoutLambda(t *testing.T) {
	m, err := NewConvAttnPool(testConfig(3, 10))
	require.NoError(t, err)
	assert.Nil(t, m.Params().Get(ParamDescConvW))

	out, err := m.Forward(descBatch())
	require.NoError(t, err)
	assert.InDelta(t, referenceBCE(out.Scores, descBatch().Targets), out.Loss, 1e-9)
}

func TestConvAttnMissingDescription(t *testing.T) {
	cfg := testConfig(3, 10)
	cfg.Lambda = 0.1
	m, err := NewConvAttnPool(cfg)
	require.NoError(t, err)

	batch := descBatch()
	delete(batch.Descriptions, 2)
	_, err = m.Forward(batch)
	assert.ErrorIs(t, err, ErrMissingDescription)

	batch = descBatch()
	batch.Descriptions[1] = []int{99}
	_, err = m.Forward(batch)
	assert.ErrorIs(t, err, ErrConfigMismatch)
}

func TestConvAttnSeparateDescriptionTable(t *testing.T) {
	cfg := testConfig(3, 10)
	cfg.Lambda = 0.1
	cfg.DescriptionEmbeddings = embedding.Random(10, 5, 3)
	_, err := NewConvAttnPool(cfg)
	assert.ErrorIs(t, err, ErrConfigMismatch, "description table dimension must match")

	cfg.DescriptionEmbeddings = embedding.Random(10, 6, 3)
	m, err := NewConvAttnPool(cfg)
	require.NoError(t, err)
	require.NotNil(t, m.Params().Get(ParamDescEmbed))

	out, err := m.Forward(descBatch())
	require.NoError(t, err)
	assert.Greater(t, out.Loss, referenceBCE(out.Scores, descBatch().Targets))
}
