package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"icdcode/embedding"
)

// selectFirst sets a (3, 4) output layer that copies the first three pooled
// components into the scores.
func selectFirst(t *testing.T, m *BOWPool) {
	t.Helper()
	w := tensor.New(tensor.WithShape(3, 4), tensor.WithBacking([]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	}))
	require.NoError(t, m.Params().Set(ParamFinalW, w))
	require.NoError(t, m.Params().Set(ParamFinalB, zeros(1, 3)))
}

func TestBOWAllPaddingPoolsPadEmbedding(t *testing.T) {
	table := &embedding.Table{Rows: 2, Dim: 4, Data: []float64{
		0.5, -1, 2, 0.25, // padding
		3, 3, 3, 3,
	}}
	cfg := testConfig(3, 0)
	cfg.EmbedDim = 4
	cfg.Embeddings = table

	for _, pool := range []Pool{PoolMean, PoolMax} {
		cfg.Pool = pool
		m, err := NewBOWPool(cfg)
		require.NoError(t, err)
		selectFirst(t, m)

		out, err := m.Forward(&Batch{
			Tokens:  [][]int{{0, 0, 0, 0}},
			Targets: [][]float64{{1, 0, 1}},
		})
		require.NoError(t, err)

		assert.InDeltaSlice(t, []float64{0.5, -1, 2}, out.Scores.Data().([]float64), 1e-12, string(pool))
		assert.False(t, math.IsNaN(out.Loss) || math.IsInf(out.Loss, 0))
		assert.Greater(t, out.Loss, 0.0)
	}
}

func TestBOWRandomTablePaddingIsZero(t *testing.T) {
	cfg := testConfig(3, 2)
	cfg.EmbedDim = 4
	m, err := NewBOWPool(cfg)
	require.NoError(t, err)
	selectFirst(t, m)

	out, err := m.Forward(&Batch{
		Tokens:  [][]int{{0, 0, 0}},
		Targets: [][]float64{{0, 1, 1}},
	})
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{0, 0, 0}, out.Scores.Data().([]float64), 1e-12)
	assert.InDelta(t, math.Log(2), out.Loss, 1e-12)
}

func TestBOWMeanPooling(t *testing.T) {
	table := &embedding.Table{Rows: 3, Dim: 4, Data: []float64{
		0, 0, 0, 0,
		1, 2, 3, 4,
		3, 0, -3, 8,
	}}
	cfg := testConfig(3, 3)
	cfg.EmbedDim = 4
	cfg.Embeddings = table
	m, err := NewBOWPool(cfg)
	require.NoError(t, err)
	selectFirst(t, m)

	out, err := m.Forward(&Batch{
		Tokens:  [][]int{{1, 2}, {2, 2}},
		Targets: [][]float64{{1, 0, 0}, {0, 0, 1}},
	})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 1, 0, 3, 0, -3}, out.Scores.Data().([]float64), 1e-12)
}

func TestGradientsSkipPaddingRow(t *testing.T) {
	m, err := NewBOWPool(testConfig(3, 10))
	require.NoError(t, err)

	out, err := m.Forward(&Batch{
		Tokens:  [][]int{{1, 2, 0, 0}, {3, 0, 0, 0}},
		Targets: [][]float64{{1, 0, 0}, {0, 1, 1}},
	}, WithGradients())
	require.NoError(t, err)

	require.Contains(t, out.Grads, ParamEmbed)
	require.Contains(t, out.Grads, ParamFinalW)
	require.Contains(t, out.Grads, ParamFinalB)

	embed := out.Grads[ParamEmbed]
	assert.Equal(t, []int{10, 6}, []int(embed.Shape()))
	data := embed.Data().([]float64)
	assert.Equal(t, make([]float64, 6), data[:6], "padding row gradient")

	var touched float64
	for _, v := range data[6:12] {
		touched += math.Abs(v)
	}
	assert.Greater(t, touched, 0.0, "token 1 receives a gradient")

	assert.Equal(t, []int{3, 6}, []int(out.Grads[ParamFinalW].Shape()))
}

func TestExtraRegularizers(t *testing.T) {
	constant := func(v float64, name string) Regularizer {
		return func(g *gorgonia.ExprGraph, _ *gorgonia.Node) (*gorgonia.Node, error) {
			return gorgonia.NodeFromAny(g, v, gorgonia.WithName(name)), nil
		}
	}

	cfg := testConfig(3, 10)
	plain, err := NewBOWPool(cfg)
	require.NoError(t, err)
	ref, err := plain.Forward(testBatch())
	require.NoError(t, err)

	cfg.LambdaSim = 0.5
	cfg.LambdaSub = 0.25
	m, err := NewBOWPool(cfg)
	require.NoError(t, err)

	out, err := m.Forward(testBatch(),
		WithSimilarity(constant(2, "sim")),
		WithSubstructure(constant(4, "sub")))
	require.NoError(t, err)
	assert.InDelta(t, ref.Loss+0.5*2+0.25*4, out.Loss, 1e-9)

	out, err = m.Forward(testBatch())
	require.NoError(t, err)
	assert.InDelta(t, ref.Loss, out.Loss, 1e-9, "terms only count when supplied")

	out, err = plain.Forward(testBatch(), WithSimilarity(constant(2, "sim")))
	require.NoError(t, err)
	assert.InDelta(t, ref.Loss, out.Loss, 1e-9, "terms only count with a positive weight")
}

func TestBOWCodeEmbeddingInit(t *testing.T) {
	ls := testLabels(t)
	kv := embedding.NewKeyedVectors(6)
	require.NoError(t, kv.Set("401.9", []float64{3, 0, 4, 0, 0, 0}))

	cfg := testConfig(3, 10)
	cfg.CodeVectors = kv
	cfg.LabelSet = ls
	m, err := NewBOWPool(cfg)
	require.NoError(t, err)

	w := m.Params().Get(ParamFinalW).Data().([]float64)
	assert.InDeltaSlice(t, []float64{0.6, 0, 0.8, 0, 0, 0}, w[:6], 1e-5)
	assert.Equal(t, embedding.HashedUniform("428.0", 6, embedding.XavierBound(3, 6)), w[6:12])

	cfg.CodeVectors = embedding.NewKeyedVectors(5)
	_, err = NewBOWPool(cfg)
	assert.ErrorIs(t, err, ErrConfigMismatch)
}
