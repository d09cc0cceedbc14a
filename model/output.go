package model

import (
	"math"
	"sort"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Output is the result of one forward pass.
type Output struct {
	// Scores are the raw per-label logits, (batch, labels).
	Scores tensor.Tensor
	Loss   float64
	// Attention is (batch, labels, positions), or nil for architectures and
	// passes that do not produce it.
	Attention tensor.Tensor
	// Grads holds d(Loss)/d(param) for every parameter used by the pass when
	// WithGradients is set. Padding rows of embedding tables are zero.
	Grads map[string]tensor.Tensor
}

// Probabilities applies the sigmoid to the scores.
func (o *Output) Probabilities() [][]float64 {
	shape := o.Scores.Shape()
	data := o.Scores.Data().([]float64)
	out := make([][]float64, shape[0])
	for i := range out {
		row := make([]float64, shape[1])
		for j := range row {
			row[j] = 1 / (1 + math.Exp(-data[i*shape[1]+j]))
		}
		out[i] = row
	}
	return out
}

// TopK returns the k highest scoring label indices of document i.
func (o *Output) TopK(i, k int) []int {
	labels := o.Scores.Shape()[1]
	row := o.Scores.Data().([]float64)[i*labels : (i+1)*labels]
	idx := make([]int, labels)
	for j := range idx {
		idx[j] = j
	}
	sort.SliceStable(idx, func(a, b int) bool { return row[idx[a]] > row[idx[b]] })
	if k > labels {
		k = labels
	}
	return idx[:k]
}

// Regularizer contributes an extra loss term computed from the scores node.
// It must return a scalar node in the same graph.
type Regularizer func(g *gorgonia.ExprGraph, scores *gorgonia.Node) (*gorgonia.Node, error)

type forwardOptions struct {
	training     bool
	gradients    bool
	attention    bool
	similarity   Regularizer
	substructure Regularizer
}

// ForwardOption tunes a single forward pass.
type ForwardOption func(*forwardOptions)

// Training enables embedding dropout.
func Training() ForwardOption {
	return func(o *forwardOptions) { o.training = true }
}

// WithGradients differentiates the loss and fills Output.Grads.
func WithGradients() ForwardOption {
	return func(o *forwardOptions) { o.gradients = true }
}

// WithAttention asks architectures that only produce attention on demand
// (the vanilla convolution) to return it.
func WithAttention() ForwardOption {
	return func(o *forwardOptions) { o.attention = true }
}

// WithSimilarity supplies the similarity term weighted by Config.LambdaSim.
func WithSimilarity(r Regularizer) ForwardOption {
	return func(o *forwardOptions) { o.similarity = r }
}

// WithSubstructure supplies the substructure term weighted by Config.LambdaSub.
func WithSubstructure(r Regularizer) ForwardOption {
	return func(o *forwardOptions) { o.substructure = r }
}

func collectOptions(opts []ForwardOption) forwardOptions {
	var o forwardOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
