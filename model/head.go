package model

import (
	"gorgonia.org/gorgonia"
)

// Head is a linear output layer whose weight rows are indexed by output unit
// (one row per label for the classifier heads).
type Head struct {
	Weight *gorgonia.Node // (out, in)
	Bias   *gorgonia.Node // (1, out)
}

// initHead registers Xavier weights and a bias for an in -> out layer.
func initHead(p *Params, in *initializer, weight, bias string, inputDim, outputDim int) {
	p.add(weight, in.xavier(inputDim, outputDim, outputDim, inputDim))
	p.add(bias, in.bias(inputDim, 1, outputDim))
}

func (b *binder) head(weight, bias string) (*Head, error) {
	ns, err := b.paramList(weight, bias)
	if err != nil {
		return nil, err
	}
	return &Head{Weight: ns[0], Bias: ns[1]}, nil
}

// Forward maps input (N, in) to (N, out).
func (h *Head) Forward(input *gorgonia.Node) (*gorgonia.Node, error) {
	wT, err := gorgonia.Transpose(h.Weight)
	if err != nil {
		return nil, err
	}
	logits, err := gorgonia.Mul(input, wT)
	if err != nil {
		return nil, err
	}
	// Bias (1, out) broadcast over the N rows.
	return gorgonia.BroadcastAdd(logits, h.Bias, nil, []byte{0})
}

// project applies the named head to x.
func (b *binder) project(weight, bias string, x *gorgonia.Node) (*gorgonia.Node, error) {
	h, err := b.head(weight, bias)
	if err != nil {
		return nil, err
	}
	return h.Forward(x)
}
