package model

import (
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// VanillaConv is a convolution with global max-pooling and a linear output.
type VanillaConv struct {
	*base
}

// NewVanillaConv builds the classifier. The convolution is unpadded, so
// documents must be at least Config.KernelSize tokens long.
func NewVanillaConv(cfg Config) (*VanillaConv, error) {
	if err := cfg.validateConv(); err != nil {
		return nil, err
	}
	b, err := newBase(cfg)
	if err != nil {
		return nil, err
	}
	d, k, f := b.dim(), cfg.KernelSize, cfg.FilterMaps

	b.params.add(ParamConvW, b.init.xavier(d*k, f*k, f, 1, k, d))
	b.params.add(ParamConvB, b.init.bias(d*k, 1, f))
	initHead(b.params, b.init, ParamFinalW, ParamFinalB, f, cfg.Labels)
	if err := b.initFromCodes(ParamFinalW); err != nil {
		return nil, err
	}
	return &VanillaConv{base: b}, nil
}

// Forward scores the batch. With WithAttention the output carries the
// pseudo-attention described at PseudoAttention.
func (m *VanillaConv) Forward(batch *Batch, opts ...ForwardOption) (*Output, error) {
	if err := batch.validate(m.cfg.Labels, m.rows()); err != nil {
		return nil, err
	}
	if batch.Len() < m.cfg.KernelSize {
		return nil, mismatch("documents of length %d are shorter than the kernel (%d)", batch.Len(), m.cfg.KernelSize)
	}
	o := collectOptions(opts)
	bd := newBinder(m.params)

	x, err := m.embed(bd, batch, o, true)
	if err != nil {
		return nil, err
	}
	filter, bias, err := bd.convParams(ParamConvW, ParamConvB)
	if err != nil {
		return nil, err
	}
	h, err := conv1d(x, filter, bias, 0)
	if err != nil {
		return nil, err
	}
	pooled, err := gorgonia.Max(h, 1)
	if err != nil {
		return nil, err
	}
	scores, err := bd.project(ParamFinalW, ParamFinalB, pooled)
	if err != nil {
		return nil, err
	}
	loss, err := m.loss(bd, scores, batch, nil, o)
	if err != nil {
		return nil, err
	}

	p := &pass{scores: scores, loss: loss}
	if o.attention {
		p.features = h
		p.after = func(out *Output, feats tensor.Tensor) error {
			shape := feats.Shape()
			out.Attention = PseudoAttention(feats.Data().([]float64), shape[0], shape[1], shape[2], m.params.floats(ParamFinalW), m.cfg.Labels)
			return nil
		}
	}
	return m.execute(bd, p, o)
}

// PseudoAttention approximates attention for a max-pooled convolution. It is
// not a learned attention: for every document and filter it finds the window
// that produced the pooled maximum, and credits that window with the filter's
// output weight for every label. attn[b, y, w] is the sum of W[y, f] over the
// filters f whose maximum came from window w; windows that were never a
// maximum get zero for every label.
//
// feats is (batch, windows, filters) after the nonlinearity, weights is
// (labels, filters). The result is (batch, labels, windows).
func PseudoAttention(feats []float64, batch, windows, filters int, weights []float64, labels int) tensor.Tensor {
	attn := make([]float64, batch*labels*windows)
	for b := 0; b < batch; b++ {
		for f := 0; f < filters; f++ {
			best := 0
			for w := 1; w < windows; w++ {
				if feats[(b*windows+w)*filters+f] > feats[(b*windows+best)*filters+f] {
					best = w
				}
			}
			for y := 0; y < labels; y++ {
				attn[(b*labels+y)*windows+best] += weights[y*filters+f]
			}
		}
	}
	return tensor.New(tensor.WithShape(batch, labels, windows), tensor.WithBacking(attn))
}
