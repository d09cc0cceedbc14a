package model

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// ConvAttnPool is the convolutional classifier with per-label attention.
// Convolution features feed one softmax attention per label; the label's
// score reads its attended document vector through its own row of the final
// layer.
type ConvAttnPool struct {
	*base
}

// NewConvAttnPool builds the classifier. When Config.Lambda is positive the
// label-description encoder is created as well.
func NewConvAttnPool(cfg Config) (*ConvAttnPool, error) {
	if err := cfg.validateConv(); err != nil {
		return nil, err
	}
	b, err := newBase(cfg)
	if err != nil {
		return nil, err
	}
	d, k, f, y := b.dim(), cfg.KernelSize, cfg.FilterMaps, cfg.Labels

	b.params.add(ParamConvW, b.init.xavier(d*k, f*k, f, 1, k, d))
	b.params.add(ParamConvB, b.init.bias(d*k, 1, f))
	b.params.add(ParamU, b.init.xavier(f, y, y, f))
	initHead(b.params, b.init, ParamFinalW, ParamFinalB, f, y)
	if err := b.initFromCodes(ParamU, ParamFinalW); err != nil {
		return nil, err
	}

	if cfg.Lambda > 0 {
		if desc := cfg.DescriptionEmbeddings; desc != nil {
			if desc.Dim != d {
				return nil, mismatch("description embedding dimension %d, main table %d", desc.Dim, d)
			}
			if desc.Rows != b.rows() {
				return nil, mismatch("description table has %d rows, main table %d", desc.Rows, b.rows())
			}
			b.params.add(ParamDescEmbed, desc.Tensor())
		}
		b.params.add(ParamDescConvW, b.init.xavier(d*k, f*k, f, 1, k, d))
		b.params.add(ParamDescConvB, b.init.bias(d*k, 1, f))
		initHead(b.params, b.init, ParamDescFcW, ParamDescFcB, f, f)
	}
	return &ConvAttnPool{base: b}, nil
}

// Forward returns the scores, the loss and the attention (B, Y, L').
func (m *ConvAttnPool) Forward(batch *Batch, opts ...ForwardOption) (*Output, error) {
	if err := batch.validate(m.cfg.Labels, m.rows()); err != nil {
		return nil, err
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
	h, err := conv1d(x, filter, bias, m.cfg.KernelSize/2)
	if err != nil {
		return nil, err
	}

	ns, err := bd.paramList(ParamU, ParamFinalW, ParamFinalB)
	if err != nil {
		return nil, err
	}
	attn := &LabelAttention{U: ns[0], Final: ns[1], Bias: ns[2]}
	scores, alpha, err := attn.Forward(h)
	if err != nil {
		return nil, errors.Wrap(err, "label attention")
	}

	var diffs *gorgonia.Node
	if m.cfg.Lambda > 0 && batch.Descriptions != nil {
		if diffs, err = m.descriptionLoss(bd, batch); err != nil {
			return nil, err
		}
	}

	loss, err := m.loss(bd, scores, batch, diffs, o)
	if err != nil {
		return nil, err
	}
	return m.execute(bd, &pass{scores: scores, loss: loss, attention: alpha}, o)
}

// descriptionLoss pulls each positive label's final-layer row towards an
// encoding of its description. Per document the squared error is averaged,
// scaled by lambda and by the number of positive labels so documents with
// many codes weigh proportionally; the result is the mean over documents.
func (m *ConvAttnPool) descriptionLoss(bd *binder, batch *Batch) (*gorgonia.Node, error) {
	table := ParamEmbed
	if m.params.Get(ParamDescEmbed) != nil {
		table = ParamDescEmbed
	}

	var total *gorgonia.Node
	docs := 0
	for i := 0; i < batch.Size(); i++ {
		pos := batch.positives(i)
		if len(pos) == 0 {
			continue
		}
		seqs := make([][]int, len(pos))
		for j, label := range pos {
			desc := batch.Descriptions[label]
			if len(desc) == 0 {
				return nil, errors.Wrapf(ErrMissingDescription, "document %d, label %d", i, label)
			}
			for _, id := range desc {
				if id < 0 || id >= m.rows() {
					return nil, mismatch("description of label %d: token index %d outside vocabulary of %d rows", label, id, m.rows())
				}
			}
			seqs[j] = desc
		}
		padded := PadSequences(seqs, 1)
		n, l := len(padded), len(padded[0])
		ids := make([]int, 0, n*l)
		for _, s := range padded {
			ids = append(ids, s...)
		}

		d, err := bd.lookup(table, fmt.Sprintf("desc_tokens_%d", i), ids, n, l)
		if err != nil {
			return nil, err
		}
		// Only bound once some document has positive labels.
		filter, bias, err := bd.convParams(ParamDescConvW, ParamDescConvB)
		if err != nil {
			return nil, err
		}
		h, err := conv1d(d, filter, bias, m.cfg.KernelSize/2)
		if err != nil {
			return nil, errors.Wrap(err, "description conv")
		}
		pooled, err := gorgonia.Max(h, 1)
		if err != nil {
			return nil, err
		}
		enc, err := bd.project(ParamDescFcW, ParamDescFcB, pooled)
		if err != nil {
			return nil, err
		}

		final, err := bd.param(ParamFinalW)
		if err != nil {
			return nil, err
		}
		rows, err := gorgonia.ByIndices(final, bd.indices(fmt.Sprintf("desc_labels_%d", i), pos), 0)
		if err != nil {
			return nil, errors.Wrap(err, "select label rows")
		}
		diff, err := gorgonia.Sub(rows, enc)
		if err != nil {
			return nil, err
		}
		sq, err := gorgonia.Square(diff)
		if err != nil {
			return nil, err
		}
		mse, err := gorgonia.Mean(sq)
		if err != nil {
			return nil, err
		}
		scaled, err := gorgonia.HadamardProd(mse, bd.scalar(m.cfg.Lambda*float64(n)))
		if err != nil {
			return nil, err
		}
		if total == nil {
			total = scaled
		} else if total, err = gorgonia.Add(total, scaled); err != nil {
			return nil, err
		}
		docs++
	}
	if total == nil {
		return nil, nil
	}
	return gorgonia.HadamardProd(total, bd.scalar(1/float64(docs)))
}
