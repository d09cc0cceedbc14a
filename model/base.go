// Package model implements the multi-label code classifiers. Every
// architecture embeds a padded token batch, builds a gorgonia graph for the
// forward pass and returns raw label scores, the composite loss and, where it
// exists, per-label attention over positions.
package model

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"icdcode/embedding"
	"icdcode/vocab"
)

// Classifier is implemented by every architecture.
type Classifier interface {
	// Forward runs one pass over batch.
	Forward(batch *Batch, opts ...ForwardOption) (*Output, error)
	// Params exposes the learnable tensors for an external optimizer.
	Params() *Params
	// Labels is the output width Y.
	Labels() int
}

// base owns the embedding table, the dropout rate and the composite loss.
type base struct {
	cfg    Config
	params *Params
	init   *initializer
	log    *zerolog.Logger
	// mask draws the inverted-dropout keep mask for a training pass.
	mask func(shape ...int) tensor.Tensor
}

func newBase(cfg Config) (*base, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &base{
		cfg:    cfg,
		params: newParams(),
		init:   newInitializer(cfg.Seed),
		log:    cfg.logger(),
	}
	noise := newInitializer(cfg.Seed + 1)
	m.mask = func(shape ...int) tensor.Tensor { return noise.keepMask(cfg.Dropout, shape...) }

	table := cfg.Embeddings
	if table != nil {
		m.log.Info().Int("rows", table.Rows).Int("dim", table.Dim).Msg("using pretrained embeddings")
	} else {
		table = embedding.Random(cfg.VocabRows, cfg.EmbedDim, cfg.Seed)
	}
	m.params.add(ParamEmbed, table.Tensor())
	return m, nil
}

func (m *base) Params() *Params { return m.params }

func (m *base) Labels() int { return m.cfg.Labels }

func (m *base) rows() int { return m.params.Get(ParamEmbed).Shape()[0] }

func (m *base) dim() int { return m.params.Get(ParamEmbed).Shape()[1] }

// embed looks up the batch as (B, L, D). Dropout is applied in training mode
// when withDropout is set: each element is kept with probability 1-p and
// scaled by 1/(1-p), with the mask drawn from the seeded noise source.
func (m *base) embed(bd *binder, batch *Batch, o forwardOptions, withDropout bool) (*gorgonia.Node, error) {
	x, err := bd.lookup(ParamEmbed, "tokens", batch.flat(), batch.Size(), batch.Len())
	if err != nil {
		return nil, err
	}
	if !withDropout || !o.training || m.cfg.Dropout <= 0 {
		return x, nil
	}
	mask := bd.input("dropout_mask", m.mask(x.Shape()...))
	dropped, err := gorgonia.HadamardProd(x, mask)
	if err != nil {
		return nil, errors.Wrap(err, "dropout")
	}
	return dropped, nil
}

// loss composes the label BCE with the optional regularizers. diffs is the
// already averaged description term, or nil.
func (m *base) loss(bd *binder, scores *gorgonia.Node, batch *Batch, diffs *gorgonia.Node, o forwardOptions) (*gorgonia.Node, error) {
	targets := bd.input("targets", batch.targets())
	loss, err := bd.bceWithLogits(scores, targets)
	if err != nil {
		return nil, errors.Wrap(err, "bce")
	}

	if m.cfg.Lambda > 0 && diffs != nil {
		if loss, err = gorgonia.Add(loss, diffs); err != nil {
			return nil, err
		}
	}
	extra := []struct {
		weight float64
		term   Regularizer
		name   string
	}{
		{m.cfg.LambdaSim, o.similarity, "similarity"},
		{m.cfg.LambdaSub, o.substructure, "substructure"},
	}
	for _, e := range extra {
		if e.weight <= 0 || e.term == nil {
			continue
		}
		term, err := e.term(bd.g, scores)
		if err != nil {
			return nil, errors.Wrapf(err, "%s regularizer", e.name)
		}
		weighted, err := gorgonia.HadamardProd(term, bd.scalar(e.weight))
		if err != nil {
			return nil, errors.Wrapf(err, "%s regularizer", e.name)
		}
		if loss, err = gorgonia.Add(loss, weighted); err != nil {
			return nil, err
		}
	}
	return loss, nil
}

// pass collects the nodes a forward graph must expose.
type pass struct {
	scores    *gorgonia.Node
	loss      *gorgonia.Node
	attention *gorgonia.Node
	// features is read out for after.
	features *gorgonia.Node
	// after runs once the graph has been executed.
	after func(out *Output, features tensor.Tensor) error
}

// execute runs the graph and copies the results out of it. Forward values are
// read before the gradient is added: the backward pass reuses their memory.
func (m *base) execute(bd *binder, p *pass, o forwardOptions) (*Output, error) {
	var scoresVal, lossVal, attnVal, featVal gorgonia.Value
	gorgonia.Read(p.scores, &scoresVal)
	gorgonia.Read(p.loss, &lossVal)
	if p.attention != nil {
		gorgonia.Read(p.attention, &attnVal)
	}
	if p.features != nil {
		gorgonia.Read(p.features, &featVal)
	}

	learnables := bd.learnables()
	var vmOpts []gorgonia.VMOpt
	if o.gradients {
		if _, err := gorgonia.Grad(p.loss, learnables...); err != nil {
			return nil, errors.Wrap(err, "differentiate loss")
		}
		vmOpts = append(vmOpts, gorgonia.BindDualValues(learnables...))
	}

	machine := gorgonia.NewTapeMachine(bd.g, vmOpts...)
	defer machine.Close()
	if err := machine.RunAll(); err != nil {
		return nil, errors.Wrap(err, "run forward graph")
	}

	loss, ok := lossVal.Data().(float64)
	if !ok {
		return nil, errors.Errorf("loss value is %T, want float64", lossVal.Data())
	}
	out := &Output{
		Scores: cloneValue(scoresVal),
		Loss:   loss,
	}
	if attnVal != nil {
		out.Attention = cloneValue(attnVal)
	}

	if o.gradients {
		out.Grads = make(map[string]tensor.Tensor, len(learnables))
		for i, n := range learnables {
			gv, err := n.Grad()
			if err != nil {
				return nil, errors.Wrapf(err, "gradient of %s", bd.bound[i])
			}
			grad := cloneValue(gv)
			if name := bd.bound[i]; name == ParamEmbed || name == ParamDescEmbed {
				clearPadding(grad)
			}
			out.Grads[bd.bound[i]] = grad
		}
	}

	if p.after != nil {
		var features tensor.Tensor
		if featVal != nil {
			features = cloneValue(featVal)
		}
		if err := p.after(out, features); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func cloneValue(v gorgonia.Value) tensor.Tensor {
	return v.(tensor.Tensor).Clone().(tensor.Tensor)
}

// clearPadding zeroes the padding row of an embedding gradient so the row is
// never updated.
func clearPadding(grad tensor.Tensor) {
	dim := grad.Shape()[1]
	data := grad.Data().([]float64)
	for j := vocab.Pad * dim; j < (vocab.Pad+1)*dim; j++ {
		data[j] = 0
	}
}
