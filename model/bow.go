package model

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// BOWPool is logistic regression over pooled word vectors.
type BOWPool struct {
	*base
	pool Pool
}

// NewBOWPool builds the pooled bag-of-words classifier. Config.Pool selects
// mean or max over time; the output layer maps the embedding dimension to
// Config.Labels.
func NewBOWPool(cfg Config) (*BOWPool, error) {
	b, err := newBase(cfg)
	if err != nil {
		return nil, err
	}
	pool := cfg.Pool
	if pool == "" {
		pool = PoolMean
	}
	if pool != PoolMean && pool != PoolMax {
		return nil, mismatch("unknown pooling %q", cfg.Pool)
	}

	initHead(b.params, b.init, ParamFinalW, ParamFinalB, b.dim(), cfg.Labels)
	if err := b.initFromCodes(ParamFinalW); err != nil {
		return nil, err
	}
	return &BOWPool{base: b, pool: pool}, nil
}

// Forward pools the embedded batch and scores it. No attention is produced.
func (m *BOWPool) Forward(batch *Batch, opts ...ForwardOption) (*Output, error) {
	if err := batch.validate(m.cfg.Labels, m.rows()); err != nil {
		return nil, err
	}
	o := collectOptions(opts)
	bd := newBinder(m.params)

	x, err := m.embed(bd, batch, o, false)
	if err != nil {
		return nil, err
	}
	var pooled *gorgonia.Node
	if m.pool == PoolMax {
		pooled, err = gorgonia.Max(x, 1)
	} else {
		pooled, err = gorgonia.Mean(x, 1)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s pool", m.pool)
	}

	scores, err := bd.project(ParamFinalW, ParamFinalB, pooled)
	if err != nil {
		return nil, err
	}
	loss, err := m.loss(bd, scores, batch, nil, o)
	if err != nil {
		return nil, err
	}
	return m.execute(bd, &pass{scores: scores, loss: loss}, o)
}
