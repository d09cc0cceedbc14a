package model

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// VanillaRNN encodes the document with a stacked LSTM or GRU, optionally
// bidirectional, and scores the final hidden state of the last layer.
// Hidden state starts at zero on every call; documents are independent.
type VanillaRNN struct {
	*base
	dirs   int
	hidden int
}

var cellGates = map[Cell][]string{
	CellLSTM: {"i", "f", "g", "o"},
	CellGRU:  {"r", "z", "n"},
}

// NewVanillaRNN builds the classifier. Config.RNNDim is the total width of
// the final hidden state and is split evenly across directions.
func NewVanillaRNN(cfg Config) (*VanillaRNN, error) {
	gates, ok := cellGates[cfg.Cell]
	if !ok {
		return nil, mismatch("unknown cell type %q", cfg.Cell)
	}
	if cfg.Layers < 1 {
		return nil, mismatch("layers must be positive, got %d", cfg.Layers)
	}
	dirs := 1
	if cfg.Bidirectional {
		dirs = 2
	}
	if cfg.RNNDim < dirs || cfg.RNNDim%dirs != 0 {
		return nil, mismatch("recurrent width %d does not split across %d directions", cfg.RNNDim, dirs)
	}
	b, err := newBase(cfg)
	if err != nil {
		return nil, err
	}
	m := &VanillaRNN{base: b, dirs: dirs, hidden: cfg.RNNDim / dirs}

	bound := 1 / math.Sqrt(float64(m.hidden))
	for layer := 0; layer < cfg.Layers; layer++ {
		in := b.dim()
		if layer > 0 {
			in = m.hidden * dirs
		}
		for dir := 0; dir < dirs; dir++ {
			for _, gate := range gates {
				b.params.add(m.name(layer, dir, "W", gate), b.init.uniform(bound, in, m.hidden))
				b.params.add(m.name(layer, dir, "U", gate), b.init.uniform(bound, m.hidden, m.hidden))
				b.params.add(m.name(layer, dir, "b", gate), b.init.uniform(bound, 1, m.hidden))
			}
			if cfg.Cell == CellGRU {
				b.params.add(m.name(layer, dir, "bh", "n"), b.init.uniform(bound, 1, m.hidden))
			}
		}
	}
	initHead(b.params, b.init, ParamFinalW, ParamFinalB, cfg.RNNDim, cfg.Labels)
	if err := b.initFromCodes(ParamFinalW); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *VanillaRNN) name(layer, dir int, kind, gate string) string {
	return fmt.Sprintf("rnn.l%d.d%d.%s_%s", layer, dir, kind, gate)
}

// Forward runs the recurrent encoder over the batch. No attention is produced.
func (m *VanillaRNN) Forward(batch *Batch, opts ...ForwardOption) (*Output, error) {
	if err := batch.validate(m.cfg.Labels, m.rows()); err != nil {
		return nil, err
	}
	o := collectOptions(opts)
	bd := newBinder(m.params)

	// Time-major inputs, one (B, D) node per position.
	steps := batch.Len()
	inputs := make([]*gorgonia.Node, steps)
	for t := range inputs {
		x, err := bd.rows(ParamEmbed, fmt.Sprintf("tokens_t%d", t), batch.column(t))
		if err != nil {
			return nil, err
		}
		inputs[t] = x
	}

	var last *gorgonia.Node
	for layer := 0; layer < m.cfg.Layers; layer++ {
		outs := make([][]*gorgonia.Node, m.dirs)
		finals := make([]*gorgonia.Node, m.dirs)
		for dir := 0; dir < m.dirs; dir++ {
			seq, final, err := m.direction(bd, layer, dir, inputs, batch.Size())
			if err != nil {
				return nil, errors.Wrapf(err, "layer %d direction %d", layer, dir)
			}
			outs[dir], finals[dir] = seq, final
		}

		if m.dirs == 1 {
			inputs, last = outs[0], finals[0]
			continue
		}
		var err error
		if last, err = gorgonia.Concat(1, finals...); err != nil {
			return nil, err
		}
		if layer == m.cfg.Layers-1 {
			break
		}
		next := make([]*gorgonia.Node, steps)
		for t := range next {
			if next[t], err = gorgonia.Concat(1, outs[0][t], outs[1][t]); err != nil {
				return nil, err
			}
		}
		inputs = next
	}

	scores, err := bd.project(ParamFinalW, ParamFinalB, last)
	if err != nil {
		return nil, err
	}
	loss, err := m.loss(bd, scores, batch, nil, o)
	if err != nil {
		return nil, err
	}
	return m.execute(bd, &pass{scores: scores, loss: loss}, o)
}

// direction runs one direction of one layer from a zero state. Outputs are
// aligned with the input positions; final is the state after the last step
// taken (position 0 for the backward direction).
func (m *VanillaRNN) direction(bd *binder, layer, dir int, inputs []*gorgonia.Node, size int) (outs []*gorgonia.Node, final *gorgonia.Node, err error) {
	h := bd.input(fmt.Sprintf("h0.l%d.d%d", layer, dir), zeros(size, m.hidden))
	var c *gorgonia.Node
	if m.cfg.Cell == CellLSTM {
		c = bd.input(fmt.Sprintf("c0.l%d.d%d", layer, dir), zeros(size, m.hidden))
	}

	outs = make([]*gorgonia.Node, len(inputs))
	for step := range inputs {
		t := step
		if dir == 1 {
			t = len(inputs) - 1 - step
		}
		if m.cfg.Cell == CellLSTM {
			h, c, err = m.lstmStep(bd, layer, dir, inputs[t], h, c)
		} else {
			h, err = m.gruStep(bd, layer, dir, inputs[t], h)
		}
		if err != nil {
			return nil, nil, err
		}
		outs[t] = h
	}
	return outs, h, nil
}

// gate binds the named parameters of one gate.
func (m *VanillaRNN) gate(bd *binder, layer, dir int, gate string, kinds ...string) ([]*gorgonia.Node, error) {
	names := make([]string, len(kinds))
	for i, kind := range kinds {
		names[i] = m.name(layer, dir, kind, gate)
	}
	return bd.paramList(names...)
}

// affine computes x·W + h·U + b for one gate.
func (m *VanillaRNN) affine(bd *binder, layer, dir int, gate string, x, h *gorgonia.Node) (*gorgonia.Node, error) {
	p, err := m.gate(bd, layer, dir, gate, "W", "U", "b")
	if err != nil {
		return nil, err
	}
	xw, err := gorgonia.Mul(x, p[0])
	if err != nil {
		return nil, err
	}
	hu, err := gorgonia.Mul(h, p[1])
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Add(xw, hu)
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastAdd(sum, p[2], nil, []byte{0})
}

func (m *VanillaRNN) lstmStep(bd *binder, layer, dir int, x, h, c *gorgonia.Node) (hNext, cNext *gorgonia.Node, err error) {
	act := map[string]func(*gorgonia.Node) (*gorgonia.Node, error){
		"i": gorgonia.Sigmoid,
		"f": gorgonia.Sigmoid,
		"g": gorgonia.Tanh,
		"o": gorgonia.Sigmoid,
	}
	g := make(map[string]*gorgonia.Node, len(act))
	for _, gate := range cellGates[CellLSTM] {
		pre, err := m.affine(bd, layer, dir, gate, x, h)
		if err != nil {
			return nil, nil, err
		}
		if g[gate], err = act[gate](pre); err != nil {
			return nil, nil, err
		}
	}

	// c' = f*c + i*g ; h' = o*tanh(c')
	keep, err := gorgonia.HadamardProd(g["f"], c)
	if err != nil {
		return nil, nil, err
	}
	write, err := gorgonia.HadamardProd(g["i"], g["g"])
	if err != nil {
		return nil, nil, err
	}
	if cNext, err = gorgonia.Add(keep, write); err != nil {
		return nil, nil, err
	}
	squashed, err := gorgonia.Tanh(cNext)
	if err != nil {
		return nil, nil, err
	}
	if hNext, err = gorgonia.HadamardProd(g["o"], squashed); err != nil {
		return nil, nil, err
	}
	return hNext, cNext, nil
}

func (m *VanillaRNN) gruStep(bd *binder, layer, dir int, x, h *gorgonia.Node) (*gorgonia.Node, error) {
	preR, err := m.affine(bd, layer, dir, "r", x, h)
	if err != nil {
		return nil, err
	}
	r, err := gorgonia.Sigmoid(preR)
	if err != nil {
		return nil, err
	}
	preZ, err := m.affine(bd, layer, dir, "z", x, h)
	if err != nil {
		return nil, err
	}
	z, err := gorgonia.Sigmoid(preZ)
	if err != nil {
		return nil, err
	}

	// n = tanh(x·Wn + bn + r*(h·Un + bhn))
	p, err := m.gate(bd, layer, dir, "n", "W", "b", "U", "bh")
	if err != nil {
		return nil, err
	}
	xn, err := gorgonia.Mul(x, p[0])
	if err != nil {
		return nil, err
	}
	if xn, err = gorgonia.BroadcastAdd(xn, p[1], nil, []byte{0}); err != nil {
		return nil, err
	}
	hn, err := gorgonia.Mul(h, p[2])
	if err != nil {
		return nil, err
	}
	if hn, err = gorgonia.BroadcastAdd(hn, p[3], nil, []byte{0}); err != nil {
		return nil, err
	}
	reset, err := gorgonia.HadamardProd(r, hn)
	if err != nil {
		return nil, err
	}
	preN, err := gorgonia.Add(xn, reset)
	if err != nil {
		return nil, err
	}
	n, err := gorgonia.Tanh(preN)
	if err != nil {
		return nil, err
	}

	// h' = (1-z)*n + z*h = n + z*(h-n)
	delta, err := gorgonia.Sub(h, n)
	if err != nil {
		return nil, err
	}
	gated, err := gorgonia.HadamardProd(z, delta)
	if err != nil {
		return nil, err
	}
	return gorgonia.Add(n, gated)
}
