package model

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// binder builds one forward graph. Parameters are bound at most once per
// graph, so layers that share a table share the node.
type binder struct {
	g      *gorgonia.ExprGraph
	params *Params
	nodes  map[string]*gorgonia.Node
	bound  []string
	consts int
}

func newBinder(params *Params) *binder {
	return &binder{
		g:      gorgonia.NewGraph(),
		params: params,
		nodes:  make(map[string]*gorgonia.Node),
	}
}

// param returns the graph node for a named parameter.
func (b *binder) param(name string) (*gorgonia.Node, error) {
	if n, ok := b.nodes[name]; ok {
		return n, nil
	}
	t := b.params.Get(name)
	if t == nil {
		return nil, errors.Wrapf(ErrConfigMismatch, "parameter %q not initialized", name)
	}
	n := gorgonia.NewTensor(b.g, t.Dtype(), t.Dims(),
		gorgonia.WithShape(t.Shape()...),
		gorgonia.WithName(name),
		gorgonia.WithValue(t))
	b.nodes[name] = n
	b.bound = append(b.bound, name)
	return n, nil
}

// paramList binds several parameters in order.
func (b *binder) paramList(names ...string) ([]*gorgonia.Node, error) {
	out := make([]*gorgonia.Node, len(names))
	for i, name := range names {
		n, err := b.param(name)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// learnables are the parameter nodes used by this graph, in bind order.
func (b *binder) learnables() []*gorgonia.Node {
	out := make([]*gorgonia.Node, len(b.bound))
	for i, name := range b.bound {
		out[i] = b.nodes[name]
	}
	return out
}

// indices creates an integer input vector.
func (b *binder) indices(name string, ids []int) *gorgonia.Node {
	backing := make([]int, len(ids))
	copy(backing, ids)
	return gorgonia.NewVector(b.g, tensor.Int,
		gorgonia.WithShape(len(ids)),
		gorgonia.WithName(name),
		gorgonia.WithValue(tensor.New(tensor.WithShape(len(ids)), tensor.WithBacking(backing))))
}

// input creates a float input node holding t.
func (b *binder) input(name string, t tensor.Tensor) *gorgonia.Node {
	return gorgonia.NewTensor(b.g, t.Dtype(), t.Dims(),
		gorgonia.WithShape(t.Shape()...),
		gorgonia.WithName(name),
		gorgonia.WithValue(t))
}

// scalar creates a named float64 scalar input.
func (b *binder) scalar(v float64) *gorgonia.Node {
	b.consts++
	return gorgonia.NodeFromAny(b.g, v, gorgonia.WithName(fmt.Sprintf("c%d", b.consts)))
}

// rows gathers the rows of table for ids: (len(ids), dim).
func (b *binder) rows(table, name string, ids []int) (*gorgonia.Node, error) {
	t, err := b.param(table)
	if err != nil {
		return nil, err
	}
	rows, err := gorgonia.ByIndices(t, b.indices(name, ids), 0)
	if err != nil {
		return nil, errors.Wrap(err, "embedding lookup")
	}
	return rows, nil
}

// lookup gathers rows of table for ids and shapes them as (n, l, dim).
func (b *binder) lookup(table, name string, ids []int, n, l int) (*gorgonia.Node, error) {
	rows, err := b.rows(table, name, ids)
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(rows, tensor.Shape{n, l, rows.Shape()[1]})
}

// convParams binds a filter and bias pair.
func (b *binder) convParams(filter, bias string) (f, c *gorgonia.Node, err error) {
	ns, err := b.paramList(filter, bias)
	if err != nil {
		return nil, nil, err
	}
	return ns[0], ns[1], nil
}

// conv1d convolves x (n, l, d) along l with filter (f, 1, k, d), adds bias
// (1, f) and applies tanh. The result is (n, l', f) with
// l' = l + 2*pad - k + 1.
func conv1d(x, filter, bias *gorgonia.Node, pad int) (*gorgonia.Node, error) {
	n, l, d := x.Shape()[0], x.Shape()[1], x.Shape()[2]
	f, k := filter.Shape()[0], filter.Shape()[2]

	im, err := gorgonia.Reshape(x, tensor.Shape{n, 1, l, d})
	if err != nil {
		return nil, err
	}
	c, err := gorgonia.Conv2d(im, filter, tensor.Shape{k, d}, []int{pad, 0}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, errors.Wrap(err, "conv")
	}
	lout := c.Shape()[2]

	// (n, f, l', 1) -> (n, l', f)
	c3, err := gorgonia.Reshape(c, tensor.Shape{n, f, lout})
	if err != nil {
		return nil, err
	}
	ct, err := gorgonia.Transpose(c3, 0, 2, 1)
	if err != nil {
		return nil, err
	}
	flat, err := gorgonia.Reshape(ct, tensor.Shape{n * lout, f})
	if err != nil {
		return nil, err
	}
	biased, err := gorgonia.BroadcastAdd(flat, bias, nil, []byte{0})
	if err != nil {
		return nil, err
	}
	act, err := gorgonia.Tanh(biased)
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(act, tensor.Shape{n, lout, f})
}

// bceWithLogits is the mean binary cross-entropy of sigmoid(z) against y in
// the stable form max(z, 0) - z*y + log(1 + exp(-|z|)).
func (b *binder) bceWithLogits(z, y *gorgonia.Node) (*gorgonia.Node, error) {
	relu, err := gorgonia.Rectify(z)
	if err != nil {
		return nil, err
	}
	zy, err := gorgonia.HadamardProd(z, y)
	if err != nil {
		return nil, err
	}
	abs, err := gorgonia.Abs(z)
	if err != nil {
		return nil, err
	}
	neg, err := gorgonia.Neg(abs)
	if err != nil {
		return nil, err
	}
	exp, err := gorgonia.Exp(neg)
	if err != nil {
		return nil, err
	}
	onePlus, err := gorgonia.Add(exp, b.scalar(1))
	if err != nil {
		return nil, err
	}
	softplus, err := gorgonia.Log(onePlus)
	if err != nil {
		return nil, err
	}
	diff, err := gorgonia.Sub(relu, zy)
	if err != nil {
		return nil, err
	}
	elem, err := gorgonia.Add(diff, softplus)
	if err != nil {
		return nil, err
	}
	return gorgonia.Mean(elem)
}
