package model

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"

	"icdcode/embedding"
)

// Parameter names shared across the classifiers.
const (
	ParamEmbed     = "embed"
	ParamConvW     = "conv.weight"
	ParamConvB     = "conv.bias"
	ParamU         = "U.weight"
	ParamFinalW    = "final.weight"
	ParamFinalB    = "final.bias"
	ParamDescEmbed = "desc.embed"
	ParamDescConvW = "desc.conv.weight"
	ParamDescConvB = "desc.conv.bias"
	ParamDescFcW   = "desc.fc.weight"
	ParamDescFcB   = "desc.fc.bias"
)

// Params holds the learnable tensors of a classifier outside of any graph.
// Each forward pass binds these tensors into a fresh graph, so an optimizer
// updating them in place is seen by the next pass.
type Params struct {
	names  []string
	values map[string]tensor.Tensor
}

func newParams() *Params {
	return &Params{values: make(map[string]tensor.Tensor)}
}

func (p *Params) add(name string, t tensor.Tensor) {
	if _, ok := p.values[name]; !ok {
		p.names = append(p.names, name)
	}
	p.values[name] = t
}

// Get returns the tensor named name, or nil.
func (p *Params) Get(name string) tensor.Tensor {
	return p.values[name]
}

// Set replaces an existing parameter. The shape must not change.
func (p *Params) Set(name string, t tensor.Tensor) error {
	old, ok := p.values[name]
	if !ok {
		return mismatch("unknown parameter %q", name)
	}
	if !old.Shape().Eq(t.Shape()) {
		return mismatch("parameter %q: shape %v, got %v", name, old.Shape(), t.Shape())
	}
	p.values[name] = t
	return nil
}

// Names lists the parameters in creation order.
func (p *Params) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Clone snapshots every parameter.
func (p *Params) Clone() *Params {
	out := newParams()
	for _, name := range p.names {
		out.add(name, p.values[name].Clone().(tensor.Tensor))
	}
	return out
}

// floats returns the backing slice of a float64 parameter.
func (p *Params) floats(name string) []float64 {
	return p.values[name].Data().([]float64)
}

// initializer draws parameter values from a single seeded source so a
// given config always yields the same weights.
type initializer struct {
	src rand.Source
}

func newInitializer(seed uint64) *initializer {
	return &initializer{src: rand.NewSource(seed)}
}

func (in *initializer) uniform(bound float64, shape ...int) tensor.Tensor {
	u := distuv.Uniform{Min: -bound, Max: bound, Src: in.src}
	data := make([]float64, tensor.Shape(shape).TotalSize())
	for i := range data {
		data[i] = u.Rand()
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// xavier is Glorot uniform initialization for the given fans.
func (in *initializer) xavier(fanIn, fanOut int, shape ...int) tensor.Tensor {
	return in.uniform(embedding.XavierBound(fanIn, fanOut), shape...)
}

// bias mirrors the default linear/conv bias init, U(-1/sqrt(fanIn), 1/sqrt(fanIn)).
func (in *initializer) bias(fanIn int, shape ...int) tensor.Tensor {
	return in.uniform(1/math.Sqrt(float64(fanIn)), shape...)
}

// keepMask draws an inverted-dropout mask: 1/(1-p) with probability 1-p,
// else 0.
func (in *initializer) keepMask(p float64, shape ...int) tensor.Tensor {
	keep := distuv.Bernoulli{P: 1 - p, Src: in.src}
	scale := 1 / (1 - p)
	data := make([]float64, tensor.Shape(shape).TotalSize())
	for i := range data {
		data[i] = keep.Rand() * scale
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

func zeros(shape ...int) tensor.Tensor {
	return tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(shape...))
}
