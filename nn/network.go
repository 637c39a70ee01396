package nn

import (
	"errors"
	"fmt"
)

var ErrInputShape = errors.New("nn: input shape mismatch")

// Param is a named weight tensor. Data aliases the live layer storage, so
// writing through it (checkpoint restore) updates the network.
type Param struct {
	Name  string
	Shape []int
	Data  []float32
}

// LayerInfo is one Summary line item.
type LayerInfo struct {
	Name   string
	Kind   string
	Out    Shape
	Params int
}

// Network is a realized architecture. Weights are fixed after Build or a
// checkpoint restore; Forward only reads them, so concurrent calls on
// distinct inputs are safe.
type Network struct {
	arch    string
	classes int
	input   Shape
	layers  []layer
	params  []*Param
	byName  map[string]*Param
}

func (n *Network) Arch() string { return n.arch }
func (n *Network) Classes() int { return n.classes }
func (n *Network) Input() Shape { return n.input }

// Forward runs inference and returns raw logits. Accepts a CHW tensor or an
// NCHW tensor with batch size 1 (the preprocessing output shape).
func (n *Network) Forward(x *Tensor) ([]float32, error) {
	if x == nil {
		return nil, errors.New("nn: nil input tensor")
	}
	shape := x.Shape
	if len(shape) == 4 {
		if shape[0] != 1 {
			return nil, fmt.Errorf("%w: batch size %d, want 1", ErrInputShape, shape[0])
		}
		shape = shape[1:]
	}
	if len(shape) != 3 || shape[0] != n.input.Channels || shape[1] != n.input.Height || shape[2] != n.input.Width {
		return nil, fmt.Errorf("%w: got %v, want %s", ErrInputShape, x.Shape, n.input)
	}
	if len(x.Data) != n.input.Elems() {
		return nil, fmt.Errorf("%w: %d values for %s", ErrInputShape, len(x.Data), n.input)
	}
	cur := &Tensor{Shape: shape, Data: x.Data}
	for _, l := range n.layers {
		cur = l.forward(cur)
	}
	logits := make([]float32, len(cur.Data))
	copy(logits, cur.Data)
	return logits, nil
}

// Params returns all weight tensors in deterministic build order.
func (n *Network) Params() []*Param {
	return n.params
}

func (n *Network) LookupParam(name string) (*Param, bool) {
	p, ok := n.byName[name]
	return p, ok
}

// ParamCount counts every stored float, running statistics included.
func (n *Network) ParamCount() int {
	var total int
	for _, p := range n.params {
		total += len(p.Data)
	}
	return total
}

func (n *Network) Summary() []LayerInfo {
	infos := make([]LayerInfo, 0, len(n.layers))
	for _, l := range n.layers {
		infos = append(infos, LayerInfo{
			Name:   l.name(),
			Kind:   l.kind(),
			Out:    l.out(),
			Params: l.paramCount(),
		})
	}
	return infos
}

func (n *Network) collectParams() {
	n.params = n.params[:0]
	n.byName = map[string]*Param{}
	collectLayerParams(n.layers, &n.params)
	for _, p := range n.params {
		n.byName[p.Name] = p
	}
}

func collectLayerParams(layers []layer, out *[]*Param) {
	for _, l := range layers {
		switch v := l.(type) {
		case *conv2d:
			shape := []int{v.outShape.Channels, v.in.Channels, v.size, v.size}
			*out = append(*out, &Param{Name: v.id + ".weight", Shape: shape, Data: v.weight})
			if v.bias != nil {
				*out = append(*out, &Param{Name: v.id + ".bias", Shape: []int{v.outShape.Channels}, Data: v.bias})
			}
		case *batchNorm2d:
			c := []int{v.shape.Channels}
			*out = append(*out,
				&Param{Name: v.id + ".gamma", Shape: c, Data: v.gamma},
				&Param{Name: v.id + ".beta", Shape: c, Data: v.beta},
				&Param{Name: v.id + ".mean", Shape: c, Data: v.mean},
				&Param{Name: v.id + ".var", Shape: c, Data: v.vari},
			)
		case *linearLayer:
			*out = append(*out,
				&Param{Name: v.id + ".weight", Shape: []int{v.outShape.Channels, v.in}, Data: v.weight},
				&Param{Name: v.id + ".bias", Shape: []int{v.outShape.Channels}, Data: v.bias},
			)
		case *residualBlock:
			collectLayerParams(v.body, out)
			collectLayerParams(v.shortcut, out)
		}
	}
}
