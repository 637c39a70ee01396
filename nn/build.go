package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// DefaultInput matches the inference preprocessing target.
var DefaultInput = Shape{Channels: 3, Height: 160, Width: 240}

// ArchOptions parameterize a registered architecture. The zero Input falls
// back to DefaultInput. Seed fixes weight initialization, so equal options
// build identical networks.
type ArchOptions struct {
	NumClasses int
	Input      Shape
	Seed       int64
}

func (o ArchOptions) withDefaults() ArchOptions {
	if o.Input == (Shape{}) {
		o.Input = DefaultInput
	}
	return o
}

// Build resolves arch in the registry, expands its layer specs and realizes
// them into a network with freshly initialized weights.
func Build(arch string, opts ArchOptions) (*Network, error) {
	b, name, err := Resolve(arch)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if opts.NumClasses < 2 {
		return nil, fmt.Errorf("%w: NumClasses %d, need at least 2", ErrBadOptions, opts.NumClasses)
	}
	if opts.Input.Channels < 1 || opts.Input.Height < 1 || opts.Input.Width < 1 {
		return nil, fmt.Errorf("%w: input shape %s", ErrBadOptions, opts.Input)
	}
	specs, err := b(opts)
	if err != nil {
		return nil, fmt.Errorf("nn: expanding %s: %w", name, err)
	}
	return realize(name, specs, opts)
}

func realize(arch string, specs []LayerSpec, opts ArchOptions) (*Network, error) {
	rng := rand.New(rand.NewSource(opts.Seed))
	layers, out, err := realizeList(specs, opts.Input, "", rng)
	if err != nil {
		return nil, fmt.Errorf("nn: building %s: %w", arch, err)
	}
	if out.Elems() != opts.NumClasses {
		return nil, fmt.Errorf("nn: building %s: output %s does not match %d classes",
			arch, out, opts.NumClasses)
	}
	net := &Network{
		arch:    arch,
		classes: opts.NumClasses,
		input:   opts.Input,
		layers:  layers,
	}
	net.collectParams()
	return net, nil
}

func realizeList(specs []LayerSpec, in Shape, prefix string, rng *rand.Rand) ([]layer, Shape, error) {
	counters := map[string]int{}
	next := func(kind string) string {
		counters[kind]++
		return fmt.Sprintf("%s%s%d", prefix, kind, counters[kind])
	}

	layers := make([]layer, 0, len(specs))
	cur := in
	for _, spec := range specs {
		l, out, err := realizeOne(spec, cur, next, rng)
		if err != nil {
			return nil, Shape{}, err
		}
		layers = append(layers, l)
		cur = out
	}
	return layers, cur, nil
}

func realizeOne(spec LayerSpec, in Shape, next func(string) string, rng *rand.Rand) (layer, Shape, error) {
	switch s := spec.(type) {
	case Conv:
		return realizeConv(s, in, next("conv"), rng)
	case BatchNorm:
		l := &batchNorm2d{
			id:    next("bn"),
			shape: in,
			gamma: fill(in.Channels, 1),
			beta:  make([]float32, in.Channels),
			mean:  make([]float32, in.Channels),
			vari:  fill(in.Channels, 1),
		}
		return l, in, nil
	case Activation:
		if s.Atype != "relu" {
			return nil, Shape{}, fmt.Errorf("unknown activation %q", s.Atype)
		}
		return &relu{id: next("relu"), shape: in}, in, nil
	case MaxPool:
		stride := s.Stride
		if stride == 0 {
			stride = s.Size
		}
		out, err := poolShape(in, s.Size, stride, s.Pad)
		if err != nil {
			return nil, Shape{}, err
		}
		l := &maxPool2d{id: next("pool"), in: in, outShape: out, size: s.Size, stride: stride, pad: s.Pad}
		return l, out, nil
	case AvgPool:
		stride := s.Stride
		if stride == 0 {
			stride = s.Size
		}
		out, err := poolShape(in, s.Size, stride, 0)
		if err != nil {
			return nil, Shape{}, err
		}
		l := &avgPool2d{id: next("avgpool"), in: in, outShape: out, size: s.Size, stride: stride}
		return l, out, nil
	case Flatten:
		out := Shape{Channels: in.Elems(), Height: 1, Width: 1}
		return &flattenLayer{id: next("flatten"), outShape: out}, out, nil
	case GlobalAvgPool:
		out := Shape{Channels: in.Channels, Height: 1, Width: 1}
		return &globalAvgPool{id: next("gap"), in: in, outShape: out}, out, nil
	case Linear:
		if s.Nout < 1 {
			return nil, Shape{}, fmt.Errorf("linear output size %d", s.Nout)
		}
		fanIn := in.Elems()
		l := &linearLayer{
			id:       next("fc"),
			in:       fanIn,
			outShape: Shape{Channels: s.Nout, Height: 1, Width: 1},
			weight:   heInit(rng, s.Nout*fanIn, fanIn),
			bias:     make([]float32, s.Nout),
		}
		return l, l.outShape, nil
	case Residual:
		return realizeResidual(s, in, next("block"), rng)
	default:
		return nil, Shape{}, fmt.Errorf("unknown layer spec %T", spec)
	}
}

func realizeConv(s Conv, in Shape, id string, rng *rand.Rand) (layer, Shape, error) {
	if s.Feats < 1 || s.Size < 1 || s.Pad < 0 {
		return nil, Shape{}, fmt.Errorf("conv %s: bad geometry feats=%d size=%d pad=%d", id, s.Feats, s.Size, s.Pad)
	}
	stride := s.Stride
	if stride == 0 {
		stride = 1
	}
	outH := (in.Height+2*s.Pad-s.Size)/stride + 1
	outW := (in.Width+2*s.Pad-s.Size)/stride + 1
	if outH < 1 || outW < 1 {
		return nil, Shape{}, fmt.Errorf("conv %s: %s collapses below 1x1", id, in)
	}
	fanIn := in.Channels * s.Size * s.Size
	l := &conv2d{
		id:       id,
		in:       in,
		outShape: Shape{Channels: s.Feats, Height: outH, Width: outW},
		size:     s.Size,
		stride:   stride,
		pad:      s.Pad,
		weight:   heInit(rng, s.Feats*fanIn, fanIn),
	}
	if !s.NoBias {
		l.bias = make([]float32, s.Feats)
	}
	return l, l.outShape, nil
}

func realizeResidual(s Residual, in Shape, id string, rng *rand.Rand) (layer, Shape, error) {
	if len(s.Body) == 0 {
		return nil, Shape{}, fmt.Errorf("residual %s: empty body", id)
	}
	body, out, err := realizeList(s.Body, in, id+".", rng)
	if err != nil {
		return nil, Shape{}, err
	}
	block := &residualBlock{id: id, outShape: out, body: body}
	if s.Projection {
		stride, err := projectionStride(in, out)
		if err != nil {
			return nil, Shape{}, fmt.Errorf("residual %s: %w", id, err)
		}
		proj, projOut, err := realizeConv(Conv{
			Feats:  out.Channels,
			Size:   1,
			Stride: stride,
			NoBias: true,
		}, in, id+".down.conv", rng)
		if err != nil {
			return nil, Shape{}, err
		}
		if projOut != out {
			return nil, Shape{}, fmt.Errorf("residual %s: projection %s vs body %s", id, projOut, out)
		}
		norm := &batchNorm2d{
			id:    id + ".down.bn",
			shape: projOut,
			gamma: fill(projOut.Channels, 1),
			beta:  make([]float32, projOut.Channels),
			mean:  make([]float32, projOut.Channels),
			vari:  fill(projOut.Channels, 1),
		}
		block.shortcut = []layer{proj, norm}
	} else if in != out {
		return nil, Shape{}, fmt.Errorf("residual %s: %s to %s needs a projection shortcut", id, in, out)
	}
	return block, out, nil
}

func projectionStride(in, out Shape) (int, error) {
	if out.Height < 1 || out.Width < 1 {
		return 0, fmt.Errorf("body output %s", out)
	}
	// Ceil division matches a strided 1x1 conv without padding.
	sh := (in.Height + out.Height - 1) / out.Height
	sw := (in.Width + out.Width - 1) / out.Width
	if sh != sw || sh < 1 {
		return 0, fmt.Errorf("cannot project %s to %s", in, out)
	}
	if (in.Height-1)/sh+1 != out.Height || (in.Width-1)/sw+1 != out.Width {
		return 0, fmt.Errorf("cannot project %s to %s", in, out)
	}
	return sh, nil
}

func poolShape(in Shape, size, stride, pad int) (Shape, error) {
	if size < 1 || stride < 1 || pad < 0 {
		return Shape{}, fmt.Errorf("pool geometry size=%d stride=%d pad=%d", size, stride, pad)
	}
	outH := (in.Height+2*pad-size)/stride + 1
	outW := (in.Width+2*pad-size)/stride + 1
	if outH < 1 || outW < 1 {
		return Shape{}, fmt.Errorf("pool: %s collapses below 1x1", in)
	}
	return Shape{Channels: in.Channels, Height: outH, Width: outW}, nil
}

// heInit draws n weights from N(0, sqrt(2/fanIn)), the usual initialization
// for relu networks.
func heInit(rng *rand.Rand, n, fanIn int) []float32 {
	std := math.Sqrt(2 / float64(fanIn))
	w := make([]float32, n)
	for i := range w {
		w[i] = float32(rng.NormFloat64() * std)
	}
	return w
}

func fill(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}
