package nn

import "fmt"

// Shape describes a CHW activation volume. Vector activations use
// Height = Width = 1.
type Shape struct {
	Channels int
	Height   int
	Width    int
}

func (s Shape) Elems() int {
	return s.Channels * s.Height * s.Width
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Channels, s.Height, s.Width)
}

// LayerSpec is a declarative layer description. Architecture builders return
// a spec list; realization allocates weights and fixes shapes.
type LayerSpec interface {
	Kind() string
}

// Conv is a 2D convolution. NoBias is set when a normalization layer follows
// and absorbs the bias term.
type Conv struct {
	Feats  int
	Size   int
	Stride int
	Pad    int
	NoBias bool
}

func (Conv) Kind() string { return "conv" }

// BatchNorm is per-channel affine normalization using stored running
// statistics. Inference form only.
type BatchNorm struct{}

func (BatchNorm) Kind() string { return "batchnorm" }

// Activation applies a pointwise nonlinearity. Only "relu" is supported;
// anything else fails at build.
type Activation struct {
	Atype string
}

func (Activation) Kind() string { return "activation" }

type MaxPool struct {
	Size   int
	Stride int
	Pad    int
}

func (MaxPool) Kind() string { return "maxpool" }

type AvgPool struct {
	Size   int
	Stride int
}

func (AvgPool) Kind() string { return "avgpool" }

// Flatten collapses a CHW volume into a vector.
type Flatten struct{}

func (Flatten) Kind() string { return "flatten" }

// GlobalAvgPool averages each channel over its full spatial extent.
type GlobalAvgPool struct{}

func (GlobalAvgPool) Kind() string { return "gap" }

type Linear struct {
	Nout int
}

func (Linear) Kind() string { return "linear" }

// Residual wraps a body in an identity shortcut, adding the shortcut to the
// body output before a final relu. Projection inserts a strided 1x1
// conv+batchnorm shortcut when the body changes shape.
type Residual struct {
	Body       []LayerSpec
	Projection bool
}

func (Residual) Kind() string { return "residual" }
