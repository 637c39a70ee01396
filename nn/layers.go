package nn

import "math"

const bnEpsilon = 1e-5

// layer is a realized network stage with fixed shapes and allocated weights.
// forward assumes the input already matches the shape fixed at build time.
type layer interface {
	name() string
	kind() string
	out() Shape
	paramCount() int
	forward(x *Tensor) *Tensor
}

type conv2d struct {
	id       string
	in       Shape
	outShape Shape
	size     int
	stride   int
	pad      int
	weight   []float32 // F x C x K x K
	bias     []float32 // F, nil for bias-free convs
}

func (l *conv2d) name() string { return l.id }
func (l *conv2d) kind() string { return "conv" }
func (l *conv2d) out() Shape   { return l.outShape }

func (l *conv2d) paramCount() int {
	return len(l.weight) + len(l.bias)
}

func (l *conv2d) forward(x *Tensor) *Tensor {
	inC, inH, inW := l.in.Channels, l.in.Height, l.in.Width
	outC, outH, outW := l.outShape.Channels, l.outShape.Height, l.outShape.Width
	y := zeros(outC, outH, outW)
	k := l.size
	for f := 0; f < outC; f++ {
		var b float32
		if l.bias != nil {
			b = l.bias[f]
		}
		wBase := f * inC * k * k
		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				sum := b
				for c := 0; c < inC; c++ {
					xBase := c * inH * inW
					wRow := wBase + c*k*k
					for ky := 0; ky < k; ky++ {
						iy := oy*l.stride - l.pad + ky
						if iy < 0 || iy >= inH {
							continue
						}
						for kx := 0; kx < k; kx++ {
							ix := ox*l.stride - l.pad + kx
							if ix < 0 || ix >= inW {
								continue
							}
							sum += x.Data[xBase+iy*inW+ix] * l.weight[wRow+ky*k+kx]
						}
					}
				}
				y.Data[(f*outH+oy)*outW+ox] = sum
			}
		}
	}
	return y
}

type batchNorm2d struct {
	id    string
	shape Shape
	gamma []float32
	beta  []float32
	mean  []float32
	vari  []float32
}

func (l *batchNorm2d) name() string    { return l.id }
func (l *batchNorm2d) kind() string    { return "batchnorm" }
func (l *batchNorm2d) out() Shape      { return l.shape }
func (l *batchNorm2d) paramCount() int { return 4 * l.shape.Channels }

func (l *batchNorm2d) forward(x *Tensor) *Tensor {
	plane := l.shape.Height * l.shape.Width
	y := zeros(l.shape.Channels, l.shape.Height, l.shape.Width)
	for c := 0; c < l.shape.Channels; c++ {
		scale := l.gamma[c] / float32(math.Sqrt(float64(l.vari[c])+bnEpsilon))
		shift := l.beta[c] - scale*l.mean[c]
		base := c * plane
		for i := 0; i < plane; i++ {
			y.Data[base+i] = x.Data[base+i]*scale + shift
		}
	}
	return y
}

type relu struct {
	id    string
	shape Shape
}

func (l *relu) name() string    { return l.id }
func (l *relu) kind() string    { return "relu" }
func (l *relu) out() Shape      { return l.shape }
func (l *relu) paramCount() int { return 0 }

func (l *relu) forward(x *Tensor) *Tensor {
	y := &Tensor{Shape: append([]int(nil), x.Shape...), Data: make([]float32, len(x.Data))}
	for i, v := range x.Data {
		if v > 0 {
			y.Data[i] = v
		}
	}
	return y
}

type maxPool2d struct {
	id       string
	in       Shape
	outShape Shape
	size     int
	stride   int
	pad      int
}

func (l *maxPool2d) name() string    { return l.id }
func (l *maxPool2d) kind() string    { return "maxpool" }
func (l *maxPool2d) out() Shape      { return l.outShape }
func (l *maxPool2d) paramCount() int { return 0 }

func (l *maxPool2d) forward(x *Tensor) *Tensor {
	inH, inW := l.in.Height, l.in.Width
	outH, outW := l.outShape.Height, l.outShape.Width
	y := zeros(l.outShape.Channels, outH, outW)
	for c := 0; c < l.outShape.Channels; c++ {
		base := c * inH * inW
		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				best := float32(math.Inf(-1))
				seen := false
				for ky := 0; ky < l.size; ky++ {
					iy := oy*l.stride - l.pad + ky
					if iy < 0 || iy >= inH {
						continue
					}
					for kx := 0; kx < l.size; kx++ {
						ix := ox*l.stride - l.pad + kx
						if ix < 0 || ix >= inW {
							continue
						}
						v := x.Data[base+iy*inW+ix]
						if !seen || v > best {
							best = v
							seen = true
						}
					}
				}
				if seen {
					y.Data[(c*outH+oy)*outW+ox] = best
				}
			}
		}
	}
	return y
}

type avgPool2d struct {
	id       string
	in       Shape
	outShape Shape
	size     int
	stride   int
}

func (l *avgPool2d) name() string    { return l.id }
func (l *avgPool2d) kind() string    { return "avgpool" }
func (l *avgPool2d) out() Shape      { return l.outShape }
func (l *avgPool2d) paramCount() int { return 0 }

func (l *avgPool2d) forward(x *Tensor) *Tensor {
	inH, inW := l.in.Height, l.in.Width
	outH, outW := l.outShape.Height, l.outShape.Width
	y := zeros(l.outShape.Channels, outH, outW)
	norm := float32(l.size * l.size)
	for c := 0; c < l.outShape.Channels; c++ {
		base := c * inH * inW
		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				var sum float32
				for ky := 0; ky < l.size; ky++ {
					for kx := 0; kx < l.size; kx++ {
						sum += x.Data[base+(oy*l.stride+ky)*inW+ox*l.stride+kx]
					}
				}
				y.Data[(c*outH+oy)*outW+ox] = sum / norm
			}
		}
	}
	return y
}

type flattenLayer struct {
	id       string
	outShape Shape
}

func (l *flattenLayer) name() string    { return l.id }
func (l *flattenLayer) kind() string    { return "flatten" }
func (l *flattenLayer) out() Shape      { return l.outShape }
func (l *flattenLayer) paramCount() int { return 0 }

func (l *flattenLayer) forward(x *Tensor) *Tensor {
	return &Tensor{Shape: []int{l.outShape.Channels}, Data: x.Data}
}

type globalAvgPool struct {
	id       string
	in       Shape
	outShape Shape
}

func (l *globalAvgPool) name() string    { return l.id }
func (l *globalAvgPool) kind() string    { return "gap" }
func (l *globalAvgPool) out() Shape      { return l.outShape }
func (l *globalAvgPool) paramCount() int { return 0 }

func (l *globalAvgPool) forward(x *Tensor) *Tensor {
	plane := l.in.Height * l.in.Width
	y := zeros(l.in.Channels)
	for c := 0; c < l.in.Channels; c++ {
		var sum float32
		base := c * plane
		for i := 0; i < plane; i++ {
			sum += x.Data[base+i]
		}
		y.Data[c] = sum / float32(plane)
	}
	return y
}

type linearLayer struct {
	id       string
	in       int
	outShape Shape
	weight   []float32 // Out x In
	bias     []float32 // Out
}

func (l *linearLayer) name() string    { return l.id }
func (l *linearLayer) kind() string    { return "linear" }
func (l *linearLayer) out() Shape      { return l.outShape }
func (l *linearLayer) paramCount() int { return len(l.weight) + len(l.bias) }

func (l *linearLayer) forward(x *Tensor) *Tensor {
	n := l.outShape.Channels
	y := zeros(n)
	for o := 0; o < n; o++ {
		sum := l.bias[o]
		row := o * l.in
		for i := 0; i < l.in; i++ {
			sum += l.weight[row+i] * x.Data[i]
		}
		y.Data[o] = sum
	}
	return y
}

// residualBlock runs its body and adds the shortcut (identity or projection)
// before a final relu, the usual ResNet block wiring.
type residualBlock struct {
	id       string
	outShape Shape
	body     []layer
	shortcut []layer // nil means identity
}

func (l *residualBlock) name() string { return l.id }
func (l *residualBlock) kind() string { return "residual" }
func (l *residualBlock) out() Shape   { return l.outShape }

func (l *residualBlock) paramCount() int {
	var n int
	for _, b := range l.body {
		n += b.paramCount()
	}
	for _, s := range l.shortcut {
		n += s.paramCount()
	}
	return n
}

func (l *residualBlock) forward(x *Tensor) *Tensor {
	y := x
	for _, b := range l.body {
		y = b.forward(y)
	}
	sc := x
	for _, s := range l.shortcut {
		sc = s.forward(sc)
	}
	out := &Tensor{Shape: append([]int(nil), y.Shape...), Data: make([]float32, len(y.Data))}
	for i := range y.Data {
		v := y.Data[i] + sc.Data[i]
		if v > 0 {
			out.Data[i] = v
		}
	}
	return out
}
