package nn

import (
	"fmt"
	"math"
)

// Tensor is a dense float32 buffer with a row-major shape. Activations and
// inference inputs use CHW order, optionally with a leading batch dimension.
type Tensor struct {
	Shape []int
	Data  []float32
}

func NewTensor(shape ...int) (*Tensor, error) {
	n := 1
	for _, d := range shape {
		if d < 1 {
			return nil, fmt.Errorf("nn: invalid tensor dimension %d in %v", d, shape)
		}
		n *= d
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, n)}, nil
}

func (t *Tensor) Elems() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// zeros is for internal use where dimensions are already validated.
func zeros(shape ...int) *Tensor {
	t, err := NewTensor(shape...)
	if err != nil {
		panic(err)
	}
	return t
}

// Softmax converts logits into a probability distribution. Stable for large
// magnitudes via max subtraction.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - max))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}
