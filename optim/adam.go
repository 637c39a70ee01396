package optim

import (
	"fmt"
	"math"
)

// Adam implements the Adam update rule with bias-corrected first and second
// moment estimates.
type Adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	decay float64
	m     []float32
	v     []float32
	step  int64
}

func newAdam(cfg Config, paramCount int) (*Adam, error) {
	beta1, beta2, eps := cfg.Beta1, cfg.Beta2, cfg.Epsilon
	if beta1 == 0 && beta2 == 0 {
		beta1, beta2 = 0.9, 0.999
	}
	if eps == 0 {
		eps = 1e-8
	}
	if beta1 < 0 || beta1 >= 1 || beta2 < 0 || beta2 >= 1 {
		return nil, fmt.Errorf("%w: betas (%v, %v)", ErrBadConfig, beta1, beta2)
	}
	if eps < 0 {
		return nil, fmt.Errorf("%w: epsilon %v", ErrBadConfig, eps)
	}
	return &Adam{
		lr:    cfg.LR,
		beta1: beta1,
		beta2: beta2,
		eps:   eps,
		decay: cfg.WeightDecay,
		m:     make([]float32, paramCount),
		v:     make([]float32, paramCount),
	}, nil
}

func (o *Adam) Name() string { return "adam" }

func (o *Adam) Step(params, grads []float32) error {
	if err := checkSizes(o.Name(), len(o.m), params, grads); err != nil {
		return err
	}
	o.step++
	c1 := 1 - math.Pow(o.beta1, float64(o.step))
	c2 := 1 - math.Pow(o.beta2, float64(o.step))
	for i := range params {
		g := float64(grads[i]) + o.decay*float64(params[i])
		m := o.beta1*float64(o.m[i]) + (1-o.beta1)*g
		v := o.beta2*float64(o.v[i]) + (1-o.beta2)*g*g
		o.m[i] = float32(m)
		o.v[i] = float32(v)
		mHat := m / c1
		vHat := v / c2
		params[i] -= float32(o.lr * mHat / (math.Sqrt(vHat) + o.eps))
	}
	return nil
}

func (o *Adam) State() State {
	return State{
		Name: o.Name(),
		Step: o.step,
		Slots: map[string][]float32{
			"m": cloneSlot(o.m),
			"v": cloneSlot(o.v),
		},
	}
}

func (o *Adam) LoadState(s State) error {
	if s.Name != o.Name() {
		return fmt.Errorf("%w: state for %q, optimizer is %q", ErrBadState, s.Name, o.Name())
	}
	m, okM := s.Slots["m"]
	v, okV := s.Slots["v"]
	if !okM || !okV || len(m) != len(o.m) || len(v) != len(o.v) {
		return fmt.Errorf("%w: moment slots have %d/%d values, want %d", ErrBadState, len(m), len(v), len(o.m))
	}
	copy(o.m, m)
	copy(o.v, v)
	o.step = s.Step
	return nil
}
