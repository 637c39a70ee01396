package optim

import "fmt"

// SGD implements stochastic gradient descent with optional momentum and
// weight decay.
type SGD struct {
	lr       float64
	momentum float64
	decay    float64
	velocity []float32
	step     int64
}

func newSGD(cfg Config, paramCount int) (*SGD, error) {
	if cfg.Momentum < 0 || cfg.Momentum >= 1 {
		return nil, fmt.Errorf("%w: momentum %v", ErrBadConfig, cfg.Momentum)
	}
	return &SGD{
		lr:       cfg.LR,
		momentum: cfg.Momentum,
		decay:    cfg.WeightDecay,
		velocity: make([]float32, paramCount),
	}, nil
}

func (o *SGD) Name() string { return "sgd" }

func (o *SGD) Step(params, grads []float32) error {
	if err := checkSizes(o.Name(), len(o.velocity), params, grads); err != nil {
		return err
	}
	o.step++
	for i := range params {
		g := float64(grads[i]) + o.decay*float64(params[i])
		if o.momentum != 0 {
			v := o.momentum*float64(o.velocity[i]) + g
			o.velocity[i] = float32(v)
			g = v
		}
		params[i] -= float32(o.lr * g)
	}
	return nil
}

func (o *SGD) State() State {
	return State{
		Name: o.Name(),
		Step: o.step,
		Slots: map[string][]float32{
			"velocity": cloneSlot(o.velocity),
		},
	}
}

func (o *SGD) LoadState(s State) error {
	if s.Name != o.Name() {
		return fmt.Errorf("%w: state for %q, optimizer is %q", ErrBadState, s.Name, o.Name())
	}
	v, ok := s.Slots["velocity"]
	if !ok || len(v) != len(o.velocity) {
		return fmt.Errorf("%w: velocity slot has %d values, want %d", ErrBadState, len(v), len(o.velocity))
	}
	copy(o.velocity, v)
	o.step = s.Step
	return nil
}
