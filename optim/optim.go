// Package optim configures and applies the update rules the training
// workflow selects by name. There is no autograd here; callers supply
// gradients.
package optim

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownOptimizer = errors.New("optim: unknown optimizer")
	ErrSizeMismatch     = errors.New("optim: size mismatch")
	ErrBadConfig        = errors.New("optim: bad config")
	ErrBadState         = errors.New("optim: state mismatch")
)

// Config carries the hyperparameters for either optimizer. Zero Beta1,
// Beta2 and Epsilon take the usual defaults at New; everything else is used
// as given.
type Config struct {
	Name        string
	LR          float64
	Momentum    float64
	Beta1       float64
	Beta2       float64
	Epsilon     float64
	WeightDecay float64
}

// Default returns the standard hyperparameters for the named optimizer.
func Default(name string) Config {
	return Config{
		Name:     name,
		LR:       0.001,
		Momentum: 0.9,
		Beta1:    0.9,
		Beta2:    0.999,
		Epsilon:  1e-8,
	}
}

// State is a serializable optimizer snapshot. Slots hold the per-parameter
// accumulators ("velocity" for sgd, "m" and "v" for adam).
type State struct {
	Name  string
	Step  int64
	Slots map[string][]float32
}

// Optimizer applies one update rule over a flat parameter vector.
type Optimizer interface {
	Name() string
	// Step updates params in place from grads. Both slices must match the
	// size given at New; on mismatch nothing is modified.
	Step(params, grads []float32) error
	State() State
	LoadState(s State) error
}

// New builds the named optimizer for a parameter vector of size paramCount.
// The name is matched case-insensitively, mirroring how run configs spell
// "Adam" and "SGD".
func New(cfg Config, paramCount int) (Optimizer, error) {
	if paramCount < 0 {
		return nil, fmt.Errorf("%w: negative param count %d", ErrBadConfig, paramCount)
	}
	if cfg.LR <= 0 {
		return nil, fmt.Errorf("%w: learning rate %v", ErrBadConfig, cfg.LR)
	}
	if cfg.WeightDecay < 0 {
		return nil, fmt.Errorf("%w: weight decay %v", ErrBadConfig, cfg.WeightDecay)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "sgd":
		return newSGD(cfg, paramCount)
	case "adam":
		return newAdam(cfg, paramCount)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOptimizer, cfg.Name)
	}
}

func checkSizes(name string, want int, params, grads []float32) error {
	if len(params) != want || len(grads) != want {
		return fmt.Errorf("%w: %s got params=%d grads=%d, want %d",
			ErrSizeMismatch, name, len(params), len(grads), want)
	}
	return nil
}

func cloneSlot(s []float32) []float32 {
	out := make([]float32, len(s))
	copy(out, s)
	return out
}
