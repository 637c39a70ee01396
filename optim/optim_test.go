package optim

import (
	"errors"
	"math"
	"testing"

	"github.com/classnets/classnets/internal/testutil/testlog"
)

func TestNewDispatchIsCaseInsensitive(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		name string
		want string
	}{
		{"sgd", "sgd"},
		{"SGD", "sgd"},
		{"Adam", "adam"},
		{"  adam ", "adam"},
	}
	for _, tc := range cases {
		opt, err := New(Config{Name: tc.name, LR: 0.01}, 4)
		if err != nil {
			t.Fatalf("New(%q): %v", tc.name, err)
		}
		if opt.Name() != tc.want {
			t.Fatalf("New(%q).Name() = %q, want %q", tc.name, opt.Name(), tc.want)
		}
	}
}

func TestNewRejectsUnknownName(t *testing.T) {
	testlog.Start(t)

	if _, err := New(Config{Name: "rmsprop", LR: 0.01}, 4); !errors.Is(err, ErrUnknownOptimizer) {
		t.Fatalf("expected ErrUnknownOptimizer, got %v", err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	testlog.Start(t)

	if _, err := New(Config{Name: "sgd", LR: 0}, 4); !errors.Is(err, ErrBadConfig) {
		t.Fatalf("expected ErrBadConfig for zero lr, got %v", err)
	}
	if _, err := New(Config{Name: "sgd", LR: -1}, 4); !errors.Is(err, ErrBadConfig) {
		t.Fatalf("expected ErrBadConfig for negative lr, got %v", err)
	}
	if _, err := New(Config{Name: "adam", LR: 0.01, Beta1: 1.5, Beta2: 0.9}, 4); !errors.Is(err, ErrBadConfig) {
		t.Fatalf("expected ErrBadConfig for beta1 out of range, got %v", err)
	}
	if _, err := New(Config{Name: "sgd", LR: 0.01, Momentum: 1}, 4); !errors.Is(err, ErrBadConfig) {
		t.Fatalf("expected ErrBadConfig for momentum 1, got %v", err)
	}
}

func TestSGDStepPlain(t *testing.T) {
	testlog.Start(t)

	opt, err := New(Config{Name: "sgd", LR: 0.1}, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	params := []float32{1, 2, 3}
	grads := []float32{1, 1, 1}
	if err := opt.Step(params, grads); err != nil {
		t.Fatalf("Step: %v", err)
	}
	want := []float32{0.9, 1.9, 2.9}
	for i := range want {
		if math.Abs(float64(params[i]-want[i])) > 1e-6 {
			t.Fatalf("params[%d] = %v, want %v", i, params[i], want[i])
		}
	}
}

func TestSGDMomentumAccumulates(t *testing.T) {
	testlog.Start(t)

	opt, err := New(Config{Name: "sgd", LR: 0.1, Momentum: 0.9}, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	params := []float32{0}
	grads := []float32{1}
	// v1 = 1, p = -0.1; v2 = 1.9, p = -0.29
	if err := opt.Step(params, grads); err != nil {
		t.Fatalf("Step 1: %v", err)
	}
	if err := opt.Step(params, grads); err != nil {
		t.Fatalf("Step 2: %v", err)
	}
	if math.Abs(float64(params[0])+0.29) > 1e-6 {
		t.Fatalf("params[0] = %v, want -0.29", params[0])
	}
}

func TestAdamFirstStepMovesByLR(t *testing.T) {
	testlog.Start(t)

	opt, err := New(Default("adam"), 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	params := []float32{1, -1}
	grads := []float32{0.5, -0.5}
	if err := opt.Step(params, grads); err != nil {
		t.Fatalf("Step: %v", err)
	}
	// Bias correction makes the first update ~lr in the gradient direction.
	if math.Abs(float64(params[0])-(1-0.001)) > 1e-4 {
		t.Fatalf("params[0] = %v, want about 0.999", params[0])
	}
	if math.Abs(float64(params[1])-(-1+0.001)) > 1e-4 {
		t.Fatalf("params[1] = %v, want about -0.999", params[1])
	}
}

func TestStepSizeMismatchLeavesParamsUntouched(t *testing.T) {
	testlog.Start(t)

	for _, name := range []string{"sgd", "adam"} {
		opt, err := New(Config{Name: name, LR: 0.1}, 3)
		if err != nil {
			t.Fatalf("New(%s): %v", name, err)
		}
		params := []float32{1, 2}
		if err := opt.Step(params, []float32{1, 1}); !errors.Is(err, ErrSizeMismatch) {
			t.Fatalf("%s: expected ErrSizeMismatch, got %v", name, err)
		}
		if params[0] != 1 || params[1] != 2 {
			t.Fatalf("%s: params modified on mismatch: %v", name, params)
		}
	}
}

func TestZeroParamOptimizerIsNoop(t *testing.T) {
	testlog.Start(t)

	opt, err := New(Config{Name: "adam", LR: 0.1}, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := opt.Step(nil, nil); err != nil {
		t.Fatalf("Step: %v", err)
	}
}

func TestStateRoundTrip(t *testing.T) {
	testlog.Start(t)

	for _, name := range []string{"sgd", "adam"} {
		cfg := Default(name)
		a, err := New(cfg, 4)
		if err != nil {
			t.Fatalf("New(%s): %v", name, err)
		}
		paramsA := []float32{1, 2, 3, 4}
		grads := []float32{0.1, -0.2, 0.3, -0.4}
		for i := 0; i < 3; i++ {
			if err := a.Step(paramsA, grads); err != nil {
				t.Fatalf("%s Step: %v", name, err)
			}
		}

		b, err := New(cfg, 4)
		if err != nil {
			t.Fatalf("New(%s) b: %v", name, err)
		}
		if err := b.LoadState(a.State()); err != nil {
			t.Fatalf("%s LoadState: %v", name, err)
		}

		// After restoring, one more step on equal params must match.
		next := []float32{5, 6, 7, 8}
		nextCopy := []float32{5, 6, 7, 8}
		if err := a.Step(next, grads); err != nil {
			t.Fatalf("%s Step a: %v", name, err)
		}
		if err := b.Step(nextCopy, grads); err != nil {
			t.Fatalf("%s Step b: %v", name, err)
		}
		for i := range next {
			if next[i] != nextCopy[i] {
				t.Fatalf("%s: restored optimizer diverged at %d: %v vs %v", name, i, next[i], nextCopy[i])
			}
		}
	}
}

func TestLoadStateRejectsMismatch(t *testing.T) {
	testlog.Start(t)

	sgd, err := New(Config{Name: "sgd", LR: 0.1}, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	adam, err := New(Config{Name: "adam", LR: 0.1}, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sgd.LoadState(adam.State()); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState across optimizers, got %v", err)
	}
	short, err := New(Config{Name: "sgd", LR: 0.1}, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := short.LoadState(sgd.State()); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState for slot size, got %v", err)
	}
}
