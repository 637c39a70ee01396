package nn

import (
	"errors"
	"math"
	"testing"

	"github.com/classnets/classnets/internal/testutil/testlog"
)

func TestBuildCustomNetShapesAndParams(t *testing.T) {
	testlog.Start(t)

	net, err := Build("CustomNet", ArchOptions{
		NumClasses: 4,
		Input:      Shape{Channels: 3, Height: 32, Width: 32},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// conv1 448 + conv2 4640 + fc1 (128*2048+128) + fc2 (4*128+4)
	if got := net.ParamCount(); got != 267876 {
		t.Fatalf("ParamCount = %d, want 267876", got)
	}
	infos := net.Summary()
	last := infos[len(infos)-1]
	if last.Kind != "linear" || last.Out.Channels != 4 {
		t.Fatalf("unexpected final layer %+v", last)
	}
}

func TestBuildResNet18ParamCount(t *testing.T) {
	testlog.Start(t)

	net, err := Build("resnet18", ArchOptions{
		NumClasses: 10,
		Input:      Shape{Channels: 3, Height: 64, Width: 64},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// 11,166,912 conv weights + 19,200 batchnorm values + 5,130 classifier.
	if got := net.ParamCount(); got != 11191242 {
		t.Fatalf("ParamCount = %d, want 11191242", got)
	}
}

func TestBuildResNetFamilyGrows(t *testing.T) {
	testlog.Start(t)

	opts := ArchOptions{NumClasses: 10, Input: Shape{Channels: 3, Height: 64, Width: 64}}
	var prev int
	for _, arch := range []string{"resnet18", "resnet34", "resnet50"} {
		net, err := Build(arch, opts)
		if err != nil {
			t.Fatalf("Build(%s): %v", arch, err)
		}
		if net.ParamCount() <= prev {
			t.Fatalf("%s param count %d not above previous %d", arch, net.ParamCount(), prev)
		}
		prev = net.ParamCount()
	}
}

func TestForwardCustomNet(t *testing.T) {
	testlog.Start(t)

	in := Shape{Channels: 3, Height: 32, Width: 32}
	net, err := Build("CustomNet", ArchOptions{NumClasses: 5, Input: in, Seed: 7})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	x, err := NewTensor(3, 32, 32)
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}
	for i := range x.Data {
		x.Data[i] = float32(i%255) / 255
	}
	logits, err := net.Forward(x)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(logits) != 5 {
		t.Fatalf("got %d logits, want 5", len(logits))
	}

	// A leading batch dimension of one is accepted.
	batched := &Tensor{Shape: []int{1, 3, 32, 32}, Data: x.Data}
	again, err := net.Forward(batched)
	if err != nil {
		t.Fatalf("Forward batched: %v", err)
	}
	for i := range logits {
		if logits[i] != again[i] {
			t.Fatalf("batched logits differ at %d: %v vs %v", i, logits[i], again[i])
		}
	}
}

func TestForwardResNet18Smoke(t *testing.T) {
	testlog.Start(t)

	in := Shape{Channels: 3, Height: 32, Width: 32}
	net, err := Build("resnet18", ArchOptions{NumClasses: 3, Input: in, Seed: 1})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	x, err := NewTensor(3, 32, 32)
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}
	for i := range x.Data {
		x.Data[i] = 0.5
	}
	logits, err := net.Forward(x)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(logits) != 3 {
		t.Fatalf("got %d logits, want 3", len(logits))
	}
	for i, v := range logits {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("logit %d not finite: %v", i, v)
		}
	}
}

func TestForwardAvgPoolAverages(t *testing.T) {
	testlog.Start(t)

	err := Register("testnet-avgpool", func(opts ArchOptions) ([]LayerSpec, error) {
		return []LayerSpec{
			AvgPool{Size: 2},
			Flatten{},
		}, nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	net, err := Build("testnet-avgpool", ArchOptions{
		NumClasses: 8,
		Input:      Shape{Channels: 2, Height: 4, Width: 4},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := net.ParamCount(); got != 0 {
		t.Fatalf("ParamCount = %d, want 0", got)
	}
	infos := net.Summary()
	if infos[0].Kind != "avgpool" || infos[0].Out != (Shape{Channels: 2, Height: 2, Width: 2}) {
		t.Fatalf("unexpected pool layer %+v", infos[0])
	}

	x, err := NewTensor(2, 4, 4)
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}
	for i := 0; i < 16; i++ {
		x.Data[i] = float32(i + 1)
		x.Data[16+i] = float32(i+1) * 10
	}
	logits, err := net.Forward(x)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	// 2x2 windows, stride defaulting to the window size.
	want := []float32{3.5, 5.5, 11.5, 13.5, 35, 55, 115, 135}
	if len(logits) != len(want) {
		t.Fatalf("got %d outputs, want %d", len(logits), len(want))
	}
	for i := range want {
		if logits[i] != want[i] {
			t.Fatalf("pooled value %d = %v, want %v", i, logits[i], want[i])
		}
	}
}

func TestBuildIsDeterministicPerSeed(t *testing.T) {
	testlog.Start(t)

	opts := ArchOptions{NumClasses: 4, Input: Shape{Channels: 3, Height: 16, Width: 16}, Seed: 11}
	a, err := Build("CustomNet", opts)
	if err != nil {
		t.Fatalf("Build a: %v", err)
	}
	b, err := Build("CustomNet", opts)
	if err != nil {
		t.Fatalf("Build b: %v", err)
	}
	pa, pb := a.Params(), b.Params()
	if len(pa) != len(pb) {
		t.Fatalf("param list lengths differ: %d vs %d", len(pa), len(pb))
	}
	for i := range pa {
		if pa[i].Name != pb[i].Name {
			t.Fatalf("param %d name %q vs %q", i, pa[i].Name, pb[i].Name)
		}
		for j := range pa[i].Data {
			if pa[i].Data[j] != pb[i].Data[j] {
				t.Fatalf("param %s differs at %d despite equal seeds", pa[i].Name, j)
			}
		}
	}

	opts.Seed = 12
	c, err := Build("CustomNet", opts)
	if err != nil {
		t.Fatalf("Build c: %v", err)
	}
	same := true
	for i, p := range c.Params() {
		for j := range p.Data {
			if p.Data[j] != pa[i].Data[j] {
				same = false
			}
		}
	}
	if same {
		t.Fatalf("different seeds produced identical weights")
	}
}

func TestBuildRejectsBadOptions(t *testing.T) {
	testlog.Start(t)

	if _, err := Build("CustomNet", ArchOptions{NumClasses: 1}); !errors.Is(err, ErrBadOptions) {
		t.Fatalf("expected ErrBadOptions, got %v", err)
	}
	if _, err := Build("nonesuch", ArchOptions{NumClasses: 4}); !errors.Is(err, ErrUnknownArch) {
		t.Fatalf("expected ErrUnknownArch, got %v", err)
	}
}

func TestBuildRejectsSpatialCollapse(t *testing.T) {
	testlog.Start(t)

	_, err := Build("CustomNet", ArchOptions{
		NumClasses: 4,
		Input:      Shape{Channels: 3, Height: 2, Width: 2},
	})
	if err == nil {
		t.Fatalf("expected build failure for 2x2 input")
	}
}

func TestBuildRejectsUnknownActivation(t *testing.T) {
	testlog.Start(t)

	err := Register("testnet-gelu", func(opts ArchOptions) ([]LayerSpec, error) {
		return []LayerSpec{
			Flatten{},
			Linear{Nout: opts.NumClasses},
			Activation{Atype: "gelu"},
		}, nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := Build("testnet-gelu", ArchOptions{NumClasses: 2}); err == nil {
		t.Fatalf("expected unknown activation to fail at build")
	}
}

func TestForwardRejectsShapeMismatch(t *testing.T) {
	testlog.Start(t)

	net, err := Build("CustomNet", ArchOptions{
		NumClasses: 4,
		Input:      Shape{Channels: 3, Height: 16, Width: 16},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	wrong, err := NewTensor(3, 8, 8)
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}
	if _, err := net.Forward(wrong); !errors.Is(err, ErrInputShape) {
		t.Fatalf("expected ErrInputShape, got %v", err)
	}
	batched := &Tensor{Shape: []int{2, 3, 16, 16}, Data: make([]float32, 2*3*16*16)}
	if _, err := net.Forward(batched); !errors.Is(err, ErrInputShape) {
		t.Fatalf("expected ErrInputShape for batch 2, got %v", err)
	}
	if _, err := net.Forward(nil); err == nil {
		t.Fatalf("expected error for nil input")
	}
}

func TestSoftmax(t *testing.T) {
	testlog.Start(t)

	probs := Softmax([]float32{1, 2, 3})
	var sum float64
	for _, p := range probs {
		sum += float64(p)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Fatalf("softmax sum = %v", sum)
	}
	if !(probs[2] > probs[1] && probs[1] > probs[0]) {
		t.Fatalf("softmax not monotone: %v", probs)
	}

	// Large magnitudes stay finite.
	probs = Softmax([]float32{1000, 1001})
	if math.IsNaN(float64(probs[0])) || math.IsNaN(float64(probs[1])) {
		t.Fatalf("softmax overflowed: %v", probs)
	}
	if len(Softmax(nil)) != 0 {
		t.Fatalf("softmax of empty input should be empty")
	}
}
