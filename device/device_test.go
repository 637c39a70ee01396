//go:build !cuda

package device

import (
	"errors"
	"strings"
	"testing"

	"github.com/classnets/classnets/internal/testutil/testlog"
)

func TestResolveCPU(t *testing.T) {
	testlog.Start(t)

	for _, spec := range []string{"cpu", "CPU", "  cpu "} {
		d, err := Resolve(spec)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", spec, err)
		}
		if d.Kind != CPU {
			t.Fatalf("Resolve(%q).Kind = %q", spec, d.Kind)
		}
		if d.Name == "" {
			t.Fatalf("Resolve(%q) returned empty name", spec)
		}
		if !strings.HasPrefix(d.String(), "cpu ") {
			t.Fatalf("String() = %q", d.String())
		}
	}
}

func TestResolveCUDAWithoutSupport(t *testing.T) {
	testlog.Start(t)

	for _, spec := range []string{"cuda", "cuda:0", "cuda:3", "0", "2"} {
		_, err := Resolve(spec)
		if !errors.Is(err, ErrCUDAUnavailable) {
			t.Fatalf("Resolve(%q): expected ErrCUDAUnavailable, got %v", spec, err)
		}
		if !strings.Contains(err.Error(), spec) {
			t.Fatalf("Resolve(%q): error does not name the spec: %v", spec, err)
		}
	}
}

func TestResolveRejectsBadSpecs(t *testing.T) {
	testlog.Start(t)

	for _, spec := range []string{"", "tpu", "cuda:", "cuda:x", "cuda:-1", "-1", "gpu0"} {
		if _, err := Resolve(spec); !errors.Is(err, ErrBadDeviceSpec) {
			t.Fatalf("Resolve(%q): expected ErrBadDeviceSpec, got %v", spec, err)
		}
	}
}
