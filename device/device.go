// Package device resolves the compute device a run config asks for. CPU
// resolution always works; CUDA resolution needs the cuda build tag and a
// usable driver.
package device

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

var (
	ErrCUDAUnavailable = errors.New("device: cuda unavailable")
	ErrBadDeviceSpec   = errors.New("device: bad device spec")
)

type Kind string

const (
	CPU  Kind = "cpu"
	CUDA Kind = "cuda"
)

// Device describes a resolved compute target. TotalMemoryMB and
// ComputeCapability are CUDA-only; Features is CPU-only.
type Device struct {
	Kind              Kind
	Ordinal           int
	Name              string
	TotalMemoryMB     float64
	ComputeCapability string
	Features          []string
}

func (d Device) String() string {
	if d.Kind == CUDA {
		return fmt.Sprintf("cuda:%d %s (%.1f MB)", d.Ordinal, d.Name, d.TotalMemoryMB)
	}
	return fmt.Sprintf("cpu %s", d.Name)
}

// Resolve parses a device spec: "cpu", "cuda", "cuda:N", or a bare ordinal
// N meaning the Nth CUDA device.
func Resolve(spec string) (Device, error) {
	s := strings.ToLower(strings.TrimSpace(spec))
	switch {
	case s == "cpu":
		return cpuDevice(), nil
	case s == "cuda":
		return resolveCUDA(spec, 0)
	case strings.HasPrefix(s, "cuda:"):
		n, err := strconv.Atoi(s[len("cuda:"):])
		if err != nil || n < 0 {
			return Device{}, fmt.Errorf("%w: %q", ErrBadDeviceSpec, spec)
		}
		return resolveCUDA(spec, n)
	case s != "" && isDigits(s):
		n, _ := strconv.Atoi(s)
		return resolveCUDA(spec, n)
	default:
		return Device{}, fmt.Errorf("%w: %q", ErrBadDeviceSpec, spec)
	}
}

func resolveCUDA(spec string, ordinal int) (Device, error) {
	d, err := cudaDevice(ordinal)
	if err != nil {
		return Device{}, fmt.Errorf("device: resolving %q: %w", spec, err)
	}
	return d, nil
}

func cpuDevice() Device {
	name := cpuid.CPU.BrandName
	if name == "" {
		name = runtime.GOOS + "/" + runtime.GOARCH
	}
	return Device{
		Kind:     CPU,
		Name:     name,
		Features: simdFeatures(),
	}
}

func simdFeatures() []string {
	checks := []struct {
		id    cpuid.FeatureID
		label string
	}{
		{cpuid.SSE42, "sse4.2"},
		{cpuid.AVX, "avx"},
		{cpuid.AVX2, "avx2"},
		{cpuid.AVX512F, "avx512f"},
		{cpuid.FMA3, "fma3"},
	}
	var out []string
	for _, c := range checks {
		if cpuid.CPU.Supports(c.id) {
			out = append(out, c.label)
		}
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
