//go:build cuda

package device

import (
	"fmt"

	"gorgonia.org/cu"
)

func cudaDevice(ordinal int) (Device, error) {
	count, err := cu.NumDevices()
	if err != nil {
		return Device{}, fmt.Errorf("%w: %v", ErrCUDAUnavailable, err)
	}
	if count == 0 {
		return Device{}, fmt.Errorf("%w: no devices present", ErrCUDAUnavailable)
	}
	if ordinal >= count {
		return Device{}, fmt.Errorf("%w: device %d requested, %d present", ErrCUDAUnavailable, ordinal, count)
	}
	dev := cu.Device(ordinal)
	name, err := dev.Name()
	if err != nil {
		return Device{}, fmt.Errorf("%w: %v", ErrCUDAUnavailable, err)
	}
	mem, err := dev.TotalMem()
	if err != nil {
		return Device{}, fmt.Errorf("%w: %v", ErrCUDAUnavailable, err)
	}
	major, err := dev.Attribute(cu.ComputeCapabilityMajor)
	if err != nil {
		return Device{}, fmt.Errorf("%w: %v", ErrCUDAUnavailable, err)
	}
	minor, err := dev.Attribute(cu.ComputeCapabilityMinor)
	if err != nil {
		return Device{}, fmt.Errorf("%w: %v", ErrCUDAUnavailable, err)
	}
	return Device{
		Kind:              CUDA,
		Ordinal:           ordinal,
		Name:              name,
		TotalMemoryMB:     float64(mem) / (1 << 20),
		ComputeCapability: fmt.Sprintf("%d.%d", major, minor),
	}, nil
}
