//go:build !cuda

package device

import "fmt"

func cudaDevice(ordinal int) (Device, error) {
	return Device{}, fmt.Errorf("%w: built without cuda support (device %d)", ErrCUDAUnavailable, ordinal)
}
