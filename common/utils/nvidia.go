package utils

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// GetNumberOfGPUs attempts to use the [Go Bindings for the NVIDIA Management Library] to retrieve the number of
// real/actual GPUs available on the host.
//
// GetNumberOfGPUs will return -1 and an error if nvml.Init(), nvml.DeviceGetCount() or nvml.Shutdown() fail.
//
// [Go Bindings for the NVIDIA Management Library]: https://github.com/NVIDIA/go-nvml?tab=readme-ov-file#quick-start
func GetNumberOfGPUs() (count int, err error) {
	defer func() {
		// nvml panics when the shared library cannot be loaded at all.
		if r := recover(); r != nil {
			count, err = -1, fmt.Errorf("unable to load NVML: %v", r)
		}
	}()

	ret := nvml.Init()
	if ret != nvml.SUCCESS { // Official docs for nvml go module do not use errors.Is or errors.As here
		return -1, fmt.Errorf("unable to initialize NVML: %v", nvml.ErrorString(ret))
	}

	defer func() {
		if ret := nvml.Shutdown(); ret != nvml.SUCCESS && err == nil {
			count, err = -1, fmt.Errorf("unable to shutdown NVML: %v", nvml.ErrorString(ret))
		}
	}()

	count, ret = nvml.DeviceGetCount()
	if ret != nvml.SUCCESS { // Official docs for nvml go module do not use errors.Is or errors.As here
		return -1, fmt.Errorf("unable to get device count: %v", nvml.ErrorString(ret))
	}

	return count, nil
}

// HasAccelerator reports whether at least one GPU is visible on this host. Hosts without NVML have none.
func HasAccelerator() bool {
	count, err := GetNumberOfGPUs()
	return err == nil && count > 0
}
