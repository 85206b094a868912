// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

// Package gpu registers the wgpu/hal sort device.
//
// If GPU initialization fails (no Vulkan adapter available), the
// registration is skipped with a warning and sequencers fall back to the
// CPU device.
//
// Usage:
//
//	import _ "github.com/gogpu/bitonic/gpu" // run the kernel on the GPU
package gpu

import (
	"github.com/gogpu/bitonic"
	gpuimpl "github.com/gogpu/bitonic/internal/gpu"
	"github.com/gogpu/gpucontext"
)

func init() {
	if err := bitonic.RegisterDevice(gpuimpl.NewSortDevice()); err != nil {
		bitonic.Logger().Warn("GPU sort device not available", "err", err)
	}
}

// SetDeviceProvider switches the registered sort device to a shared GPU
// device from an external provider (e.g., gogpu). The provider must also
// expose HalDevice() and HalQueue().
//
// Call this before creating a Sequencer.
func SetDeviceProvider(provider gpucontext.DeviceProvider) error {
	return bitonic.SetDeviceProvider(provider)
}
