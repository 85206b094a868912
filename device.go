// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package bitonic

import (
	"context"
	"image"
	"sync"
)

// Dispatch is one compute dispatch: the uniforms for the pass and the
// element array to upload as the kernel's input buffer.
type Dispatch struct {
	Uniforms Uniforms
	Elements []uint32

	// Threads is the workgroup size the dispatch runs with. A device shared
	// by several sequencers switches its kernel to Threads before running
	// the dispatch. Zero uses the size set by the last Configure.
	Threads uint32
}

// Device executes bitonic kernel dispatches.
//
// Implementations are provided by this package (the CPU workgroup emulator)
// and by GPU backend packages. Users opt in to the GPU via blank import:
//
//	import _ "github.com/gogpu/bitonic/gpu"
type Device interface {
	// Name returns the device name (e.g., "cpu", "vulkan").
	Name() string

	// Init acquires device resources. Called once during registration.
	Init() error

	// Close releases device resources. Pending readbacks still resolve.
	Close()

	// MaxWorkgroupSize returns the device limit on workgroup size in X.
	MaxWorkgroupSize() uint32

	// Configure (re)builds the compute pipeline for a workgroup of threads
	// invocations and sizes the element buffers for 2*threads values.
	// It waits for in-flight dispatches before releasing old resources.
	// Dispatches carrying a different Threads reconfigure the device again.
	Configure(threads uint32) error

	// Submit uploads d, records the dispatch and the copy of the output
	// buffer into a staging buffer in one command buffer, submits it, and
	// returns a Readback that resolves once the staging buffer has been
	// mapped back to host memory.
	Submit(ctx context.Context, d Dispatch) (*Readback, error)
}

// DisplayRenderer is an optional interface for devices that run the display
// pass themselves. Returning ErrFallbackToCPU selects the CPU display pass.
type DisplayRenderer interface {
	RenderDisplay(ctx context.Context, elements []uint32, u DisplayUniforms, width, height int) (*image.RGBA, error)
}

// DeviceProviderAware is an optional interface for devices that can share a
// GPU device owned by a host application instead of creating their own.
type DeviceProviderAware interface {
	SetDeviceProvider(provider any) error
}

var (
	devMu sync.RWMutex
	dev   Device
)

// RegisterDevice registers the device new sequencers use by default.
//
// Only one device can be registered; a later call replaces and closes the
// previous one. Init is called during registration and the device is not
// registered if it fails.
func RegisterDevice(d Device) error {
	if d == nil {
		return ErrNilDevice
	}
	if err := d.Init(); err != nil {
		return err
	}
	propagateLogger(d, Logger())

	devMu.Lock()
	old := dev
	dev = d
	devMu.Unlock()
	if old != nil && old != d {
		old.Close()
	}
	Logger().Info("bitonic: device registered", "device", d.Name())
	return nil
}

// RegisteredDevice returns the registered device, or nil if none.
func RegisteredDevice() Device {
	devMu.RLock()
	d := dev
	devMu.RUnlock()
	return d
}

// UnregisterDevice removes and closes the registered device, if any.
func UnregisterDevice() {
	devMu.Lock()
	old := dev
	dev = nil
	devMu.Unlock()
	if old != nil {
		old.Close()
	}
}

// SetDeviceProvider passes a host device provider to the registered device.
// It is a no-op if no device is registered or it cannot share devices.
func SetDeviceProvider(provider any) error {
	d := RegisteredDevice()
	if d == nil {
		return nil
	}
	if dpa, ok := d.(DeviceProviderAware); ok {
		return dpa.SetDeviceProvider(provider)
	}
	return nil
}
