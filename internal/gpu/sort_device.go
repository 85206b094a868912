// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

package gpu

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/bitonic"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// fenceTimeout bounds the wait for one dispatch or display pass.
const fenceTimeout = 5 * time.Second

// counterSize is the size of the atomic swap counter buffer.
const counterSize = 4

var errNotReady = errors.New("gpu: device not initialized")

// kernelSource generates the compute kernel WGSL.
var kernelSource = bitonic.KernelSource

// SortDevice runs the bitonic kernel with wgpu/hal compute pipelines.
// It implements bitonic.Device and bitonic.DisplayRenderer.
//
// The element, uniform, counter, and staging buffers are created once per
// Configure and reused by every dispatch. A single-slot semaphore keeps at
// most one dispatch or display pass on the GPU at a time, so the staging
// buffer is never overwritten before it is read back.
type SortDevice struct {
	// slot is held from Submit until the readback resolves.
	slot chan struct{}

	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	threads uint32
	kernel  computeKernel
	display displayPipeline

	gpuReady       bool
	externalDevice bool // true when using shared device (don't destroy on Close)
	adapterName    string
}

var (
	_ bitonic.Device          = (*SortDevice)(nil)
	_ bitonic.DisplayRenderer = (*SortDevice)(nil)
)

// NewSortDevice returns an uninitialized device. Call Init or register it
// with bitonic.RegisterDevice.
func NewSortDevice() *SortDevice {
	return &SortDevice{slot: make(chan struct{}, 1)}
}

// computeKernel holds the pipeline and buffers for one workgroup size.
type computeKernel struct {
	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline

	input   hal.Buffer
	output  hal.Buffer
	uniform hal.Buffer
	counter hal.Buffer
	staging hal.Buffer
	bind    hal.BindGroup

	dataSize uint64
}

// Name returns "vulkan".
func (d *SortDevice) Name() string { return "vulkan" }

// Init creates an instance and opens the first discrete or integrated
// adapter.
func (d *SortDevice) Init() error {
	if d.slot == nil {
		d.slot = make(chan struct{}, 1)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gpuReady {
		return nil
	}
	if err := d.initGPU(); err != nil {
		d.releaseLocked()
		return fmt.Errorf("gpu: init: %w", err)
	}
	return nil
}

func (d *SortDevice) initGPU() error {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	d.instance = instance
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return fmt.Errorf("no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	d.device = openDev.Device
	d.queue = openDev.Queue
	d.adapterName = selected.Info.Name
	d.gpuReady = true
	bitonic.Logger().Info("gpu: sort device initialized", "adapter", d.adapterName)
	return nil
}

// AdapterName returns the name of the opened adapter, or "" for a shared
// device.
func (d *SortDevice) AdapterName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.adapterName
}

// MaxWorkgroupSize returns the workgroup X limit the device was opened with.
func (d *SortDevice) MaxWorkgroupSize() uint32 {
	return gputypes.DefaultLimits().MaxComputeWorkgroupSizeX
}

// Close waits for the in-flight dispatch and releases all GPU resources.
// A shared device is left alive.
func (d *SortDevice) Close() {
	d.slot <- struct{}{}
	defer func() { <-d.slot }()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.releaseLocked()
}

func (d *SortDevice) releaseLocked() {
	d.destroyKernel()
	d.destroyDisplay()
	if !d.externalDevice {
		if d.device != nil {
			d.device.Destroy()
		}
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device = nil
	d.instance = nil
	d.queue = nil
	d.threads = 0
	d.gpuReady = false
	d.externalDevice = false
}

// SetDeviceProvider switches the device to a shared GPU device from an
// external provider (e.g., gogpu). The provider must implement
// HalDevice() any and HalQueue() any returning hal.Device and hal.Queue.
func (d *SortDevice) SetDeviceProvider(provider any) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return fmt.Errorf("gpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return fmt.Errorf("gpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return fmt.Errorf("gpu: provider HalQueue is not hal.Queue")
	}

	d.slot <- struct{}{}
	defer func() { <-d.slot }()
	d.mu.Lock()
	defer d.mu.Unlock()

	threads := d.threads
	d.releaseLocked()

	d.device = device
	d.queue = queue
	d.externalDevice = true
	d.gpuReady = true

	if threads != 0 {
		if err := d.reconfigureLocked(threads); err != nil {
			d.gpuReady = false
			return fmt.Errorf("gpu: create kernel with shared device: %w", err)
		}
	}
	bitonic.Logger().Info("gpu: switched to shared GPU device")
	return nil
}

// Configure compiles the kernel for a workgroup of threads invocations and
// sizes the buffers for 2*threads elements. Invalid sizes are clamped by
// the kernel generator. If the new kernel cannot be built the previous one
// stays in place.
func (d *SortDevice) Configure(threads uint32) error {
	d.slot <- struct{}{}
	defer func() { <-d.slot }()
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.gpuReady {
		return errNotReady
	}
	return d.reconfigureLocked(threads)
}

// reconfigureLocked swaps in a kernel for threads invocations. The slot and
// d.mu must be held.
func (d *SortDevice) reconfigureLocked(threads uint32) error {
	n, _ := bitonic.ClampThreads(threads)
	if d.threads == n && d.kernel.pipeline != nil {
		return nil
	}
	k, err := d.createKernel(n)
	if err != nil {
		return err
	}
	d.destroyKernel()
	d.kernel = k
	d.threads = n
	bitonic.Logger().Debug("gpu: kernel configured", "threads", n, "bytes", k.dataSize)
	return nil
}

// Submit uploads the dispatch, records the compute pass and the copies of
// the output and counter buffers into the staging buffer, and submits them
// in one command buffer. The returned readback resolves after the fence
// signals and the staging buffer has been read.
func (d *SortDevice) Submit(ctx context.Context, dp bitonic.Dispatch) (*bitonic.Readback, error) {
	select {
	case d.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	release := func() { <-d.slot }

	d.mu.Lock()
	if !d.gpuReady || d.kernel.pipeline == nil {
		d.mu.Unlock()
		release()
		return nil, bitonic.ErrDeviceClosed
	}
	if dp.Threads != 0 {
		if err := d.reconfigureLocked(dp.Threads); err != nil {
			d.mu.Unlock()
			release()
			return nil, fmt.Errorf("gpu: switch to %d threads: %w", dp.Threads, err)
		}
	}
	if err := dp.Validate(d.threads); err != nil {
		d.mu.Unlock()
		release()
		return nil, err
	}

	cmdBuf, fence, err := d.encodeDispatch(dp)
	if err != nil {
		d.mu.Unlock()
		release()
		return nil, err
	}
	device, staging := d.device, d.kernel.staging
	size := d.kernel.dataSize
	d.mu.Unlock()

	bitonic.Logger().Debug("gpu: dispatch submitted",
		"algo", dp.Uniforms.Algo, "block_height", dp.Uniforms.BlockHeight, "bytes", size)

	rb := bitonic.NewReadback()
	go func() {
		defer release()
		rb.Resolve(d.awaitReadback(device, cmdBuf, fence, staging, size))
	}()
	return rb, nil
}

// encodeDispatch writes the inputs and submits one command buffer. d.mu must
// be held.
func (d *SortDevice) encodeDispatch(dp bitonic.Dispatch) (hal.CommandBuffer, hal.Fence, error) {
	k := &d.kernel
	d.queue.WriteBuffer(k.input, 0, bitonic.EncodeElements(dp.Elements))
	d.queue.WriteBuffer(k.uniform, 0, dp.Uniforms.Bytes())
	d.queue.WriteBuffer(k.counter, 0, make([]byte, counterSize))

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "bitonic_encoder"})
	if err != nil {
		return nil, nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("bitonic_step"); err != nil {
		return nil, nil, fmt.Errorf("begin encoding: %w", err)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "bitonic_pass"})
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, k.bind, nil)
	pass.Dispatch(1, 1, 1)
	pass.End()

	// The copies follow the dispatch in the same command buffer, so they
	// observe its output.
	encoder.CopyBufferToBuffer(k.output, k.staging, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: k.dataSize},
	})
	encoder.CopyBufferToBuffer(k.counter, k.staging, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: k.dataSize, Size: counterSize},
	})

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, nil, fmt.Errorf("end encoding: %w", err)
	}
	fence, err := d.device.CreateFence()
	if err != nil {
		d.device.FreeCommandBuffer(cmdBuf)
		return nil, nil, fmt.Errorf("create fence: %w", err)
	}
	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		d.device.DestroyFence(fence)
		d.device.FreeCommandBuffer(cmdBuf)
		return nil, nil, fmt.Errorf("submit: %w", err)
	}
	return cmdBuf, fence, nil
}

// awaitReadback waits for the fence, reads the staging buffer, and frees the
// command buffer and fence.
func (d *SortDevice) awaitReadback(
	device hal.Device, cmdBuf hal.CommandBuffer, fence hal.Fence,
	staging hal.Buffer, size uint64,
) (bitonic.ReadbackResult, error) {
	fenceOK, err := device.Wait(fence, 1, fenceTimeout)

	d.mu.Lock()
	defer d.mu.Unlock()
	defer device.DestroyFence(fence)
	defer device.FreeCommandBuffer(cmdBuf)

	if err != nil || !fenceOK {
		return bitonic.ReadbackResult{}, fmt.Errorf("wait for GPU: ok=%v err=%w", fenceOK, err)
	}

	buf := make([]byte, size+counterSize)
	if err := d.queue.ReadBuffer(staging, 0, buf); err != nil {
		return bitonic.ReadbackResult{}, fmt.Errorf("readback: %w", err)
	}
	n := int(size / 4) //nolint:gosec // size <= 4*MaxElements
	return bitonic.ReadbackResult{
		Elements: bitonic.DecodeElements(buf, n),
		Swaps:    binary.LittleEndian.Uint32(buf[size:]),
	}, nil
}

// createKernel builds a compute pipeline and buffers for threads
// invocations without touching the current kernel. d.mu must be held.
func (d *SortDevice) createKernel(threads uint32) (computeKernel, error) {
	var k computeKernel
	if err := d.buildKernel(&k, threads); err != nil {
		d.releaseKernel(&k)
		return computeKernel{}, err
	}
	return k, nil
}

func (d *SortDevice) buildKernel(k *computeKernel, threads uint32) error {
	src := kernelSource(threads)
	if err := checkWGSL("bitonic_compute", src); err != nil {
		return err
	}
	n, _ := bitonic.ClampThreads(threads)
	k.dataSize = uint64(2*n) * 4

	shader, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "bitonic_compute",
		Source: hal.ShaderSource{WGSL: src},
	})
	if err != nil {
		return fmt.Errorf("compile bitonic shader: %w", err)
	}
	k.shader = shader

	bindLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "bitonic_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: bitonic.BindingInput, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: bitonic.BindingOutput, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
			{Binding: bitonic.BindingUniforms, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: bitonic.BindingCounter, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	k.bindLayout = bindLayout

	pipeLayout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "bitonic_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{k.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	k.pipeLayout = pipeLayout

	pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: "bitonic_pipeline", Layout: k.pipeLayout,
		Compute: hal.ComputeState{Module: k.shader, EntryPoint: bitonic.KernelEntryPoint},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	k.pipeline = pipeline

	return d.createKernelBuffers(k)
}

// destroyKernel releases the current compute pipeline and buffers. d.mu
// must be held.
func (d *SortDevice) destroyKernel() {
	d.releaseKernel(&d.kernel)
	d.threads = 0
}

func (d *SortDevice) releaseKernel(k *computeKernel) {
	if d.device != nil {
		if k.bind != nil {
			d.device.DestroyBindGroup(k.bind)
		}
		for _, b := range []hal.Buffer{k.input, k.output, k.uniform, k.counter, k.staging} {
			if b != nil {
				d.device.DestroyBuffer(b)
			}
		}
		if k.pipeline != nil {
			d.device.DestroyComputePipeline(k.pipeline)
		}
		if k.pipeLayout != nil {
			d.device.DestroyPipelineLayout(k.pipeLayout)
		}
		if k.bindLayout != nil {
			d.device.DestroyBindGroupLayout(k.bindLayout)
		}
		if k.shader != nil {
			d.device.DestroyShaderModule(k.shader)
		}
	}
	*k = computeKernel{}
}
