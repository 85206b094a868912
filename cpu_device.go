// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package bitonic

import (
	"context"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/gogpu/bitonic/internal/workgroup"
)

// CPUDevice runs the bitonic kernel on the CPU, one goroutine per workgroup
// invocation with a real barrier between the load, swap, and store phases.
// It is the default device when no GPU device is registered.
//
// CPUDevice is safe for concurrent use.
type CPUDevice struct {
	mu       sync.Mutex
	threads  uint32
	closed   bool
	inflight sync.WaitGroup
}

var _ Device = (*CPUDevice)(nil)

// NewCPUDevice returns a CPU device configured for DefaultThreads.
func NewCPUDevice() *CPUDevice {
	return &CPUDevice{threads: DefaultThreads}
}

// Name returns "cpu".
func (d *CPUDevice) Name() string { return "cpu" }

// Init is a no-op.
func (d *CPUDevice) Init() error { return nil }

// Close marks the device closed and waits for running dispatches.
func (d *CPUDevice) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.inflight.Wait()
}

// MaxWorkgroupSize returns MaxThreads.
func (d *CPUDevice) MaxWorkgroupSize() uint32 { return MaxThreads }

// Configure sets the workgroup size. Invalid sizes are clamped the same way
// KernelSource clamps them.
func (d *CPUDevice) Configure(threads uint32) error {
	n, clamped := ClampThreads(threads)
	if clamped {
		Logger().Warn("bitonic: invalid workgroup size, using default",
			"requested", threads, "threads", n)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDeviceClosed
	}
	d.inflight.Wait()
	d.threads = n
	return nil
}

// Threads returns the configured workgroup size.
func (d *CPUDevice) Threads() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threads
}

// Submit runs one dispatch asynchronously with dp.Threads invocations, or
// the configured count when dp.Threads is zero. The input is copied before
// Submit returns.
func (d *CPUDevice) Submit(ctx context.Context, dp Dispatch) (*Readback, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDeviceClosed
	}
	threads := d.threads
	if dp.Threads != 0 {
		threads, _ = ClampThreads(dp.Threads)
	}
	if err := dp.Validate(threads); err != nil {
		return nil, err
	}

	input := make([]uint32, len(dp.Elements))
	copy(input, dp.Elements)
	u := dp.Uniforms

	Logger().Debug("bitonic: cpu dispatch",
		"algo", u.Algo, "block_height", u.BlockHeight, "threads", threads)

	rb := NewReadback()
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		rb.Resolve(runKernel(ctx, threads, u, input))
	}()
	return rb, nil
}

// Validate checks dp against a workgroup of threads invocations: the input
// must hold 2*threads elements and the block height must fit the workgroup.
func (dp Dispatch) Validate(threads uint32) error {
	n := 2 * threads
	if uint32(len(dp.Elements)) != n { //nolint:gosec // len <= MaxElements
		return fmt.Errorf("%w: got %d elements, workgroup holds %d",
			ErrReadbackSize, len(dp.Elements), n)
	}
	switch dp.Uniforms.Algo {
	case AlgoNone:
		return nil
	case AlgoFlipLocal, AlgoDisperseLocal:
		h := dp.Uniforms.BlockHeight
		if h < 2 || h > n || bits.OnesCount32(h) != 1 {
			return fmt.Errorf("%w: %s block height %d with %d elements",
				ErrInvalidStage, dp.Uniforms.Algo, h, n)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown algorithm %d", ErrInvalidStage, dp.Uniforms.Algo)
	}
}

// runKernel executes the compute kernel body for one workgroup.
func runKernel(ctx context.Context, threads uint32, u Uniforms, input []uint32) (ReadbackResult, error) {
	local := make([]uint32, 2*threads)
	output := make([]uint32, 2*threads)
	var swaps atomic.Uint32

	err := workgroup.Run(ctx, threads, func(_ context.Context, inv workgroup.Invocation) error {
		a, b := inv.LocalID*2, inv.LocalID*2+1
		local[a] = input[a]
		local[b] = input[b]

		if err := inv.Barrier(); err != nil {
			return err
		}

		// Pairs are disjoint across invocations within a pass.
		switch u.Algo {
		case AlgoFlipLocal:
			i, j := FlipIndices(inv.LocalID, u.BlockHeight)
			compareAndSwap(local, i, j, &swaps)
		case AlgoDisperseLocal:
			i, j := DisperseIndices(inv.LocalID, u.BlockHeight)
			compareAndSwap(local, i, j, &swaps)
		}

		if err := inv.Barrier(); err != nil {
			return err
		}

		output[a] = local[a]
		output[b] = local[b]
		return nil
	})
	if err != nil {
		return ReadbackResult{}, fmt.Errorf("bitonic: cpu dispatch: %w", err)
	}
	return ReadbackResult{Elements: output, Swaps: swaps.Load()}, nil
}

// compareAndSwap orders data[i] <= data[j]; i must be smaller than j.
func compareAndSwap(data []uint32, i, j uint32, swaps *atomic.Uint32) {
	if data[j] < data[i] {
		swaps.Add(1)
		data[i], data[j] = data[j], data[i]
	}
}
