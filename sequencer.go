// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package bitonic

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math/rand/v2"
	"sync"
)

// StepReport describes one executed dispatch.
type StepReport struct {
	// Stage is the stage that was dispatched.
	Stage Stage

	// Swaps is the number of element pairs the dispatch exchanged.
	Swaps uint32

	// State is the sequencer state after the step.
	State State
}

// HoverInfo identifies the element under the pointer and the element it is
// compared against in the next step.
type HoverInfo struct {
	Hovered uint32
	Swapped uint32
}

// Sequencer owns the element array and the stage machine, and drives one
// compute dispatch per step on a Device.
//
// All methods are safe for concurrent use. Steps are serialized: a step
// waits for its readback before the next one can write new parameters, so
// at most one readback is ever in flight.
type Sequencer struct {
	mu sync.Mutex

	device     Device
	ownsDevice bool
	rng        *rand.Rand
	maxThreads uint32

	state     State
	elements  Elements
	grid      Grid
	lastSwaps uint32
	closed    bool
}

// New returns a sequencer for n elements holding a random permutation of
// [0, n). Unless WithDevice is given, the registered device is used, falling
// back to a private CPUDevice.
func New(n uint32, opts ...Option) (*Sequencer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	s := &Sequencer{device: o.device, rng: o.rng}
	if s.device == nil {
		s.device = RegisteredDevice()
	}
	if s.device == nil {
		s.device = NewCPUDevice()
		s.ownsDevice = true
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // not for security
	}
	s.maxThreads = min(o.maxWorkgroup, s.device.MaxWorkgroupSize(), MaxThreads)

	Logger().Info("bitonic: sequencer created", "device", s.device.Name(), "elements", n)

	if err := s.reset(n); err != nil {
		if s.ownsDevice {
			s.device.Close()
		}
		return nil, err
	}
	return s, nil
}

// ValidSizes returns the element counts this sequencer accepts, largest first.
func (s *Sequencer) ValidSizes() []uint32 {
	return ValidSizes(s.maxThreads)
}

// Device returns the device dispatches run on.
func (s *Sequencer) Device() Device {
	return s.device
}

// State returns the current state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elements returns a copy of the host mirror.
func (s *Sequencer) Elements() Elements {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elements.Clone()
}

// Grid returns the display grid for the current element count.
func (s *Sequencer) Grid() Grid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grid
}

// LastSwaps returns the swap count reported by the last step.
func (s *Sequencer) LastSwaps() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSwaps
}

// Step executes the current stage: it writes the stage's uniforms, submits
// one dispatch, waits for the readback, replaces the host mirror, and
// advances the state.
//
// Step returns ErrSortComplete without dispatching when the state is
// terminal. On any other error the state and mirror are unchanged.
func (s *Sequencer) Step(ctx context.Context) (StepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return StepReport{}, ErrDeviceClosed
	}
	if s.state.Done() {
		return StepReport{State: s.state}, ErrSortComplete
	}
	if err := ctx.Err(); err != nil {
		return StepReport{}, err
	}

	stage := s.state.Stage()
	rb, err := s.device.Submit(ctx, Dispatch{
		Uniforms: NewUniforms(s.grid, stage),
		Elements: s.elements,
		Threads:  s.state.TotalThreads,
	})
	if err != nil {
		return StepReport{}, fmt.Errorf("step %s: submit: %w", stage, err)
	}

	res, err := rb.Wait(ctx)
	if err != nil {
		return StepReport{}, fmt.Errorf("step %s: readback: %w", stage, err)
	}
	if len(res.Elements) != len(s.elements) {
		return StepReport{}, fmt.Errorf("%w: got %d values, want %d",
			ErrReadbackSize, len(res.Elements), len(s.elements))
	}

	s.elements = res.Elements
	s.lastSwaps = res.Swaps
	s.state = s.state.Advance()

	Logger().Debug("bitonic: step",
		"stage", stage, "swaps", res.Swaps, "next", s.state.Stage())

	return StepReport{Stage: stage, Swaps: res.Swaps, State: s.state}, nil
}

// Sort steps until the state is terminal and returns the number of steps
// taken. A sort that is already complete takes zero steps.
func (s *Sequencer) Sort(ctx context.Context) (int, error) {
	steps := 0
	for {
		_, err := s.Step(ctx)
		switch {
		case err == nil:
			steps++
		case errors.Is(err, ErrSortComplete):
			return steps, nil
		default:
			return steps, err
		}
	}
}

// Randomize shuffles the host mirror and resets the state. The result is
// always a permutation of [0, n).
func (s *Sequencer) Randomize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.state.TotalElements
	s.elements = NewElements(n)
	s.elements.Shuffle(s.rng)
	s.state = NewState(n)
	s.lastSwaps = 0
	Logger().Debug("bitonic: randomized", "elements", n)
}

// Resize replaces the element array with a shuffled array of n elements,
// regenerates the kernel for n/2 threads, and resets the state.
// On error the sequencer is unchanged.
func (s *Sequencer) Resize(n uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDeviceClosed
	}
	return s.reset(n)
}

func (s *Sequencer) reset(n uint32) error {
	if err := ValidateElementCount(n); err != nil {
		return err
	}
	if n/2 > s.maxThreads {
		return fmt.Errorf("%w: %d elements need %d threads, device allows %d",
			ErrInvalidElementCount, n, n/2, s.maxThreads)
	}
	if err := s.device.Configure(n / 2); err != nil {
		return fmt.Errorf("configure %d threads: %w", n/2, err)
	}

	elements := NewElements(n)
	elements.Shuffle(s.rng)

	s.elements = elements
	s.state = NewState(n)
	s.grid = GridFor(n)
	s.lastSwaps = 0

	Logger().Debug("bitonic: reset",
		"elements", n, "threads", n/2, "grid_w", s.grid.Width, "grid_h", s.grid.Height)
	return nil
}

// LogElements writes the host mirror to the logger at Info level.
func (s *Sequencer) LogElements() {
	s.mu.Lock()
	defer s.mu.Unlock()
	Logger().Info("bitonic: elements",
		"n", len(s.elements), "sorted", s.elements.IsSorted(), "values", []uint32(s.elements))
}

// Hover returns the element at index i together with its swap partner in
// the next stage. ok is false if i is out of range.
func (s *Sequencer) Hover(i uint32) (info HoverInfo, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= s.state.TotalElements {
		return HoverInfo{}, false
	}
	return HoverInfo{Hovered: i, Swapped: SwapPartner(i, s.state.Stage())}, true
}

// HoverAt maps a pointer position on a canvas to a HoverInfo.
func (s *Sequencer) HoverAt(x, y, canvasW, canvasH float64) (HoverInfo, bool) {
	i, ok := s.Grid().CellAt(x, y, canvasW, canvasH)
	if !ok {
		return HoverInfo{}, false
	}
	return s.Hover(i)
}

// Render runs the display pass over the current host mirror. Devices that
// implement DisplayRenderer render on the device; all others, or a device
// returning ErrFallbackToCPU, use RenderGrid.
func (s *Sequencer) Render(ctx context.Context, opts DisplayOptions) (*image.RGBA, error) {
	s.mu.Lock()
	elements := s.elements.Clone()
	grid := s.grid
	s.mu.Unlock()

	opts = opts.withDefaults(grid)
	if dr, ok := s.device.(DisplayRenderer); ok {
		img, err := dr.RenderDisplay(ctx, elements, opts.uniforms(grid), opts.Width, opts.Height)
		switch {
		case err == nil:
			drawCaption(img, opts.Caption)
			return img, nil
		case !errors.Is(err, ErrFallbackToCPU):
			return nil, fmt.Errorf("bitonic: render: %w", err)
		}
		Logger().Warn("bitonic: display pass falling back to CPU", "device", s.device.Name())
	}
	return RenderGrid(elements, grid, opts), nil
}

// Close releases the sequencer. A device created by New is closed; an
// injected or registered device is left open.
func (s *Sequencer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.ownsDevice {
		s.device.Close()
	}
}
