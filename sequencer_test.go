package bitonic

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
)

func newTestSequencer(t *testing.T, n uint32, opts ...Option) *Sequencer {
	t.Helper()
	resetDevice()
	seq, err := New(n, append([]Option{WithSeed(7)}, opts...)...)
	if err != nil {
		t.Fatalf("New(%d): %v", n, err)
	}
	t.Cleanup(seq.Close)
	return seq
}

func TestSequencerSortsEight(t *testing.T) {
	seq := newTestSequencer(t, 8)
	ctx := context.Background()

	if !seq.Elements().IsPermutation() {
		t.Fatalf("initial array %v is not a permutation of [0, 8)", seq.Elements())
	}

	for i := range 6 {
		if seq.State().Done() {
			t.Fatalf("terminal after %d steps", i)
		}
		if _, err := seq.Step(ctx); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	if !seq.State().Done() {
		t.Fatalf("not terminal after 6 steps: %s", seq.State())
	}
	want := Elements{0, 1, 2, 3, 4, 5, 6, 7}
	if got := seq.Elements(); !slices.Equal(got, want) {
		t.Errorf("after 6 steps = %v, want %v", got, want)
	}
}

func TestSequencerSortAllSizes(t *testing.T) {
	for _, n := range ValidSizes(MaxThreads) {
		seq := newTestSequencer(t, n)
		steps, err := seq.Sort(context.Background())
		if err != nil {
			t.Fatalf("n=%d: Sort: %v", n, err)
		}
		if steps != TotalSteps(n) {
			t.Errorf("n=%d: %d steps, want %d", n, steps, TotalSteps(n))
		}
		e := seq.Elements()
		if !e.IsSorted() || !e.IsPermutation() {
			t.Errorf("n=%d: result not a sorted permutation: %v", n, e)
		}
	}
}

func TestSequencerStepReport(t *testing.T) {
	seq := newTestSequencer(t, 16)

	rep, err := seq.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if rep.Stage != (Stage{AlgoFlipLocal, 2}) {
		t.Errorf("first stage = %s, want FLIP_LOCAL(h=2)", rep.Stage)
	}
	if rep.State != seq.State() {
		t.Error("report state differs from sequencer state")
	}
	if rep.State.PrevStageDescriptor() != rep.Stage {
		t.Errorf("PrevStageDescriptor = %s, want %s", rep.State.PrevStageDescriptor(), rep.Stage)
	}
	if rep.Swaps > 8 || rep.Swaps != seq.LastSwaps() {
		t.Errorf("swaps = %d, LastSwaps = %d", rep.Swaps, seq.LastSwaps())
	}
}

func TestSequencerStepAfterComplete(t *testing.T) {
	dev := newMockDevice("mock")
	seq := newTestSequencer(t, 4, WithDevice(dev))
	ctx := context.Background()

	if _, err := seq.Sort(ctx); err != nil {
		t.Fatalf("Sort: %v", err)
	}
	before := dev.submitCount()

	_, err := seq.Step(ctx)
	if !errors.Is(err, ErrSortComplete) {
		t.Errorf("Step on terminal = %v, want ErrSortComplete", err)
	}
	if dev.submitCount() != before {
		t.Error("Step on terminal state submitted a dispatch")
	}

	steps, err := seq.Sort(ctx)
	if err != nil || steps != 0 {
		t.Errorf("Sort on terminal = (%d, %v), want (0, nil)", steps, err)
	}
}

func TestSequencerFailedStepLeavesState(t *testing.T) {
	boom := errors.New("device lost")
	tests := []struct {
		name string
		set  func(*mockDevice)
		want error
	}{
		{"submit", func(m *mockDevice) { m.submitErr = boom }, boom},
		{"readback", func(m *mockDevice) { m.readErr = boom }, boom},
		{"short readback", func(m *mockDevice) { m.truncate = true }, ErrReadbackSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newMockDevice("mock")
			seq := newTestSequencer(t, 8, WithDevice(dev))
			tt.set(dev)

			state, elems := seq.State(), seq.Elements()
			if _, err := seq.Step(context.Background()); !errors.Is(err, tt.want) {
				t.Fatalf("Step = %v, want %v", err, tt.want)
			}
			if seq.State() != state {
				t.Error("failed step changed the state")
			}
			if !slices.Equal(seq.Elements(), elems) {
				t.Error("failed step changed the elements")
			}
		})
	}
}

func TestSequencerStepCancelled(t *testing.T) {
	seq := newTestSequencer(t, 8)
	state := seq.State()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := seq.Step(ctx); err == nil {
		t.Fatal("Step with cancelled context succeeded")
	}
	if seq.State() != state {
		t.Error("cancelled step changed the state")
	}
}

func TestSequencerRandomize(t *testing.T) {
	seq := newTestSequencer(t, 64)
	ctx := context.Background()
	if _, err := seq.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}

	seq.Randomize()
	first := seq.Elements()
	seq.Randomize()
	second := seq.Elements()

	if !first.IsPermutation() || !second.IsPermutation() {
		t.Fatal("Randomize did not produce a permutation")
	}
	if slices.Equal(first, second) {
		t.Error("two Randomize calls produced the same order")
	}
	if seq.State() != NewState(64) {
		t.Errorf("Randomize did not reset state: %s", seq.State())
	}
}

func TestSequencerResize(t *testing.T) {
	dev := newMockDevice("mock")
	seq := newTestSequencer(t, 8, WithDevice(dev))
	if _, err := seq.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if err := seq.Resize(32); err != nil {
		t.Fatalf("Resize(32): %v", err)
	}
	st := seq.State()
	if st != NewState(32) || st.TotalThreads != 16 {
		t.Errorf("state after resize = %+v", st)
	}
	if e := seq.Elements(); len(e) != 32 || !e.IsPermutation() {
		t.Errorf("elements after resize = %v", e)
	}
	if seq.Grid() != (Grid{Width: 4, Height: 8}) {
		t.Errorf("grid after resize = %+v", seq.Grid())
	}
	dev.mu.Lock()
	threads := dev.threads
	dev.mu.Unlock()
	if threads != 16 {
		t.Errorf("device configured for %d threads, want 16", threads)
	}

	if _, err := seq.Sort(context.Background()); err != nil {
		t.Fatalf("Sort after resize: %v", err)
	}
	if !seq.Elements().IsSorted() {
		t.Error("array not sorted after resize and sort")
	}
}

func TestSequencerResizeInvalid(t *testing.T) {
	seq := newTestSequencer(t, 8, WithMaxWorkgroupSize(32))
	state := seq.State()

	for _, n := range []uint32{0, 2, 12, 128, 1024} {
		if err := seq.Resize(n); !errors.Is(err, ErrInvalidElementCount) {
			t.Errorf("Resize(%d) = %v, want ErrInvalidElementCount", n, err)
		}
	}
	if seq.State() != state {
		t.Error("failed resize changed the state")
	}
	if got := seq.ValidSizes(); !slices.Equal(got, []uint32{64, 32, 16, 8, 4}) {
		t.Errorf("ValidSizes = %v", got)
	}
}

func TestNewUsesRegisteredDevice(t *testing.T) {
	resetDevice()
	t.Cleanup(resetDevice)

	dev := newMockDevice("registered")
	if err := RegisterDevice(dev); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	seq, err := New(8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if seq.Device() != Device(dev) {
		t.Errorf("Device() = %s, want registered", seq.Device().Name())
	}

	seq.Close()
	if dev.isClosed() {
		t.Error("sequencer closed a device it does not own")
	}
	if _, err := seq.Step(context.Background()); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("Step after Close = %v, want ErrDeviceClosed", err)
	}
}

func TestSequencerHover(t *testing.T) {
	seq := newTestSequencer(t, 16)

	// First stage is FLIP_LOCAL(h=2): 5 pairs with 4.
	info, ok := seq.Hover(5)
	if !ok || info != (HoverInfo{Hovered: 5, Swapped: 4}) {
		t.Errorf("Hover(5) = (%+v, %v)", info, ok)
	}
	if _, ok := seq.Hover(16); ok {
		t.Error("Hover(16) on 16 elements reported ok")
	}

	// 4x4 grid on a 400x400 canvas: the top-left cell is element 12.
	info, ok = seq.HoverAt(10, 10, 400, 400)
	if !ok || info.Hovered != 12 || info.Swapped != 13 {
		t.Errorf("HoverAt(top-left) = (%+v, %v)", info, ok)
	}
}

func TestSequencerLogElements(t *testing.T) {
	seq := newTestSequencer(t, 4)
	seq.LogElements() // default logger is silent; must not panic
}

func TestSequencersShareRegisteredDevice(t *testing.T) {
	resetDevice()
	t.Cleanup(resetDevice)

	dev := NewCPUDevice()
	if err := RegisterDevice(dev); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	t.Cleanup(dev.Close)

	small, err := New(8, WithSeed(1))
	if err != nil {
		t.Fatalf("New(8): %v", err)
	}
	defer small.Close()
	large, err := New(16, WithSeed(2))
	if err != nil {
		t.Fatalf("New(16): %v", err)
	}
	defer large.Close()

	ctx := context.Background()
	// Interleave so each dispatch follows one of the other size.
	for !small.State().Done() || !large.State().Done() {
		for _, seq := range []*Sequencer{small, large} {
			if seq.State().Done() {
				continue
			}
			if _, err := seq.Step(ctx); err != nil {
				t.Fatalf("%d elements: Step: %v", seq.State().TotalElements, err)
			}
		}
	}
	for _, seq := range []*Sequencer{small, large} {
		if e := seq.Elements(); !e.IsSorted() || !e.IsPermutation() {
			t.Errorf("%d elements: not sorted: %v", len(e), e)
		}
	}

	// Resizing one sequencer must not break the other.
	if err := small.Resize(32); err != nil {
		t.Fatalf("Resize(32): %v", err)
	}
	large.Randomize()
	if _, err := large.Sort(ctx); err != nil {
		t.Fatalf("Sort of 16 after Resize(32) of the other: %v", err)
	}
	if _, err := small.Sort(ctx); err != nil {
		t.Fatalf("Sort of 32: %v", err)
	}
	if !large.Elements().IsSorted() || !small.Elements().IsSorted() {
		t.Error("not sorted after Resize")
	}
}

func TestSequencerStepErrorPrefix(t *testing.T) {
	dev := newMockDevice("mock")
	seq := newTestSequencer(t, 8, WithDevice(dev))
	dev.submitErr = fmt.Errorf("%w: block height 3", ErrInvalidStage)

	_, err := seq.Step(context.Background())
	if !errors.Is(err, ErrInvalidStage) {
		t.Fatalf("Step = %v, want ErrInvalidStage", err)
	}
	if n := strings.Count(err.Error(), "bitonic:"); n != 1 {
		t.Errorf("error %q carries the package prefix %d times, want once", err, n)
	}
	if !strings.HasPrefix(err.Error(), "step FLIP_LOCAL") {
		t.Errorf("error %q does not name the stage", err)
	}
}
