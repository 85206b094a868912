package bitonic

import (
	"fmt"
	"math/bits"
)

// State is the bitonic stage machine.
//
// State is a value type: Advance returns the successor and never mutates the
// receiver, so callers can keep the previous state for display or rollback.
//
// Transitions:
//
//	NONE -> FLIP_LOCAL <-> DISPERSE_LOCAL -> ... -> NONE
//
// A state is terminal once HighestBlockHeight == 2*TotalElements.
type State struct {
	TotalElements uint32
	TotalThreads  uint32

	PrevStage Algorithm
	NextStage Algorithm

	// PrevSwapSpan is the block height used by the last dispatch.
	PrevSwapSpan uint32

	// NextSwapSpan is the block height the next dispatch uses.
	NextSwapSpan uint32

	// HighestBlockHeight only grows, doubling after each completed
	// flip/disperse run.
	HighestBlockHeight uint32
}

// NewState returns the initial state for n elements.
func NewState(n uint32) State {
	return State{
		TotalElements:      n,
		TotalThreads:       n / 2,
		PrevStage:          AlgoNone,
		NextStage:          AlgoFlipLocal,
		PrevSwapSpan:       0,
		NextSwapSpan:       2,
		HighestBlockHeight: 2,
	}
}

// Done reports whether the sort has reached the terminal state.
func (s State) Done() bool {
	return s.HighestBlockHeight >= 2*s.TotalElements
}

// Stage returns the descriptor of the next dispatch.
func (s State) Stage() Stage {
	return Stage{Algorithm: s.NextStage, BlockHeight: s.NextSwapSpan}
}

// PrevStageDescriptor returns the descriptor of the last executed dispatch.
func (s State) PrevStageDescriptor() Stage {
	return Stage{Algorithm: s.PrevStage, BlockHeight: s.PrevSwapSpan}
}

// Advance returns the state after the current stage has been dispatched.
// Advancing a terminal state returns it unchanged.
func (s State) Advance() State {
	if s.Done() {
		return s
	}
	next := s
	next.PrevStage = s.NextStage
	next.PrevSwapSpan = s.NextSwapSpan
	next.NextSwapSpan = s.NextSwapSpan / 2

	if next.NextSwapSpan == 1 {
		next.HighestBlockHeight = s.HighestBlockHeight * 2
		if next.HighestBlockHeight == 2*s.TotalElements {
			next.NextStage = AlgoNone
			next.NextSwapSpan = 0
		} else {
			next.NextStage = AlgoFlipLocal
			next.NextSwapSpan = next.HighestBlockHeight
		}
		return next
	}

	next.NextStage = AlgoDisperseLocal
	return next
}

// StepsRemaining returns the number of dispatches left until terminal.
func (s State) StepsRemaining() int {
	n := 0
	for cur := s; !cur.Done(); cur = cur.Advance() {
		n++
	}
	return n
}

func (s State) String() string {
	return fmt.Sprintf("prev=%s next=%s highest=%d",
		s.PrevStageDescriptor(), s.Stage(), s.HighestBlockHeight)
}

// TotalSteps returns the number of dispatches a full sort of n elements
// takes: log2(n) * (log2(n)+1) / 2. n must be a power of two.
func TotalSteps(n uint32) int {
	k := bits.TrailingZeros32(n)
	return k * (k + 1) / 2
}
