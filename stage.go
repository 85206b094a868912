package bitonic

import "fmt"

// Algorithm selects the comparison pattern of one compute dispatch.
// The numeric values are written verbatim into the kernel's uniform buffer.
type Algorithm uint32

const (
	// AlgoNone performs no comparison. It is the terminal stage.
	AlgoNone Algorithm = iota

	// AlgoFlipLocal mirrors indices around the centre of each block.
	AlgoFlipLocal

	// AlgoDisperseLocal compares indices half a block apart.
	AlgoDisperseLocal
)

// String returns the stage name shown in the debug panel.
func (a Algorithm) String() string {
	switch a {
	case AlgoNone:
		return "NONE"
	case AlgoFlipLocal:
		return "FLIP_LOCAL"
	case AlgoDisperseLocal:
		return "DISPERSE_LOCAL"
	default:
		return fmt.Sprintf("Algorithm(%d)", uint32(a))
	}
}

// Stage describes the next compute dispatch.
type Stage struct {
	Algorithm   Algorithm
	BlockHeight uint32
}

func (s Stage) String() string {
	return fmt.Sprintf("%s(h=%d)", s.Algorithm, s.BlockHeight)
}

// FlipIndices returns the pair of indices thread t compares during a flip
// pass over blocks of height h. The first index is always the smaller one.
func FlipIndices(t, h uint32) (uint32, uint32) {
	offset := ((2 * t) / h) * h
	half := h / 2
	return offset + t%half, offset + h - t%half - 1
}

// DisperseIndices returns the pair of indices thread t compares during a
// disperse pass over blocks of height h.
func DisperseIndices(t, h uint32) (uint32, uint32) {
	offset := ((2 * t) / h) * h
	half := h / 2
	return offset + t%half, offset + t%half + half
}

// SwapPartner returns the element that index i is compared against in the
// given stage. For AlgoNone, or when i lies outside any block, i is returned.
func SwapPartner(i uint32, s Stage) uint32 {
	h := s.BlockHeight
	if h < 2 {
		return i
	}
	switch s.Algorithm {
	case AlgoFlipLocal:
		return h*(i/h+1) - i%h - 1
	case AlgoDisperseLocal:
		half := h / 2
		if i%h < half {
			return i + half
		}
		return i - half
	default:
		return i
	}
}
