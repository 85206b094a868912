package bitonic

import (
	"fmt"
	"math/bits"
	"math/rand/v2"
	"slices"
)

const (
	// MinElements is the smallest sortable array.
	MinElements = 4

	// MaxThreads is the largest workgroup the kernel generator emits.
	MaxThreads = 256

	// MaxElements is the largest array one workgroup can sort.
	MaxElements = 2 * MaxThreads
)

// Elements is the host mirror of the element storage buffer.
type Elements []uint32

// NewElements returns the identity permutation [0, n).
func NewElements(n uint32) Elements {
	e := make(Elements, n)
	for i := range e {
		e[i] = uint32(i) //nolint:gosec // i < n fits uint32
	}
	return e
}

// Shuffle permutes e in place with a Fisher-Yates shuffle.
func (e Elements) Shuffle(r *rand.Rand) {
	for i := len(e) - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		e[i], e[j] = e[j], e[i]
	}
}

// IsSorted reports whether e is non-decreasing.
func (e Elements) IsSorted() bool {
	return slices.IsSorted(e)
}

// IsPermutation reports whether e holds every value of [0, len(e)) exactly once.
func (e Elements) IsPermutation() bool {
	seen := make([]bool, len(e))
	for _, v := range e {
		if int(v) >= len(e) || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}

// Clone returns a copy of e.
func (e Elements) Clone() Elements {
	return slices.Clone(e)
}

// ValidateElementCount returns ErrInvalidElementCount unless n is a power of
// two in [MinElements, MaxElements].
func ValidateElementCount(n uint32) error {
	if n < MinElements || n > MaxElements || bits.OnesCount32(n) != 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidElementCount, n)
	}
	return nil
}

// ValidSizes returns the element counts selectable for a device whose
// maximum workgroup size in X is maxWorkgroupSizeX, largest first:
// 2*min(maxWorkgroupSizeX, MaxThreads) halving down to MinElements.
func ValidSizes(maxWorkgroupSizeX uint32) []uint32 {
	threads := min(maxWorkgroupSizeX, MaxThreads)
	if threads == 0 {
		return nil
	}
	// Round down to a power of two so every entry is a valid count.
	top := uint32(1) << (31 - bits.LeadingZeros32(threads*2))
	var sizes []uint32
	for n := top; n >= MinElements; n /= 2 {
		sizes = append(sizes, n)
	}
	return sizes
}

// Grid is the cell layout of the display pass. Width*Height equals the
// number of elements.
type Grid struct {
	Width  uint32
	Height uint32
}

// GridFor returns the display grid for n = 2^k elements: Width is 2^(k/2)
// and Height is n/Width, giving a square grid for even k and a grid twice
// as tall as wide for odd k.
func GridFor(n uint32) Grid {
	if n == 0 {
		return Grid{}
	}
	k := bits.TrailingZeros32(n)
	w := uint32(1) << (k / 2)
	return Grid{Width: w, Height: n / w}
}

// Cells returns Width*Height.
func (g Grid) Cells() uint32 { return g.Width * g.Height }

// CellAt maps a pointer position on a canvas of the given size to an element
// index (row*Width + col). Rows are counted from the bottom of the canvas,
// matching the display pass. ok is false when the position is outside the canvas.
func (g Grid) CellAt(x, y, canvasW, canvasH float64) (index uint32, ok bool) {
	if x < 0 || y < 0 || x >= canvasW || y >= canvasH || g.Cells() == 0 {
		return 0, false
	}
	col := min(uint32(x/(canvasW/float64(g.Width))), g.Width-1)
	fromTop := min(uint32(y/(canvasH/float64(g.Height))), g.Height-1)
	row := g.Height - 1 - fromTop
	return row*g.Width + col, true
}

// CellCenter returns the centre of element i in cell units, with the origin
// at the bottom-left corner of the grid.
func (g Grid) CellCenter(i uint32) (x, y float32) {
	return float32(i%g.Width) + 0.5, float32(i/g.Width) + 0.5
}
