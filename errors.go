package bitonic

import "errors"

var (
	// ErrInvalidElementCount is returned when an element count is not a power
	// of two in the range [MinElements, MaxElements].
	ErrInvalidElementCount = errors.New("bitonic: element count must be a power of two in [4, 512]")

	// ErrSortComplete is returned by Step when the state is already terminal.
	ErrSortComplete = errors.New("bitonic: sort already complete")

	// ErrDeviceClosed is returned when a dispatch is submitted to a closed device.
	ErrDeviceClosed = errors.New("bitonic: device is closed")

	// ErrNilDevice is returned when a nil device is registered or injected.
	ErrNilDevice = errors.New("bitonic: device must not be nil")

	// ErrFallbackToCPU indicates a device cannot handle the operation and the
	// caller should transparently use the CPU path.
	ErrFallbackToCPU = errors.New("bitonic: falling back to CPU")

	// ErrReadbackSize is returned when a readback does not hold one value per element.
	ErrReadbackSize = errors.New("bitonic: readback size mismatch")

	// ErrInvalidStage is returned when a dispatch's block height does not fit
	// the configured workgroup.
	ErrInvalidStage = errors.New("bitonic: invalid stage for workgroup")
)
