package bitonic

import "math/rand/v2"

// Option configures a Sequencer during creation.
//
// Example:
//
//	// CPU emulator, deterministic shuffle
//	seq, err := bitonic.New(64, bitonic.WithSeed(42))
//
//	// Explicit device (dependency injection)
//	seq, err := bitonic.New(256, bitonic.WithDevice(dev))
type Option func(*options)

// options holds optional configuration for Sequencer creation.
type options struct {
	device       Device
	rng          *rand.Rand
	maxWorkgroup uint32
}

// defaultOptions returns the default sequencer options.
func defaultOptions() options {
	return options{
		device:       nil, // registered device, then a private CPUDevice
		rng:          nil, // seeded from the runtime if nil
		maxWorkgroup: MaxThreads,
	}
}

// WithDevice sets the device dispatches run on. The sequencer does not close
// a device passed this way.
func WithDevice(d Device) Option {
	return func(o *options) {
		o.device = d
	}
}

// WithRand sets the source used by Randomize and Resize.
func WithRand(r *rand.Rand) Option {
	return func(o *options) {
		o.rng = r
	}
}

// WithSeed makes shuffles deterministic.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // not for security
	}
}

// WithMaxWorkgroupSize caps the workgroup size below the device limit,
// shrinking the set of ValidSizes.
func WithMaxWorkgroupSize(n uint32) Option {
	return func(o *options) {
		o.maxWorkgroup = n
	}
}
