// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package bitonic

import (
	"context"
	"sync"
)

// ReadbackResult is the host copy of a dispatch's output.
type ReadbackResult struct {
	// Elements holds the output buffer, one value per element.
	Elements []uint32

	// Swaps is the number of compare-and-swap operations that exchanged
	// values during the dispatch.
	Swaps uint32
}

// Readback is a one-shot future for the staging-buffer mapping of a single
// dispatch. It is resolved exactly once by the device; later Resolve calls
// are ignored.
type Readback struct {
	done   chan struct{}
	once   sync.Once
	result ReadbackResult
	err    error
}

// NewReadback returns an unresolved readback.
func NewReadback() *Readback {
	return &Readback{done: make(chan struct{})}
}

// Resolve completes the readback with a result or an error.
func (r *Readback) Resolve(res ReadbackResult, err error) {
	r.once.Do(func() {
		r.result = res
		r.err = err
		close(r.done)
	})
}

// Done returns a channel that is closed once the readback resolves.
func (r *Readback) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the readback resolves or ctx is done.
func (r *Readback) Wait(ctx context.Context) (ReadbackResult, error) {
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return ReadbackResult{}, ctx.Err()
	}
}
