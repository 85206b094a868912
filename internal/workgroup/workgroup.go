// Package workgroup runs compute-style programs on the CPU.
//
// A program is executed by Size invocations, each on its own goroutine, that
// share memory owned by the caller and synchronize through a workgroup
// barrier. This mirrors a single GPU workgroup closely enough to run small
// kernels for testing and for hosts without a GPU adapter.
package workgroup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrBarrierBroken is returned from Barrier when another invocation failed
// or the dispatch context was cancelled while waiting.
var ErrBarrierBroken = errors.New("workgroup: barrier broken")

// ErrInvalidSize is returned by Run for a workgroup size of zero.
var ErrInvalidSize = errors.New("workgroup: size must be positive")

// Invocation is the per-thread view of a running workgroup.
type Invocation struct {
	// LocalID is the invocation index in [0, Size).
	LocalID uint32

	barrier *barrier
}

// Barrier blocks until every invocation of the workgroup has reached it.
func (inv Invocation) Barrier() error {
	return inv.barrier.wait()
}

// Program is the body executed by every invocation.
type Program func(ctx context.Context, inv Invocation) error

// Run executes program with size invocations and waits for all of them.
// The first error returned by an invocation cancels the others and is
// returned from Run.
func Run(ctx context.Context, size uint32, program Program) error {
	if size == 0 {
		return ErrInvalidSize
	}

	g, gctx := errgroup.WithContext(ctx)
	b := newBarrier(int(size))

	stop := context.AfterFunc(gctx, b.breakBarrier)
	defer stop()

	for id := range size {
		inv := Invocation{LocalID: id, barrier: b}
		g.Go(func() error {
			if err := program(gctx, inv); err != nil {
				return fmt.Errorf("invocation %d: %w", inv.LocalID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// barrier is a reusable cyclic barrier for a fixed number of parties.
type barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	waiting    int
	generation uint64
	broken     bool
}

func newBarrier(parties int) *barrier {
	b := &barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) wait() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.broken {
		return ErrBarrierBroken
	}

	gen := b.generation
	b.waiting++
	if b.waiting == b.parties {
		b.waiting = 0
		b.generation++
		b.cond.Broadcast()
		return nil
	}

	for gen == b.generation && !b.broken {
		b.cond.Wait()
	}
	if gen == b.generation {
		return ErrBarrierBroken
	}
	return nil
}

func (b *barrier) breakBarrier() {
	b.mu.Lock()
	b.broken = true
	b.mu.Unlock()
	b.cond.Broadcast()
}
