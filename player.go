// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package bitonic

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Player steps a Sequencer on a fixed interval until the sort completes
// (the "complete sort" action). At most one timer loop runs at a time.
//
// Player is safe for concurrent use.
type Player struct {
	seq    *Sequencer
	onStep func(StepReport)

	mu  sync.Mutex
	cur *playback
}

// playback is one timer loop.
type playback struct {
	active atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewPlayer returns a stopped player for seq. onStep, if non-nil, is called
// from the player goroutine after every successful step and must not call
// Start or Stop.
func NewPlayer(seq *Sequencer, onStep func(StepReport)) *Player {
	return &Player{seq: seq, onStep: onStep}
}

// Start begins stepping every interval. A loop that is already running is
// stopped first, so repeated calls never leave overlapping timers.
// The loop ends when the sort completes, a step fails, ctx is done, or
// Stop is called.
func (p *Player) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Millisecond
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()

	ctx, cancel := context.WithCancel(ctx)
	pb := &playback{cancel: cancel, done: make(chan struct{})}
	pb.active.Store(true)
	p.cur = pb

	Logger().Debug("bitonic: player started", "interval", interval)
	go p.run(ctx, pb, interval)
}

// Stop ends the running loop, if any, and waits for it to exit.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Player) stopLocked() {
	if p.cur == nil {
		return
	}
	p.cur.active.Store(false)
	p.cur.cancel()
	<-p.cur.done
}

// Running reports whether a loop is active.
func (p *Player) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur != nil && p.cur.active.Load()
}

// Wait blocks until the current loop exits and returns the step error that
// ended it, or nil if it completed or was stopped.
func (p *Player) Wait() error {
	p.mu.Lock()
	pb := p.cur
	p.mu.Unlock()
	if pb == nil {
		return nil
	}
	<-pb.done
	return pb.err
}

func (p *Player) run(ctx context.Context, pb *playback, interval time.Duration) {
	defer close(pb.done)
	defer pb.active.Store(false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !pb.active.Load() {
			return
		}

		rep, err := p.seq.Step(ctx)
		switch {
		case errors.Is(err, ErrSortComplete):
			return
		case err != nil:
			if ctx.Err() == nil {
				pb.err = err
				Logger().Warn("bitonic: player stopped", "err", err)
			}
			return
		}
		if p.onStep != nil {
			p.onStep(rep)
		}
		if rep.State.Done() {
			Logger().Debug("bitonic: player finished")
			return
		}
	}
}
