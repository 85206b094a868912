// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package bitonic is a step-by-step GPU bitonic sort visualizer.
//
// A [Sequencer] owns a power-of-two array of uint32 values and a [State]
// machine that tracks which comparison pass (flip or disperse) and which
// block height the next compute dispatch uses. Every call to
// [Sequencer.Step] issues exactly one dispatch of one workgroup on a
// [Device], awaits the readback of the sorted-so-far array, and advances
// the state. After TotalSteps(n) steps the array is sorted ascending and the
// state is terminal.
//
// # Devices
//
// By default the sequencer runs on the CPU workgroup emulator, which executes
// the same kernel semantics with one goroutine per workgroup thread and a
// barrier standing in for workgroupBarrier(). Import the gpu package to run
// the generated WGSL kernel on real hardware through gogpu/wgpu:
//
//	import _ "github.com/gogpu/bitonic/gpu" // enable GPU dispatch
//
// # Kernel
//
// [KernelSource] emits the WGSL compute program for a given thread count.
// The program keeps 2*T elements in workgroup memory, synchronizes with two
// barriers, and performs one compare-and-swap per thread.
//
// # Display
//
// [RenderGrid] shades a grid of cells by element value (bright cells hold
// small values). GPU devices may implement [DisplayRenderer] to run the
// fragment shader version of the same pass.
//
// # Example
//
//	seq, err := bitonic.New(16, bitonic.WithSeed(1))
//	if err != nil {
//	    return err
//	}
//	defer seq.Close()
//
//	for !seq.State().Done() {
//	    if _, err := seq.Step(ctx); err != nil {
//	        return err
//	    }
//	}
//	fmt.Println(seq.Elements()) // [0 1 2 ... 15]
package bitonic
