// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

// Package gpu implements the bitonic sort device on wgpu/hal.
//
// SortDevice compiles the generated compute kernel for one workgroup size
// and runs a single workgroup per dispatch:
//
//	host mirror -> input buffer -> computeMain -> output buffer -> staging -> host mirror
//
// Each dispatch is one command buffer holding the compute pass and the
// copies of the output and swap counter buffers into a mappable staging
// buffer. The readback resolves when the fence signals.
//
// The display pass draws a fullscreen triangle pair into an offscreen BGRA
// texture. It reads the element array from the kernel's input buffer, which
// is rewritten from the host mirror before every pass.
//
// Shaders are parsed and lowered with naga before pipeline creation so
// generator errors name the offending shader.
package gpu
