// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package bitonic

import (
	_ "embed"
	"encoding/binary"
	"math"
	"strings"
	"text/template"
)

// DefaultThreads is the workgroup size used when a requested thread count
// cannot be honored.
const DefaultThreads = MaxThreads

// KernelEntryPoint is the name of the compute entry point in KernelSource.
const KernelEntryPoint = "computeMain"

// Kernel bindings, all in group 0.
const (
	BindingInput    = 0 // read-only storage, array<u32>
	BindingOutput   = 1 // read-write storage, array<u32>
	BindingUniforms = 2 // uniform, Uniforms
	BindingCounter  = 3 // read-write storage, atomic<u32>
)

//go:embed shaders/bitonic_compute.wgsl.tmpl
var computeTemplateSource string

//go:embed shaders/bitonic_display.wgsl
var displayShaderSource string

var computeTemplate = template.Must(template.New("bitonic_compute").Parse(computeTemplateSource))

// ClampThreads returns threads if it is a usable workgroup size (even and in
// (0, MaxThreads]) and DefaultThreads otherwise. clamped reports whether the
// value was replaced.
func ClampThreads(threads uint32) (n uint32, clamped bool) {
	if threads == 0 || threads%2 != 0 || threads > MaxThreads {
		return DefaultThreads, true
	}
	return threads, false
}

// KernelSource returns the WGSL compute program performing one bitonic pass
// with a workgroup of threads invocations. Invalid thread counts are replaced
// by DefaultThreads and a warning is logged.
func KernelSource(threads uint32) string {
	n, clamped := ClampThreads(threads)
	if clamped {
		Logger().Warn("bitonic: invalid workgroup size, using default",
			"requested", threads, "threads", n)
	}

	var sb strings.Builder
	data := struct{ Threads, Elements uint32 }{Threads: n, Elements: 2 * n}
	if err := computeTemplate.Execute(&sb, data); err != nil {
		// The template is embedded and the data is two integers.
		panic("bitonic: kernel template: " + err.Error())
	}
	return sb.String()
}

// DisplayShaderSource returns the WGSL display program. Its vertex entry
// point is vs_main and its fragment entry point is fs_main.
func DisplayShaderSource() string {
	return displayShaderSource
}

// Uniforms is the kernel's uniform block.
// Must match the Uniforms struct in bitonic_compute.wgsl.tmpl.
type Uniforms struct {
	Width       float32 // grid width in cells
	Height      float32 // grid height in cells
	Algo        Algorithm
	BlockHeight uint32
}

// UniformsSize is the encoded size of Uniforms in bytes.
const UniformsSize = 16

// NewUniforms returns the uniforms for dispatching stage s over grid g.
func NewUniforms(g Grid, s Stage) Uniforms {
	return Uniforms{
		Width:       float32(g.Width),
		Height:      float32(g.Height),
		Algo:        s.Algorithm,
		BlockHeight: s.BlockHeight,
	}
}

// Bytes encodes u in the little-endian layout expected by the kernel.
func (u Uniforms) Bytes() []byte {
	b := make([]byte, UniformsSize)
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(u.Width))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(u.Height))
	binary.LittleEndian.PutUint32(b[8:], uint32(u.Algo))
	binary.LittleEndian.PutUint32(b[12:], u.BlockHeight)
	return b
}

// DisplayUniforms is the display shader's uniform block.
// Must match DisplayUniforms in bitonic_display.wgsl.
type DisplayUniforms struct {
	Width, Height  float32
	HoverX, HoverY float32
	SwapX, SwapY   float32
}

// DisplayUniformsSize is the encoded size of DisplayUniforms, padded to 16 bytes.
const DisplayUniformsSize = 32

// Bytes encodes u in the little-endian layout expected by the display shader.
func (u DisplayUniforms) Bytes() []byte {
	b := make([]byte, DisplayUniformsSize)
	for i, f := range [...]float32{u.Width, u.Height, u.HoverX, u.HoverY, u.SwapX, u.SwapY} {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// EncodeElements packs e into little-endian bytes for upload.
func EncodeElements(e []uint32) []byte {
	b := make([]byte, 4*len(e))
	for i, v := range e {
		binary.LittleEndian.PutUint32(b[i*4:], v)
	}
	return b
}

// DecodeElements unpacks n little-endian uint32 values from b.
func DecodeElements(b []byte, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out
}
