// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

package gpu

import (
	"context"
	"fmt"
	"image"

	"github.com/gogpu/bitonic"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// copyPitchAlignment is the required BytesPerRow alignment for
// texture-to-buffer copies.
const copyPitchAlignment = 256

// displayPipeline is the render pipeline of the display pass.
type displayPipeline struct {
	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.RenderPipeline
	uniform    hal.Buffer
}

// RenderDisplay draws the display pass into an offscreen width x height
// texture and reads it back. The element array is first written into the
// kernel's input buffer, which the fragment stage only reads.
func (d *SortDevice) RenderDisplay(ctx context.Context, elements []uint32, u bitonic.DisplayUniforms, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("gpu: invalid display size %dx%d", width, height)
	}
	select {
	case d.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-d.slot }()

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.gpuReady || d.kernel.input == nil {
		return nil, bitonic.ErrFallbackToCPU
	}
	if uint64(len(elements))*4 != d.kernel.dataSize {
		// Another sequencer left the device at a different size.
		if err := d.reconfigureLocked(uint32(len(elements) / 2)); err != nil { //nolint:gosec // len <= MaxElements
			return nil, fmt.Errorf("%w: %v", bitonic.ErrFallbackToCPU, err) //nolint:errorlint // fallback is the sentinel
		}
		if uint64(len(elements))*4 != d.kernel.dataSize {
			return nil, fmt.Errorf("%w: %d elements with a %d-byte buffer",
				bitonic.ErrFallbackToCPU, len(elements), d.kernel.dataSize)
		}
	}
	if d.display.pipeline == nil {
		if err := d.createDisplay(); err != nil {
			d.destroyDisplay()
			bitonic.Logger().Warn("gpu: display pipeline unavailable", "err", err)
			return nil, fmt.Errorf("%w: %v", bitonic.ErrFallbackToCPU, err) //nolint:errorlint // fallback is the sentinel
		}
	}

	d.queue.WriteBuffer(d.kernel.input, 0, bitonic.EncodeElements(elements))
	d.queue.WriteBuffer(d.display.uniform, 0, u.Bytes())

	img, err := d.renderOffscreen(uint32(width), uint32(height)) //nolint:gosec // positive, checked above
	if err != nil {
		return nil, fmt.Errorf("gpu: display pass: %w", err)
	}
	bitonic.Logger().Debug("gpu: display pass", "width", width, "height", height)
	return img, nil
}

// renderOffscreen records the display pass into a BGRA texture and copies it
// back. d.mu must be held.
func (d *SortDevice) renderOffscreen(w, h uint32) (*image.RGBA, error) {
	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         "bitonic_display_target",
		Size:          hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatBGRA8Unorm,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("create target texture: %w", err)
	}
	defer d.device.DestroyTexture(tex)

	view, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{Label: "bitonic_display_view"})
	if err != nil {
		return nil, fmt.Errorf("create target view: %w", err)
	}
	defer d.device.DestroyTextureView(view)

	bind, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "bitonic_display_bind", Layout: d.display.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: d.kernel.input.NativeHandle(), Offset: 0, Size: d.kernel.dataSize}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: d.display.uniform.NativeHandle(), Offset: 0, Size: bitonic.DisplayUniformsSize}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group: %w", err)
	}
	defer d.device.DestroyBindGroup(bind)

	bytesPerRow := w * 4
	alignedBytesPerRow := (bytesPerRow + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
	stagingSize := uint64(alignedBytesPerRow) * uint64(h)
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "bitonic_display_staging", Size: stagingSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create staging buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "bitonic_display_encoder"})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("bitonic_display"); err != nil {
		return nil, fmt.Errorf("begin encoding: %w", err)
	}

	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "bitonic_display_pass",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 1},
		}},
	})
	rp.SetPipeline(d.display.pipeline)
	rp.SetBindGroup(0, bind, nil)
	rp.Draw(6, 1, 0, 0)
	rp.End()

	encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageRenderAttachment,
			NewUsage: gputypes.TextureUsageCopySrc,
		},
	}})
	encoder.CopyTextureToBuffer(tex, staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: alignedBytesPerRow, RowsPerImage: h},
		TextureBase:  hal.ImageCopyTexture{Texture: tex, MipLevel: 0},
		Size:         hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	}})

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("end encoding: %w", err)
	}
	defer d.device.FreeCommandBuffer(cmdBuf)

	fence, err := d.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("create fence: %w", err)
	}
	defer d.device.DestroyFence(fence)

	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	fenceOK, err := d.device.Wait(fence, 1, fenceTimeout)
	if err != nil || !fenceOK {
		return nil, fmt.Errorf("wait for GPU: ok=%v err=%w", fenceOK, err)
	}

	readback := make([]byte, stagingSize)
	if err := d.queue.ReadBuffer(staging, 0, readback); err != nil {
		return nil, fmt.Errorf("readback: %w", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	copyBGRARows(img, readback, int(alignedBytesPerRow))
	return img, nil
}

// copyBGRARows converts padded BGRA rows into img, dropping the row padding.
func copyBGRARows(img *image.RGBA, src []byte, srcStride int) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for y := range h {
		s := src[y*srcStride : y*srcStride+w*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w*4; x += 4 {
			dst[x+0] = s[x+2]
			dst[x+1] = s[x+1]
			dst[x+2] = s[x+0]
			dst[x+3] = s[x+3]
		}
	}
}

// createDisplay builds the display render pipeline. d.mu must be held.
func (d *SortDevice) createDisplay() error {
	src := bitonic.DisplayShaderSource()
	if err := checkWGSL("bitonic_display", src); err != nil {
		return err
	}
	p := &d.display

	shader, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "bitonic_display",
		Source: hal.ShaderSource{WGSL: src},
	})
	if err != nil {
		return fmt.Errorf("compile display shader: %w", err)
	}
	p.shader = shader

	bindLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "bitonic_display_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageFragment, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 1, Visibility: gputypes.ShaderStageFragment, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
		},
	})
	if err != nil {
		return fmt.Errorf("create display bind group layout: %w", err)
	}
	p.bindLayout = bindLayout

	pipeLayout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "bitonic_display_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create display pipeline layout: %w", err)
	}
	p.pipeLayout = pipeLayout

	pipeline, err := d.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "bitonic_display_pipeline",
		Layout: p.pipeLayout,
		Vertex: hal.VertexState{
			Module:     p.shader,
			EntryPoint: "vs_main",
		},
		Fragment: &hal.FragmentState{
			Module:     p.shader,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{{
				Format:    gputypes.TextureFormatBGRA8Unorm,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("create display pipeline: %w", err)
	}
	p.pipeline = pipeline

	uniform, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "bitonic_display_uniforms", Size: bitonic.DisplayUniformsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create display uniform buffer: %w", err)
	}
	p.uniform = uniform
	return nil
}

// destroyDisplay releases the display pipeline. d.mu must be held.
func (d *SortDevice) destroyDisplay() {
	p := &d.display
	if d.device != nil {
		if p.uniform != nil {
			d.device.DestroyBuffer(p.uniform)
		}
		if p.pipeline != nil {
			d.device.DestroyRenderPipeline(p.pipeline)
		}
		if p.pipeLayout != nil {
			d.device.DestroyPipelineLayout(p.pipeLayout)
		}
		if p.bindLayout != nil {
			d.device.DestroyBindGroupLayout(p.bindLayout)
		}
		if p.shader != nil {
			d.device.DestroyShaderModule(p.shader)
		}
	}
	*p = displayPipeline{}
}
