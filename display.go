// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package bitonic

import (
	"image"
	"image/color"
	"sync"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// DefaultCellSize is the cell edge in pixels when DisplayOptions leaves the
// output size unset.
const DefaultCellSize = 32

var (
	hoverColor = color.RGBA{R: 0xff, A: 0xff}
	swapColor  = color.RGBA{G: 0xff, A: 0xff}
)

// DisplayOptions configures the display pass.
type DisplayOptions struct {
	// Width and Height are the output size in pixels. Zero selects
	// DefaultCellSize pixels per cell.
	Width, Height int

	// Hover highlights the hovered cell in red and its swap partner in green.
	Hover *HoverInfo

	// Caption is drawn in the top-left corner when non-empty.
	Caption string
}

func (o DisplayOptions) withDefaults(g Grid) DisplayOptions {
	if o.Width <= 0 {
		o.Width = int(g.Width) * DefaultCellSize
	}
	if o.Height <= 0 {
		o.Height = int(g.Height) * DefaultCellSize
	}
	return o
}

// uniforms returns the display shader uniforms. Without a hover the masks
// are placed outside the grid.
func (o DisplayOptions) uniforms(g Grid) DisplayUniforms {
	u := DisplayUniforms{
		Width:  float32(g.Width),
		Height: float32(g.Height),
		HoverX: -1, HoverY: -1,
		SwapX: -1, SwapY: -1,
	}
	if o.Hover != nil {
		u.HoverX, u.HoverY = g.CellCenter(o.Hover.Hovered)
		u.SwapX, u.SwapY = g.CellCenter(o.Hover.Swapped)
	}
	return u
}

// Shade returns the grey level of a cell holding value in a grid of cells
// cells: 1 - value/cells, so small values are bright.
func Shade(value, cells uint32) float32 {
	if cells == 0 {
		return 0
	}
	return 1 - float32(value)/float32(cells)
}

// RenderGrid is the CPU rendition of the display pass. Element i is drawn in
// column i%Width of row i/Width, with row 0 at the bottom of the image.
func RenderGrid(elements []uint32, g Grid, opts DisplayOptions) *image.RGBA {
	opts = opts.withDefaults(g)

	cells := image.NewRGBA(image.Rect(0, 0, int(g.Width), int(g.Height)))
	for i, v := range elements {
		if uint32(i) >= g.Cells() { //nolint:gosec // i < len(elements) <= MaxElements
			break
		}
		level := uint8(Shade(v, g.Cells())*255 + 0.5)
		x, y := cellPixel(g, uint32(i)) //nolint:gosec // as above
		cells.SetRGBA(x, y, color.RGBA{R: level, G: level, B: level, A: 0xff})
	}
	if opts.Hover != nil {
		// Swap is drawn last, matching the mix order in the fragment shader.
		if opts.Hover.Hovered < g.Cells() {
			x, y := cellPixel(g, opts.Hover.Hovered)
			cells.SetRGBA(x, y, hoverColor)
		}
		if opts.Hover.Swapped < g.Cells() {
			x, y := cellPixel(g, opts.Hover.Swapped)
			cells.SetRGBA(x, y, swapColor)
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), cells, cells.Bounds(), xdraw.Src, nil)
	drawCaption(dst, opts.Caption)

	Logger().Debug("bitonic: display pass (cpu)",
		"grid_w", g.Width, "grid_h", g.Height, "width", opts.Width, "height", opts.Height)
	return dst
}

// cellPixel returns the pixel of element i in a one-pixel-per-cell image.
func cellPixel(g Grid, i uint32) (x, y int) {
	col, row := i%g.Width, i/g.Width
	return int(col), int(g.Height - 1 - row)
}

var (
	captionOnce sync.Once
	captionFace font.Face

	// captionMu serializes use of captionFace, which is not safe for
	// concurrent use.
	captionMu sync.Mutex
)

// face returns the caption face, or nil if the embedded font failed to load.
func face() font.Face {
	captionOnce.Do(func() {
		f, err := opentype.Parse(gomono.TTF)
		if err != nil {
			Logger().Warn("bitonic: caption font", "err", err)
			return
		}
		captionFace, err = opentype.NewFace(f, &opentype.FaceOptions{
			Size:    12,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			Logger().Warn("bitonic: caption face", "err", err)
			captionFace = nil
		}
	})
	return captionFace
}

// drawCaption draws text over a dark band at the top of img.
func drawCaption(img *image.RGBA, text string) {
	if text == "" || img == nil {
		return
	}
	f := face()
	if f == nil {
		return
	}
	captionMu.Lock()
	defer captionMu.Unlock()

	m := f.Metrics()
	band := (m.Ascent + m.Descent).Ceil() + 4
	xdraw.Draw(img, image.Rect(0, 0, img.Bounds().Dx(), band),
		image.NewUniform(color.RGBA{A: 0xc0}), image.Point{}, xdraw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 0xff, G: 0xd7, A: 0xff}),
		Face: f,
		Dot:  fixed.Point26_6{X: fixed.I(4), Y: m.Ascent + fixed.I(2)},
	}
	d.DrawString(text)
}
