package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"

	"github.com/gogpu/bitonic"
)

// dumpGrid prints the element grid top row first, the way the display pass
// lays it out. Cells are shaded like the display pass; the hovered cell is
// red and its swap partner green.
func dumpGrid(out *termenv.Output, seq *bitonic.Sequencer, hover *bitonic.HoverInfo) {
	writeGrid(out, out, seq.Elements(), seq.Grid(), hover)
}

func writeGrid(w io.Writer, out *termenv.Output, elements []uint32, g bitonic.Grid, hover *bitonic.HoverInfo) {
	cells := g.Cells()
	var b strings.Builder
	for row := int(g.Height) - 1; row >= 0; row-- {
		for col := range g.Width {
			i := uint32(row)*g.Width + col //nolint:gosec // row < Height
			b.WriteString(cellStyle(out, elements[i], cells, i, hover).String())
		}
		b.WriteByte('\n')
	}
	_, _ = io.WriteString(w, b.String())
}

func cellStyle(out *termenv.Output, v, cells, i uint32, hover *bitonic.HoverInfo) termenv.Style {
	width := len(fmt.Sprint(cells - 1))
	s := out.String(fmt.Sprintf(" %*d ", width, v))
	switch {
	case hover != nil && i == hover.Hovered:
		return s.Background(out.Color("#ff0000")).Foreground(out.Color("#ffffff"))
	case hover != nil && i == hover.Swapped:
		return s.Background(out.Color("#00ff00")).Foreground(out.Color("#000000"))
	}
	shade := bitonic.Shade(v, cells)
	g := uint8(shade * 255)
	fg := "#ffffff"
	if shade > 0.5 {
		fg = "#000000"
	}
	return s.Background(out.Color(fmt.Sprintf("#%02x%02x%02x", g, g, g))).Foreground(out.Color(fg))
}
