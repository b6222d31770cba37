// Package compose finalizes decoded tile buffers: it applies the auxiliary
// validity mask and clips pixels that fall outside the nominal raster
// extent on the last column and row of a tile grid.
package compose

import (
	"fmt"

	"github.com/felipecarrillo100/geotifftilesetmodel/raster"
)

// Geometry places one tile inside its level's grid.
type Geometry struct {
	// Level dimensions in pixels.
	LevelWidth, LevelHeight int
	// Tile position and grid size.
	Col, Row   int
	Cols, Rows int
	// Tile dimensions in pixels.
	TileWidth, TileHeight int
	// FlipY is set when the active reference is plain pixel space with a
	// bottom-up row order.
	FlipY bool
}

func (g Geometry) edgeTile() bool {
	return g.Col == g.Cols-1 || g.Row == g.Rows-1
}

// Composite applies mask and boundary clipping to a converted tile buffer
// and returns the finalized buffer with its (possibly promoted) format.
//
// A nil mask skips masking. Interior tiles skip the clipping step entirely.
// RGB buffers are promoted to RGBA before any pixel is made transparent.
func Composite(buf []byte, format raster.Format, mask raster.Samples, g Geometry) ([]byte, raster.Format, error) {
	if format != raster.FormatRGB888 && format != raster.FormatRGBA8888 {
		return nil, format, fmt.Errorf("%w: cannot composite %v buffers", raster.ErrUnsupportedFormat, format)
	}

	if mask != nil {
		buf, format = promote(buf, format)
		pixels := len(buf) / 4
		for i := 0; i < pixels && i < mask.Len(); i++ {
			if mask.Value(i) == 0 {
				o := i * 4
				buf[o], buf[o+1], buf[o+2], buf[o+3] = 0, 0, 0, 0
			}
		}
	}

	if g.edgeTile() {
		buf, format = promote(buf, format)
		clipOutsideExtent(buf, g)
	}

	return buf, format, nil
}

// clipOutsideExtent blanks every pixel whose absolute raster coordinate
// falls outside [0,width)x[0,height).
func clipOutsideExtent(buf []byte, g Geometry) {
	for y := 0; y < g.TileHeight; y++ {
		absY := g.Row*g.TileHeight + y
		if g.FlipY {
			absY = g.Rows*g.TileHeight - 1 - absY
		}
		rowOutside := absY < 0 || absY >= g.LevelHeight
		for x := 0; x < g.TileWidth; x++ {
			absX := g.Col*g.TileWidth + x
			if !rowOutside && absX < g.LevelWidth {
				continue
			}
			o := (y*g.TileWidth + x) * 4
			buf[o], buf[o+1], buf[o+2], buf[o+3] = 0, 0, 0, 0
		}
	}
}

// promote expands an RGB_888 buffer to RGBA_8888 with full alpha. RGBA
// input is returned unchanged.
func promote(buf []byte, format raster.Format) ([]byte, raster.Format) {
	if format != raster.FormatRGB888 {
		return buf, format
	}
	pixels := len(buf) / 3
	out := make([]byte, pixels*4)
	for i := 0; i < pixels; i++ {
		out[i*4] = buf[i*3]
		out[i*4+1] = buf[i*3+1]
		out[i*4+2] = buf[i*3+2]
		out[i*4+3] = 255
	}
	return out, raster.FormatRGBA8888
}
