// Package raster holds the shared data model for resolution levels, pixel
// windows and raw sample buffers as read from a Cloud Optimized GeoTIFF
// (or any raster source exposing the same metadata).
package raster

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/go-spatial/geom"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported raster format")
	ErrBandIndex         = errors.New("band index out of range")
)

// Photometric interpretation codes as found in the raster metadata.
type Photometric int

const (
	WhiteIsZero    Photometric = 0
	BlackIsZero    Photometric = 1
	PhotometricRGB Photometric = 2
	Palette        Photometric = 3
)

// PlanarConfig describes how multi-band pixels are laid out.
type PlanarConfig int

const (
	// Chunky stores the bands interleaved per pixel.
	Chunky PlanarConfig = 1
	// Planar stores each band as a separate plane.
	Planar PlanarConfig = 2
)

// SubfileTypeMask is bit 2 of the NewSubfileType metadata word and marks a
// level as a transparency (validity) mask for another level.
const SubfileTypeMask = 0x4

// Level is the immutable metadata of one resolution level.
type Level struct {
	Index           int
	Width           int
	Height          int
	TileWidth       int
	TileHeight      int
	BitsPerSample   int
	SamplesPerPixel int
	Photometric     Photometric
	SampleIsFloat   bool
	SubfileType     uint32
	Planar          PlanarConfig
	// Extent is the georeferenced bounding box of the level, nil if the
	// source carries no georeferencing.
	Extent *geom.Extent
}

// IsMask reports whether the level is a transparency mask for another level.
func (l Level) IsMask() bool {
	return l.SubfileType&SubfileTypeMask != 0
}

// Tiled reports whether the level is natively tiled. A level whose tile
// dimensions are unset or equal to the full level dimensions is a single
// strip and needs retiling before it can be addressed per tile.
func (l Level) Tiled() bool {
	if l.TileWidth == 0 || l.TileHeight == 0 {
		return false
	}
	return l.TileWidth != l.Width || l.TileHeight != l.Height
}

// Address identifies a requested tile in the synthesized tile grid.
type Address struct {
	Level int
	Col   int
	Row   int
}

// Window is a pixel-space rectangle [X0,X1)x[Y0,Y1) in the coordinate space
// of a specific level.
type Window struct {
	X0, Y0, X1, Y1 int
}

func (w Window) Width() int  { return w.X1 - w.X0 }
func (w Window) Height() int { return w.Y1 - w.Y0 }

// BandMapping selects which bands feed the output channels.
// RGB true maps Red/Green/Blue band indices directly onto the output
// channels, RGB false colorizes the single Gray band via a gradient.
type BandMapping struct {
	Red   int  `json:"red"`
	Green int  `json:"green"`
	Blue  int  `json:"blue"`
	Gray  int  `json:"gray"`
	RGB   bool `json:"rgb"`
}

// Validate checks all referenced band indices against the band count of the
// level being read.
func (m BandMapping) Validate(samplesPerPixel int) error {
	check := func(name string, i int) error {
		if i < 0 || i >= samplesPerPixel {
			return fmt.Errorf("%w: %s band %d, level has %d bands", ErrBandIndex, name, i, samplesPerPixel)
		}
		return nil
	}
	if m.RGB {
		for _, b := range []struct {
			name string
			idx  int
		}{{"red", m.Red}, {"green", m.Green}, {"blue", m.Blue}} {
			if err := check(b.name, b.idx); err != nil {
				return err
			}
		}
		return nil
	}
	return check("gray", m.Gray)
}

// NoData designates a raw value meaning "no valid measurement".
type NoData struct {
	Value float64
}

// Matches reports whether v equals the sentinel. Two NaNs match.
// A nil policy matches nothing.
func (nd *NoData) Matches(v float64) bool {
	if nd == nil {
		return false
	}
	return v == nd.Value || (math.IsNaN(v) && math.IsNaN(nd.Value))
}

// SampleReader is the raster-source collaborator. Implementations decode the
// actual file format (plain TIFF directories, COG ranges over HTTP, ...),
// which is outside this module.
//
// ReadSamples returns exactly one interleaved buffer when interleaved is
// true, or one buffer per requested band when it is false. The shape is
// always chosen by the caller through the flag, never inferred from the
// result.
type SampleReader interface {
	Levels() []Level
	ReadSamples(ctx context.Context, level int, win Window, bands []int, interleaved bool) ([]Samples, error)
}
