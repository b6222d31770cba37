// Package tilematrix derives the multi-resolution tile grid of a raster
// pyramid: per-level tile geometry, georeferenced bounds and the pairing of
// validity-mask levels with their primary levels.
package tilematrix

import (
	"errors"
	"math"

	"github.com/go-spatial/geom"
	"github.com/umpc/go-sortedmap"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/felipecarrillo100/geotifftilesetmodel/mapslicehelp"
	"github.com/felipecarrillo100/geotifftilesetmodel/mathhelp"
	"github.com/felipecarrillo100/geotifftilesetmodel/raster"
	"github.com/felipecarrillo100/geotifftilesetmodel/retile"
)

var ErrNoLevels = errors.New("no primary resolution levels")

// boundsTolerance decides when derived level bounds are close enough to the
// finest level's bounds to share the exact same extent object.
const boundsTolerance = 1e-6

// Matrix is the tile grid of one primary resolution level.
type Matrix struct {
	// Ordinal is the position in enumeration order, 0 = coarsest.
	Ordinal int
	Level   raster.Level
	// Effective tile dimensions: native, or synthesized for untiled levels.
	TileWidth  int
	TileHeight int
	// Grid size in tiles.
	MatrixWidth  int
	MatrixHeight int
	// Extent covers the full tile grid including the last tile's overhang,
	// flush with the finest level's top-left origin.
	Extent *geom.Extent
}

// Set is the ordered collection of matrices for a pyramid, coarsest first,
// with mask levels routed into their own collection.
type Set struct {
	matrices *orderedmap.OrderedMap[int, *Matrix]
	ordered  []*Matrix
	masks    []raster.Level
}

// Build enumerates the pyramid levels coarsest to finest and derives each
// primary level's tile geometry and bounds. Levels flagged as validity
// masks do not get a matrix entry; they are paired with primary levels by
// enumeration order.
func Build(levels []raster.Level) (*Set, error) {
	byResolution := sortedmap.New(len(levels), func(x, y interface{}) bool {
		return x.(raster.Level).Width < y.(raster.Level).Width
	})
	for _, level := range levels {
		byResolution.Insert(level.Index, level)
	}

	var primaries, masks []raster.Level
	for _, key := range byResolution.Keys() {
		level := byResolution.Map()[key].(raster.Level)
		if level.IsMask() {
			masks = append(masks, level)
		} else {
			primaries = append(primaries, level)
		}
	}
	if len(primaries) == 0 {
		return nil, ErrNoLevels
	}

	finest := primaries[len(primaries)-1]
	finestExtent := finest.Extent
	if finestExtent == nil {
		// plain pixel-space reference
		finestExtent = &geom.Extent{0, 0, float64(finest.Width), float64(finest.Height)}
	}

	set := &Set{matrices: orderedmap.New[int, *Matrix](), masks: masks}
	for ordinal, level := range primaries {
		m := buildMatrix(ordinal, level, finestExtent)
		set.matrices.Set(level.Index, m)
		set.ordered = append(set.ordered, m)
	}
	return set, nil
}

func buildMatrix(ordinal int, level raster.Level, finest *geom.Extent) *Matrix {
	tw, th := level.TileWidth, level.TileHeight
	if !level.Tiled() {
		tw = retile.SynthesizedTileSize(level.Width, level.Height)
		th = tw
	}
	cols := mathhelp.CeilDiv(level.Width, tw)
	rows := mathhelp.CeilDiv(level.Height, th)

	// scale the finest bounds by the grid overhang, anchored top-left
	sx := float64(cols*tw) / float64(level.Width)
	sy := float64(rows*th) / float64(level.Height)
	extent := &geom.Extent{
		finest.MinX(),
		finest.MaxY() - finest.YSpan()*sy,
		finest.MinX() + finest.XSpan()*sx,
		finest.MaxY(),
	}
	if sameExtent(extent, finest) {
		extent = finest
	}

	return &Matrix{
		Ordinal:      ordinal,
		Level:        level,
		TileWidth:    tw,
		TileHeight:   th,
		MatrixWidth:  cols,
		MatrixHeight: rows,
		Extent:       extent,
	}
}

func sameExtent(a, b *geom.Extent) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > boundsTolerance {
			return false
		}
	}
	return true
}

// Len returns the number of primary matrix entries.
func (s *Set) Len() int {
	return len(s.ordered)
}

// ByOrdinal returns the matrix at the given enumeration position.
func (s *Set) ByOrdinal(ordinal int) (*Matrix, bool) {
	if ordinal < 0 || ordinal >= len(s.ordered) {
		return nil, false
	}
	return s.ordered[ordinal], true
}

// ByLevelIndex returns the matrix for a raster level index.
func (s *Set) ByLevelIndex(index int) (*Matrix, bool) {
	return s.matrices.Get(index)
}

// Finest returns the highest-resolution matrix.
func (s *Set) Finest() *Matrix {
	return *mapslicehelp.LastElement(s.ordered)
}

// MaskFor returns the validity-mask level paired with the primary matrix
// at the given ordinal, if one exists. A mask with the primary's exact
// dimensions wins; without one the masks pair up by enumeration order.
func (s *Set) MaskFor(ordinal int) (raster.Level, bool) {
	matrix, ok := s.ByOrdinal(ordinal)
	if !ok {
		return raster.Level{}, false
	}
	for _, mask := range s.masks {
		if mask.Width == matrix.Level.Width && mask.Height == matrix.Level.Height {
			return mask, true
		}
	}
	if ordinal >= len(s.masks) {
		return raster.Level{}, false
	}
	return s.masks[ordinal], true
}

// LevelIndexes lists the raster level indices in enumeration order.
func (s *Set) LevelIndexes() []int {
	return mapslicehelp.OrderedMapKeys(s.matrices)
}
