// Package retile presents a raster level that stores its pixels as one
// contiguous strip as if it were tiled. Tiles are synthesized on a
// power-of-two grid and cached per tile, so repeated requests for the same
// tile issue a single read against the source.
package retile

import (
	"context"
	"strconv"
	"time"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/felipecarrillo100/geotifftilesetmodel/mathhelp"
	"github.com/felipecarrillo100/geotifftilesetmodel/raster"
)

// maxTileSize caps the synthesized tile dimensions.
const maxTileSize = 512

// cacheRetention is effectively "for the lifetime of the adapter"; an
// expired entry is simply read again.
const cacheRetention = 24 * time.Hour

// SynthesizedTileSize returns the largest power of two <= 512 that bounds
// both dimensions.
func SynthesizedTileSize(width, height int) int {
	w := mathhelp.FloorPow2(min(width, maxTileSize))
	h := mathhelp.FloorPow2(min(height, maxTileSize))
	return min(w, h)
}

// Adapter synthesizes a virtual tile grid over one untiled level.
//
// The cache is a bounded LRU sized by the level's tile count. The source
// this design derives from kept every tile forever; bounding the cache is
// a deliberate change, the bound covers the whole level so behavior only
// differs under memory pressure across many adapters.
type Adapter struct {
	level    raster.Level
	reader   raster.SampleReader
	tileSize int
	cols     int
	rows     int
	cache    *ccache.Cache[raster.Samples]
	inflight singleflight.Group
}

// NewAdapter builds an adapter for the given level. The reader is the
// external raster-source collaborator; reads are windowed against it on
// cache misses.
func NewAdapter(level raster.Level, reader raster.SampleReader) *Adapter {
	tileSize := SynthesizedTileSize(level.Width, level.Height)
	cols := mathhelp.CeilDiv(level.Width, tileSize)
	rows := mathhelp.CeilDiv(level.Height, tileSize)
	planes := 1
	if level.Planar == raster.Planar {
		planes = level.SamplesPerPixel
	}
	return &Adapter{
		level:    level,
		reader:   reader,
		tileSize: tileSize,
		cols:     cols,
		rows:     rows,
		cache:    ccache.New(ccache.Configure[raster.Samples]().MaxSize(int64(cols * rows * planes))),
	}
}

func (a *Adapter) TileSize() int { return a.tileSize }
func (a *Adapter) Columns() int  { return a.cols }
func (a *Adapter) Rows() int     { return a.rows }

// TileIndex computes the synthetic cache index for a tile. With a chunky
// layout all bands share one interleaved tile; with a planar layout each
// band plane gets its own tile.
func (a *Adapter) TileIndex(col, row, sample int) int {
	if a.level.Planar == raster.Planar {
		return sample*a.cols*a.rows + row*a.cols + col
	}
	return row*a.cols + col
}

// Window returns the pixel-space rectangle covered by a tile, clamped to
// the level bounds on the last column and row.
func (a *Adapter) Window(col, row int) raster.Window {
	x0 := col * a.tileSize
	y0 := row * a.tileSize
	return raster.Window{
		X0: x0,
		Y0: y0,
		X1: min(x0+a.tileSize, a.level.Width),
		Y1: min(y0+a.tileSize, a.level.Height),
	}
}

// GetTile returns the raw samples for one synthetic tile, reading from the
// source on first request and from the cache afterwards. For a chunky level
// the buffer holds all bands interleaved and sample is ignored for
// addressing; for a planar level it holds just that band's plane.
//
// Concurrent requests for the same tile are collapsed into a single read.
// Reads are idempotent, so a duplicate read would be redundant work only,
// never incorrect data. Read failures propagate; nothing is cached on
// failure.
func (a *Adapter) GetTile(ctx context.Context, col, row, sample int) (raster.Samples, error) {
	key := strconv.Itoa(a.TileIndex(col, row, sample))
	if item := a.cache.Get(key); item != nil && !item.Expired() {
		return item.Value(), nil
	}
	v, err, _ := a.inflight.Do(key, func() (interface{}, error) {
		samples, err := a.readTile(ctx, col, row, sample)
		if err != nil {
			return nil, err
		}
		a.cache.Set(key, samples, cacheRetention)
		return samples, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(raster.Samples), nil
}

func (a *Adapter) readTile(ctx context.Context, col, row, sample int) (raster.Samples, error) {
	win := a.Window(col, row)
	var bands []int
	interleaved := true
	if a.level.Planar == raster.Planar {
		bands = []int{sample}
		interleaved = false
	} else {
		bands = make([]int, a.level.SamplesPerPixel)
		for i := range bands {
			bands[i] = i
		}
	}
	bufs, err := a.reader.ReadSamples(ctx, a.level.Index, win, bands, interleaved)
	if err != nil {
		return nil, err
	}
	return bufs[0], nil
}
