// Package model exposes a raster pyramid as a tile-set model: tile requests
// resolve a resolution level and pixel window, raw samples are read from
// the raster-source collaborator, converted to 8-bit RGB(A) and finalized
// with mask and boundary clipping. The model also carries the mutable
// display configuration (gradient, band mapping, nodata) and a generation
// counter so collaborators know when to re-request tiles.
package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/felipecarrillo100/geotifftilesetmodel/compose"
	"github.com/felipecarrillo100/geotifftilesetmodel/convert"
	"github.com/felipecarrillo100/geotifftilesetmodel/gradient"
	"github.com/felipecarrillo100/geotifftilesetmodel/raster"
	"github.com/felipecarrillo100/geotifftilesetmodel/retile"
	"github.com/felipecarrillo100/geotifftilesetmodel/tilematrix"
)

var (
	// ErrConfiguration marks a rejected configuration change; the prior
	// configuration stays active.
	ErrConfiguration = errors.New("configuration rejected")
	// ErrSourceRead wraps read failures from the raster-source
	// collaborator. Not retried.
	ErrSourceRead = errors.New("raster source read failed")
	// ErrTileAddress marks a tile address outside the tile matrix.
	ErrTileAddress = errors.New("tile address out of range")
)

// DecodedTile is a finalized output tile. The buffer is owned by the
// caller once returned.
type DecodedTile struct {
	Width  int
	Height int
	Format raster.Format
	Data   []byte
}

// Config is the initial display configuration. Zero values select
// defaults: a grayscale gradient, a band mapping derived from the finest
// level's band count, no nodata sentinel.
type Config struct {
	Gradient    []gradient.Stop
	Range       *gradient.NativeRange
	BandMapping *raster.BandMapping
	NoData      *float64
	Alpha       convert.AlphaPolicy
	// FlipY marks a plain pixel-space reference with bottom-up rows.
	FlipY bool
}

// TileSetModel is safe for concurrent use. Tile requests may run and
// complete in any order; configuration changes apply to requests started
// after the change.
type TileSetModel struct {
	reader   raster.SampleReader
	set      *tilematrix.Set
	adapters map[int]*retile.Adapter
	flipY    bool

	mu         sync.RWMutex
	grad       *gradient.ColorMap
	rng        *gradient.NativeRange
	mapping    raster.BandMapping
	nodata     *raster.NoData
	alpha      convert.AlphaPolicy
	generation atomic.Uint64
}

// New builds a model over the reader's levels.
func New(reader raster.SampleReader, cfg Config) (*TileSetModel, error) {
	levels := reader.Levels()
	set, err := tilematrix.Build(levels)
	if err != nil {
		return nil, err
	}

	adapters := make(map[int]*retile.Adapter)
	for _, level := range levels {
		if !level.Tiled() {
			adapters[level.Index] = retile.NewAdapter(level, reader)
		}
	}

	m := &TileSetModel{
		reader:   reader,
		set:      set,
		adapters: adapters,
		flipY:    cfg.FlipY,
		grad:     gradient.Grayscale(),
		rng:      cfg.Range,
		alpha:    cfg.Alpha,
	}
	if cfg.Gradient != nil {
		if m.grad, err = gradient.New(cfg.Gradient); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrConfiguration, err)
		}
	}
	if cfg.BandMapping != nil {
		m.mapping = *cfg.BandMapping
	} else {
		m.mapping = defaultMapping(set.Finest().Level)
	}
	if err := m.mapping.Validate(set.Finest().Level.SamplesPerPixel); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConfiguration, err)
	}
	if cfg.NoData != nil {
		m.nodata = &raster.NoData{Value: *cfg.NoData}
	}
	return m, nil
}

func defaultMapping(level raster.Level) raster.BandMapping {
	if level.SamplesPerPixel >= 3 {
		return raster.BandMapping{Red: 0, Green: 1, Blue: 2, RGB: true}
	}
	return raster.BandMapping{Gray: 0}
}

// Matrices returns the tile matrix set of the pyramid.
func (m *TileSetModel) Matrices() *tilematrix.Set {
	return m.set
}

// Generation increments on every accepted configuration change.
// Previously produced tiles are stale once it moves.
func (m *TileSetModel) Generation() uint64 {
	return m.generation.Load()
}

// snapshot of the active configuration, taken once per tile request.
type viewConfig struct {
	grad    *gradient.ColorMap
	rng     *gradient.NativeRange
	mapping raster.BandMapping
	nodata  *raster.NoData
	alpha   convert.AlphaPolicy
}

func (m *TileSetModel) view() viewConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return viewConfig{grad: m.grad, rng: m.rng, mapping: m.mapping, nodata: m.nodata, alpha: m.alpha}
}

// GetTileData decodes one tile. The address' Level is the matrix ordinal,
// 0 = coarsest. Suspension happens only at the sample and mask reads; both
// are issued concurrently and joined before conversion starts. The context
// cancels the reads; once samples are in hand the remaining work runs to
// completion.
func (m *TileSetModel) GetTileData(ctx context.Context, addr raster.Address) (*DecodedTile, error) {
	matrix, ok := m.set.ByOrdinal(addr.Level)
	if !ok {
		return nil, fmt.Errorf("%w: level %d", ErrTileAddress, addr.Level)
	}
	if addr.Col < 0 || addr.Col >= matrix.MatrixWidth || addr.Row < 0 || addr.Row >= matrix.MatrixHeight {
		return nil, fmt.Errorf("%w: tile (%d,%d) of %dx%d", ErrTileAddress, addr.Col, addr.Row, matrix.MatrixWidth, matrix.MatrixHeight)
	}
	cfg := m.view()

	var samples, maskSamples raster.Samples
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		samples, err = m.readLevelTile(gctx, matrix.Level, matrix, addr)
		return err
	})
	if maskLevel, ok := m.set.MaskFor(addr.Level); ok && maskLevel.Width == matrix.Level.Width && maskLevel.Height == matrix.Level.Height {
		g.Go(func() error {
			var err error
			maskSamples, err = m.readMaskTile(gctx, maskLevel, matrix, addr)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceRead, err)
	}

	buf, format, err := m.convertTile(matrix, samples, cfg)
	if err != nil {
		return nil, err
	}

	buf, format, err = compose.Composite(buf, format, maskSamples, compose.Geometry{
		LevelWidth:  matrix.Level.Width,
		LevelHeight: matrix.Level.Height,
		Col:         addr.Col,
		Row:         addr.Row,
		Cols:        matrix.MatrixWidth,
		Rows:        matrix.MatrixHeight,
		TileWidth:   matrix.TileWidth,
		TileHeight:  matrix.TileHeight,
		FlipY:       m.flipY,
	})
	if err != nil {
		return nil, err
	}

	return &DecodedTile{
		Width:  matrix.TileWidth,
		Height: matrix.TileHeight,
		Format: format,
		Data:   buf,
	}, nil
}

// GetTileDataAsync decodes a tile on its own goroutine and reports through
// exactly one of the two callbacks.
func (m *TileSetModel) GetTileDataAsync(ctx context.Context, addr raster.Address, onSuccess func(*DecodedTile), onError func(error)) {
	go func() {
		tile, err := m.GetTileData(ctx, addr)
		if err != nil {
			onError(err)
			return
		}
		onSuccess(tile)
	}()
}

func (m *TileSetModel) convertTile(matrix *tilematrix.Matrix, samples raster.Samples, cfg viewConfig) ([]byte, raster.Format, error) {
	level := matrix.Level
	opts, err := convert.ForLevel(level, cfg.grad, cfg.rng, cfg.nodata, cfg.alpha)
	if err != nil {
		return nil, raster.FormatUndetermined, err
	}
	meaning, _ := raster.ClassifyLevel(level)
	switch meaning {
	case raster.Grayscale8, raster.Grayscale16, raster.Grayscale32:
		return convert.SingleBand(samples, matrix.TileWidth, matrix.TileHeight, opts)
	case raster.MeaningRGB, raster.MeaningRGBA, raster.MeaningRGB96, raster.Multiband:
		return convert.MultiBand(samples, level.SamplesPerPixel, matrix.TileWidth, matrix.TileHeight, cfg.mapping, opts)
	}
	return nil, raster.FormatUndetermined,
		fmt.Errorf("%w: %d bands, %d bits, photometric %d", raster.ErrUnsupportedFormat,
			level.SamplesPerPixel, level.BitsPerSample, level.Photometric)
}

// readLevelTile fetches the raw samples of one tile, interleaved, going
// through the retiling adapter for untiled levels.
func (m *TileSetModel) readLevelTile(ctx context.Context, level raster.Level, matrix *tilematrix.Matrix, addr raster.Address) (raster.Samples, error) {
	if adapter, ok := m.adapters[level.Index]; ok {
		if level.Planar == raster.Planar && level.SamplesPerPixel > 1 {
			planes := make([]raster.Samples, level.SamplesPerPixel)
			for band := range planes {
				plane, err := adapter.GetTile(ctx, addr.Col, addr.Row, band)
				if err != nil {
					return nil, err
				}
				planes[band] = plane
			}
			return raster.Interleave(planes)
		}
		return adapter.GetTile(ctx, addr.Col, addr.Row, 0)
	}

	win := tileWindow(level, matrix, addr)
	bands := make([]int, level.SamplesPerPixel)
	for i := range bands {
		bands[i] = i
	}
	if level.Planar == raster.Planar && level.SamplesPerPixel > 1 {
		planes, err := m.reader.ReadSamples(ctx, level.Index, win, bands, false)
		if err != nil {
			return nil, err
		}
		return raster.Interleave(planes)
	}
	bufs, err := m.reader.ReadSamples(ctx, level.Index, win, bands, true)
	if err != nil {
		return nil, err
	}
	return bufs[0], nil
}

func (m *TileSetModel) readMaskTile(ctx context.Context, maskLevel raster.Level, matrix *tilematrix.Matrix, addr raster.Address) (raster.Samples, error) {
	if adapter, ok := m.adapters[maskLevel.Index]; ok {
		return adapter.GetTile(ctx, addr.Col, addr.Row, 0)
	}
	win := tileWindow(maskLevel, matrix, addr)
	bufs, err := m.reader.ReadSamples(ctx, maskLevel.Index, win, []int{0}, true)
	if err != nil {
		return nil, err
	}
	return bufs[0], nil
}

func tileWindow(level raster.Level, matrix *tilematrix.Matrix, addr raster.Address) raster.Window {
	x0 := addr.Col * matrix.TileWidth
	y0 := addr.Row * matrix.TileHeight
	return raster.Window{
		X0: x0,
		Y0: y0,
		X1: min(x0+matrix.TileWidth, level.Width),
		Y1: min(y0+matrix.TileHeight, level.Height),
	}
}

// SetGradient replaces the active gradient. On rejection the previously
// accepted gradient stays active.
func (m *TileSetModel) SetGradient(stops []gradient.Stop) error {
	grad, err := gradient.New(stops)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrConfiguration, err)
	}
	m.mu.Lock()
	m.grad = grad
	m.mu.Unlock()
	m.generation.Add(1)
	return nil
}

// SetRange replaces the native value range; nil restores the bit-depth
// default.
func (m *TileSetModel) SetRange(rng *gradient.NativeRange) {
	m.mu.Lock()
	m.rng = rng
	m.mu.Unlock()
	m.generation.Add(1)
}

// SetBandMapping replaces the active band mapping. Indices are validated
// against the pyramid's band count; on rejection the prior mapping stays
// active.
func (m *TileSetModel) SetBandMapping(mapping raster.BandMapping) error {
	if err := mapping.Validate(m.set.Finest().Level.SamplesPerPixel); err != nil {
		return fmt.Errorf("%w: %s", ErrConfiguration, err)
	}
	m.mu.Lock()
	m.mapping = mapping
	m.mu.Unlock()
	m.generation.Add(1)
	return nil
}

// SetNodata replaces the nodata sentinel; nil clears it.
func (m *TileSetModel) SetNodata(value *float64) {
	m.mu.Lock()
	if value == nil {
		m.nodata = nil
	} else {
		m.nodata = &raster.NoData{Value: *value}
	}
	m.mu.Unlock()
	m.generation.Add(1)
}
