package model

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felipecarrillo100/geotifftilesetmodel/gradient"
	"github.com/felipecarrillo100/geotifftilesetmodel/raster"
)

// stubReader serves constant-valued samples per level.
type stubReader struct {
	levels []raster.Level
	fill   map[int]float64
	err    error

	mu      sync.Mutex
	windows []raster.Window
}

func (r *stubReader) Levels() []raster.Level { return r.levels }

func (r *stubReader) ReadSamples(_ context.Context, level int, win raster.Window, bands []int, interleaved bool) ([]raster.Samples, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	r.windows = append(r.windows, win)
	r.mu.Unlock()

	var l raster.Level
	for _, candidate := range r.levels {
		if candidate.Index == level {
			l = candidate
		}
	}
	kind, err := raster.KindFor(l.BitsPerSample, l.SampleIsFloat)
	if err != nil {
		return nil, err
	}
	pixels := win.Width() * win.Height()
	if interleaved {
		return []raster.Samples{raster.MakeSamples(kind, pixels*len(bands), r.fill[level])}, nil
	}
	planes := make([]raster.Samples, len(bands))
	for i := range planes {
		planes[i] = raster.MakeSamples(kind, pixels, r.fill[level])
	}
	return planes, nil
}

func grayLevel(index, width, height, tileSize int) raster.Level {
	return raster.Level{
		Index:           index,
		Width:           width,
		Height:          height,
		TileWidth:       tileSize,
		TileHeight:      tileSize,
		BitsPerSample:   8,
		SamplesPerPixel: 1,
		Photometric:     raster.BlackIsZero,
	}
}

func TestGetTileDataGrayscale(t *testing.T) {
	reader := &stubReader{levels: []raster.Level{grayLevel(0, 512, 512, 256)}, fill: map[int]float64{0: 100}}
	m, err := New(reader, Config{})
	require.NoError(t, err)

	tile, err := m.GetTileData(context.Background(), raster.Address{Level: 0, Col: 1, Row: 0})
	require.NoError(t, err)
	assert.Equal(t, 256, tile.Width)
	assert.Equal(t, 256, tile.Height)
	assert.Equal(t, raster.FormatRGB888, tile.Format)
	require.Len(t, tile.Data, 256*256*3)
	// value 100 through the grayscale gradient over [0,255]
	assert.Equal(t, []byte{100, 100, 100}, tile.Data[:3])
}

func TestGetTileDataRGB(t *testing.T) {
	level := grayLevel(0, 512, 512, 256)
	level.SamplesPerPixel = 3
	level.Photometric = raster.PhotometricRGB
	reader := &stubReader{levels: []raster.Level{level}, fill: map[int]float64{0: 40}}
	m, err := New(reader, Config{})
	require.NoError(t, err)

	tile, err := m.GetTileData(context.Background(), raster.Address{})
	require.NoError(t, err)
	assert.Equal(t, raster.FormatRGBA8888, tile.Format)
	assert.Equal(t, []byte{40, 40, 40, 255}, tile.Data[:4])
}

func TestGetTileDataAppliesMask(t *testing.T) {
	mask := grayLevel(1, 512, 512, 256)
	mask.SubfileType = raster.SubfileTypeMask
	reader := &stubReader{
		levels: []raster.Level{grayLevel(0, 512, 512, 256), mask},
		fill:   map[int]float64{0: 100, 1: 0},
	}
	m, err := New(reader, Config{})
	require.NoError(t, err)

	tile, err := m.GetTileData(context.Background(), raster.Address{})
	require.NoError(t, err)
	assert.Equal(t, raster.FormatRGBA8888, tile.Format)
	assert.Equal(t, []byte{0, 0, 0, 0}, tile.Data[:4])
}

func TestGetTileDataAppliesFinestLevelMask(t *testing.T) {
	mask := grayLevel(2, 1024, 1024, 256)
	mask.SubfileType = raster.SubfileTypeMask
	reader := &stubReader{
		levels: []raster.Level{grayLevel(0, 1024, 1024, 256), grayLevel(1, 512, 512, 256), mask},
		fill:   map[int]float64{0: 100, 1: 100, 2: 0},
	}
	m, err := New(reader, Config{})
	require.NoError(t, err)

	// the mask matches the finest level's dimensions, ordinal 1
	tile, err := m.GetTileData(context.Background(), raster.Address{Level: 1})
	require.NoError(t, err)
	assert.Equal(t, raster.FormatRGBA8888, tile.Format)
	assert.Equal(t, []byte{0, 0, 0, 0}, tile.Data[:4])

	// the coarse level has no matching mask and stays opaque
	tile, err = m.GetTileData(context.Background(), raster.Address{Level: 0})
	require.NoError(t, err)
	assert.Equal(t, raster.FormatRGB888, tile.Format)
}

func TestGetTileDataClipsEdgeTile(t *testing.T) {
	reader := &stubReader{levels: []raster.Level{grayLevel(0, 300, 300, 256)}, fill: map[int]float64{0: 0}}
	m, err := New(reader, Config{})
	require.NoError(t, err)

	tile, err := m.GetTileData(context.Background(), raster.Address{Level: 0, Col: 1, Row: 1})
	require.NoError(t, err)
	assert.Equal(t, raster.FormatRGBA8888, tile.Format)
	// first pixel maps to absolute (256,256), inside the level
	assert.EqualValues(t, 255, tile.Data[3])
	// pixel 44 maps to absolute x 300, past the right edge
	assert.Equal(t, []byte{0, 0, 0, 0}, tile.Data[44*4:44*4+4])
}

func TestGetTileDataUntiledLevel(t *testing.T) {
	level := grayLevel(0, 600, 400, 0)
	reader := &stubReader{levels: []raster.Level{level}, fill: map[int]float64{0: 10}}
	m, err := New(reader, Config{})
	require.NoError(t, err)

	matrix, ok := m.Matrices().ByOrdinal(0)
	require.True(t, ok)
	assert.Equal(t, 256, matrix.TileWidth)
	assert.Equal(t, 3, matrix.MatrixWidth)
	assert.Equal(t, 2, matrix.MatrixHeight)

	tile, err := m.GetTileData(context.Background(), raster.Address{Level: 0, Col: 2, Row: 0})
	require.NoError(t, err)
	assert.Equal(t, 256, tile.Width)
	reader.mu.Lock()
	defer reader.mu.Unlock()
	require.Len(t, reader.windows, 1)
	assert.Equal(t, raster.Window{X0: 512, Y0: 0, X1: 600, Y1: 256}, reader.windows[0])
}

func TestGetTileDataAddressOutOfRange(t *testing.T) {
	reader := &stubReader{levels: []raster.Level{grayLevel(0, 512, 512, 256)}, fill: map[int]float64{}}
	m, err := New(reader, Config{})
	require.NoError(t, err)

	_, err = m.GetTileData(context.Background(), raster.Address{Level: 3})
	assert.ErrorIs(t, err, ErrTileAddress)
	_, err = m.GetTileData(context.Background(), raster.Address{Col: 2})
	assert.ErrorIs(t, err, ErrTileAddress)
}

func TestGetTileDataWrapsReadErrors(t *testing.T) {
	reader := &stubReader{levels: []raster.Level{grayLevel(0, 512, 512, 256)}, err: errors.New("io failure")}
	m, err := New(reader, Config{})
	require.NoError(t, err)

	_, err = m.GetTileData(context.Background(), raster.Address{})
	assert.ErrorIs(t, err, ErrSourceRead)
	assert.ErrorContains(t, err, "io failure")
}

func TestGetTileDataAsync(t *testing.T) {
	reader := &stubReader{levels: []raster.Level{grayLevel(0, 512, 512, 256)}, fill: map[int]float64{0: 7}}
	m, err := New(reader, Config{})
	require.NoError(t, err)

	tiles := make(chan *DecodedTile, 1)
	fails := make(chan error, 1)
	m.GetTileDataAsync(context.Background(), raster.Address{}, func(tile *DecodedTile) { tiles <- tile }, func(err error) { fails <- err })
	select {
	case tile := <-tiles:
		assert.Equal(t, raster.FormatRGB888, tile.Format)
	case err := <-fails:
		t.Fatalf("unexpected error: %v", err)
	}

	m.GetTileDataAsync(context.Background(), raster.Address{Level: 9}, func(*DecodedTile) { tiles <- nil }, func(err error) { fails <- err })
	select {
	case err := <-fails:
		assert.ErrorIs(t, err, ErrTileAddress)
	case <-tiles:
		t.Fatal("expected the error callback")
	}
}

func TestSetGradientRejectionKeepsPrior(t *testing.T) {
	reader := &stubReader{levels: []raster.Level{grayLevel(0, 512, 512, 256)}, fill: map[int]float64{0: 100}}
	m, err := New(reader, Config{})
	require.NoError(t, err)

	err = m.SetGradient([]gradient.Stop{{Level: 0.5}})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.EqualValues(t, 0, m.Generation())

	tile, err := m.GetTileData(context.Background(), raster.Address{})
	require.NoError(t, err)
	assert.Equal(t, []byte{100, 100, 100}, tile.Data[:3])
}

func TestSetGradientChangesOutput(t *testing.T) {
	reader := &stubReader{levels: []raster.Level{grayLevel(0, 512, 512, 256)}, fill: map[int]float64{0: 0}}
	m, err := New(reader, Config{})
	require.NoError(t, err)

	err = m.SetGradient([]gradient.Stop{
		{Level: 0, Color: gradient.Color{R: 255}},
		{Level: 1, Color: gradient.Color{B: 255}},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.Generation())

	tile, err := m.GetTileData(context.Background(), raster.Address{})
	require.NoError(t, err)
	assert.Equal(t, []byte{255, 0, 0}, tile.Data[:3])
}

func TestSetBandMappingValidates(t *testing.T) {
	level := grayLevel(0, 512, 512, 256)
	level.SamplesPerPixel = 3
	level.Photometric = raster.PhotometricRGB
	reader := &stubReader{levels: []raster.Level{level}, fill: map[int]float64{0: 5}}
	m, err := New(reader, Config{})
	require.NoError(t, err)

	err = m.SetBandMapping(raster.BandMapping{Red: 0, Green: 1, Blue: 7, RGB: true})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.EqualValues(t, 0, m.Generation())

	require.NoError(t, m.SetBandMapping(raster.BandMapping{Red: 2, Green: 1, Blue: 0, RGB: true}))
	assert.EqualValues(t, 1, m.Generation())
}

func TestSetNodataMakesPixelsTransparent(t *testing.T) {
	reader := &stubReader{levels: []raster.Level{grayLevel(0, 512, 512, 256)}, fill: map[int]float64{0: 100}}
	m, err := New(reader, Config{})
	require.NoError(t, err)

	nodata := 100.0
	m.SetNodata(&nodata)
	assert.EqualValues(t, 1, m.Generation())

	tile, err := m.GetTileData(context.Background(), raster.Address{})
	require.NoError(t, err)
	assert.Equal(t, raster.FormatRGBA8888, tile.Format)
	assert.Equal(t, []byte{0, 0, 0, 0}, tile.Data[:4])

	m.SetNodata(nil)
	tile, err = m.GetTileData(context.Background(), raster.Address{})
	require.NoError(t, err)
	assert.Equal(t, raster.FormatRGB888, tile.Format)
}

func TestApplyStyleJSON(t *testing.T) {
	reader := &stubReader{levels: []raster.Level{grayLevel(0, 512, 512, 256)}, fill: map[int]float64{0: 50}}
	m, err := New(reader, Config{})
	require.NoError(t, err)

	err = m.ApplyStyleJSON([]byte(`{
		"gradient": {
			"stops": [
				{"level": 0, "color": "#000000"},
				{"level": 1, "color": "#ff0000"}
			],
			"range": {"min": 0, "max": 100}
		},
		"nodata": 255
	}`))
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.Generation())

	tile, err := m.GetTileData(context.Background(), raster.Address{})
	require.NoError(t, err)
	assert.Equal(t, raster.FormatRGBA8888, tile.Format)
	// 50 over [0,100] is halfway up the black-to-red ramp
	assert.Equal(t, []byte{128, 0, 0, 255}, tile.Data[:4])
}

func TestApplyStyleJSONRejectsBadDocument(t *testing.T) {
	reader := &stubReader{levels: []raster.Level{grayLevel(0, 512, 512, 256)}, fill: map[int]float64{0: 50}}
	m, err := New(reader, Config{})
	require.NoError(t, err)

	err = m.ApplyStyleJSON([]byte(`{"gradient": {"stops": [{"level": 0.5, "color": "#000000"}]}}`))
	assert.Error(t, err)
	assert.EqualValues(t, 0, m.Generation())

	err = m.ApplyStyleJSON([]byte(`{"bandMapping": {"gray": 4}}`))
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.EqualValues(t, 0, m.Generation())
}

func TestNewRejectsBadConfig(t *testing.T) {
	reader := &stubReader{levels: []raster.Level{grayLevel(0, 512, 512, 256)}}
	_, err := New(reader, Config{Gradient: []gradient.Stop{{Level: 0.2}}})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = New(reader, Config{BandMapping: &raster.BandMapping{Gray: 3}})
	assert.ErrorIs(t, err, ErrConfiguration)
}
