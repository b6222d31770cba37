package rawsource

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felipecarrillo100/geotifftilesetmodel/raster"
)

// writeDataset lays down a descriptor plus blobs and returns the
// descriptor path.
func writeDataset(t *testing.T, desc map[string]interface{}, blobs map[string][]byte) string {
	dir := t.TempDir()
	for name, data := range blobs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	data, err := json.Marshal(desc)
	require.NoError(t, err)
	path := filepath.Join(dir, "dataset.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// gradient8 fills a width x height x bands 8-bit chunky blob with
// value = pixel index * bands + band.
func gradient8(width, height, bands int) []byte {
	blob := make([]byte, width*height*bands)
	for i := range blob {
		blob[i] = byte(i % 251)
	}
	return blob
}

func TestOpenAppliesDefaultsAndSorts(t *testing.T) {
	path := writeDataset(t, map[string]interface{}{
		"name": "ortho",
		"levels": []map[string]interface{}{
			{"index": 1, "width": 4, "height": 4, "data": "l1.bin"},
			{"index": 0, "width": 8, "height": 8, "data": "l0.bin"},
		},
	}, map[string][]byte{
		"l0.bin": gradient8(8, 8, 1),
		"l1.bin": gradient8(4, 4, 1),
	})

	source, err := Open(path)
	require.NoError(t, err)
	defer source.Close()

	levels := source.Levels()
	require.Len(t, levels, 2)
	assert.Equal(t, 0, levels[0].Index)
	assert.Equal(t, 8, levels[0].Width)
	assert.Equal(t, 8, levels[0].BitsPerSample)
	assert.Equal(t, raster.Chunky, levels[0].Planar)
	assert.Equal(t, raster.BlackIsZero, levels[0].Photometric)
}

func TestOpenRejectsInvalidDescriptor(t *testing.T) {
	path := writeDataset(t, map[string]interface{}{
		"levels": []map[string]interface{}{
			{"index": 0, "width": 0, "height": 4, "data": "l0.bin"},
		},
	}, map[string][]byte{"l0.bin": {}})

	_, err := Open(path)
	assert.Error(t, err)
}

func TestOpenRejectsMissingBlob(t *testing.T) {
	path := writeDataset(t, map[string]interface{}{
		"levels": []map[string]interface{}{
			{"index": 0, "width": 4, "height": 4, "data": "nope.bin"},
		},
	}, nil)

	_, err := Open(path)
	assert.Error(t, err)
}

func TestReadSamplesChunkyWindow(t *testing.T) {
	// 4x2, one band, values 0..7
	path := writeDataset(t, map[string]interface{}{
		"levels": []map[string]interface{}{
			{"index": 0, "width": 4, "height": 2, "data": "l0.bin"},
		},
	}, map[string][]byte{"l0.bin": {0, 1, 2, 3, 4, 5, 6, 7}})

	source, err := Open(path)
	require.NoError(t, err)
	defer source.Close()

	bufs, err := source.ReadSamples(context.Background(), 0, raster.Window{X0: 1, Y0: 0, X1: 3, Y1: 2}, []int{0}, true)
	require.NoError(t, err)
	require.Len(t, bufs, 1)
	assert.Equal(t, raster.Uint8Samples{1, 2, 5, 6}, bufs[0])
}

func TestReadSamplesChunkyBandSelection(t *testing.T) {
	// 2x1 pixels, 3 bands interleaved: (10,11,12) (20,21,22)
	path := writeDataset(t, map[string]interface{}{
		"levels": []map[string]interface{}{
			{"index": 0, "width": 2, "height": 1, "samplesPerPixel": 3, "photometric": 2, "data": "l0.bin"},
		},
	}, map[string][]byte{"l0.bin": {10, 11, 12, 20, 21, 22}})

	source, err := Open(path)
	require.NoError(t, err)
	defer source.Close()

	win := raster.Window{X0: 0, Y0: 0, X1: 2, Y1: 1}

	bufs, err := source.ReadSamples(context.Background(), 0, win, []int{0, 1, 2}, true)
	require.NoError(t, err)
	assert.Equal(t, raster.Uint8Samples{10, 11, 12, 20, 21, 22}, bufs[0])

	bufs, err = source.ReadSamples(context.Background(), 0, win, []int{2, 0}, true)
	require.NoError(t, err)
	assert.Equal(t, raster.Uint8Samples{12, 10, 22, 20}, bufs[0])

	planes, err := source.ReadSamples(context.Background(), 0, win, []int{1}, false)
	require.NoError(t, err)
	assert.Equal(t, raster.Uint8Samples{11, 21}, planes[0])
}

func TestReadSamplesPlanar(t *testing.T) {
	// 2x2 pixels, 2 bands band-sequential
	blob := []byte{
		1, 2, 3, 4, // band 0
		5, 6, 7, 8, // band 1
	}
	path := writeDataset(t, map[string]interface{}{
		"levels": []map[string]interface{}{
			{"index": 0, "width": 2, "height": 2, "samplesPerPixel": 2, "planar": 2, "data": "l0.bin"},
		},
	}, map[string][]byte{"l0.bin": blob})

	source, err := Open(path)
	require.NoError(t, err)
	defer source.Close()

	win := raster.Window{X0: 0, Y0: 0, X1: 2, Y1: 2}

	planes, err := source.ReadSamples(context.Background(), 0, win, []int{0, 1}, false)
	require.NoError(t, err)
	require.Len(t, planes, 2)
	assert.Equal(t, raster.Uint8Samples{1, 2, 3, 4}, planes[0])
	assert.Equal(t, raster.Uint8Samples{5, 6, 7, 8}, planes[1])

	bufs, err := source.ReadSamples(context.Background(), 0, win, []int{0, 1}, true)
	require.NoError(t, err)
	assert.Equal(t, raster.Uint8Samples{1, 5, 2, 6, 3, 7, 4, 8}, bufs[0])
}

func TestReadSamplesUint16(t *testing.T) {
	blob := make([]byte, 4*2)
	for i, v := range []uint16{100, 200, 300, 40000} {
		binary.LittleEndian.PutUint16(blob[i*2:], v)
	}
	path := writeDataset(t, map[string]interface{}{
		"levels": []map[string]interface{}{
			{"index": 0, "width": 2, "height": 2, "bitsPerSample": 16, "data": "l0.bin"},
		},
	}, map[string][]byte{"l0.bin": blob})

	source, err := Open(path)
	require.NoError(t, err)
	defer source.Close()

	bufs, err := source.ReadSamples(context.Background(), 0, raster.Window{X0: 0, Y0: 0, X1: 2, Y1: 2}, []int{0}, true)
	require.NoError(t, err)
	assert.Equal(t, raster.Uint16Samples{100, 200, 300, 40000}, bufs[0])
}

func TestReadSamplesRejectsBadWindowAndBand(t *testing.T) {
	path := writeDataset(t, map[string]interface{}{
		"levels": []map[string]interface{}{
			{"index": 0, "width": 4, "height": 4, "data": "l0.bin"},
		},
	}, map[string][]byte{"l0.bin": gradient8(4, 4, 1)})

	source, err := Open(path)
	require.NoError(t, err)
	defer source.Close()

	_, err = source.ReadSamples(context.Background(), 0, raster.Window{X0: 0, Y0: 0, X1: 5, Y1: 4}, []int{0}, true)
	assert.Error(t, err)

	_, err = source.ReadSamples(context.Background(), 0, raster.Window{X0: 0, Y0: 0, X1: 4, Y1: 4}, []int{1}, true)
	assert.ErrorIs(t, err, raster.ErrBandIndex)

	_, err = source.ReadSamples(context.Background(), 9, raster.Window{X0: 0, Y0: 0, X1: 4, Y1: 4}, []int{0}, true)
	assert.Error(t, err)
}
