// Package render takes care of the logistics around decoding every tile
// of a pyramid and writing the results to an archive target. Not the
// decoding itself.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/felipecarrillo100/geotifftilesetmodel/mbtiles"
	"github.com/felipecarrillo100/geotifftilesetmodel/model"
	"github.com/felipecarrillo100/geotifftilesetmodel/raster"
)

// EncodePNG turns a decoded tile into a PNG payload.
func EncodePNG(tile *model.DecodedTile) ([]byte, error) {
	img := &image.NRGBA{
		Rect:   image.Rect(0, 0, tile.Width, tile.Height),
		Stride: tile.Width * 4,
	}
	switch tile.Format {
	case raster.FormatRGBA8888:
		img.Pix = tile.Data
	case raster.FormatRGB888:
		img.Pix = make([]byte, tile.Width*tile.Height*4)
		for i := 0; i < tile.Width*tile.Height; i++ {
			copy(img.Pix[i*4:], tile.Data[i*3:i*3+3])
			img.Pix[i*4+3] = 0xff
		}
	default:
		return nil, fmt.Errorf("%w: cannot encode %s as PNG", raster.ErrUnsupportedFormat, tile.Format)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Pyramid decodes all tiles of all matrices and streams them into the
// target. Tile decoding fans out over a worker pool; writing stays on a
// single goroutine so the target sees page-sized batches in one stream.
// The first failing tile aborts the run.
func Pyramid(ctx context.Context, m *model.TileSetModel, target *mbtiles.Writer, workers int) error {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	set := m.Matrices()

	addresses := make(chan raster.Address)
	tiles := make(chan mbtiles.Tile)

	// A failed write must also stop the producers, which only ever block
	// on the tiles channel.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg := sync.WaitGroup{}
	wg.Add(1)
	var writeErr error
	go func() {
		defer wg.Done()
		writeErr = target.WriteTiles(tiles)
		if writeErr != nil {
			cancel()
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for addr := range addresses {
				matrix, _ := set.ByOrdinal(addr.Level)
				decoded, err := m.GetTileData(gctx, addr)
				if err != nil {
					return err
				}
				data, err := EncodePNG(decoded)
				if err != nil {
					return err
				}
				select {
				case tiles <- mbtiles.Tile{Zoom: addr.Level, Col: addr.Col, Row: addr.Row, Rows: matrix.MatrixHeight, Data: data}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	go func() {
		defer close(addresses)
		for ordinal := 0; ordinal < set.Len(); ordinal++ {
			matrix, _ := set.ByOrdinal(ordinal)
			log.Printf("    level %d: %d x %d tiles of %d px", ordinal, matrix.MatrixWidth, matrix.MatrixHeight, matrix.TileWidth)
			for row := 0; row < matrix.MatrixHeight; row++ {
				for col := 0; col < matrix.MatrixWidth; col++ {
					select {
					case addresses <- raster.Address{Level: ordinal, Col: col, Row: row}:
					case <-gctx.Done():
						return
					}
				}
			}
		}
	}()

	err := g.Wait()
	close(tiles)
	wg.Wait()
	if writeErr != nil {
		return writeErr
	}
	return err
}
