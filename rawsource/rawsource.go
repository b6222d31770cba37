// Package rawsource reads pyramid levels from a dataset descriptor, a
// JSON file listing the levels next to raw little-endian sample blobs,
// one blob per level, row-major, interleaved or band-sequential.
package rawsource

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"
	"golang.org/x/exp/slices"

	"github.com/felipecarrillo100/geotifftilesetmodel/raster"
)

type levelDescriptor struct {
	Index           int         `json:"index"`
	Width           int         `json:"width" validate:"gt=0"`
	Height          int         `json:"height" validate:"gt=0"`
	TileWidth       int         `json:"tileWidth" validate:"gte=0"`
	TileHeight      int         `json:"tileHeight" validate:"gte=0"`
	BitsPerSample   int         `json:"bitsPerSample" default:"8" validate:"oneof=8 16 32"`
	SamplesPerPixel int         `json:"samplesPerPixel" default:"1" validate:"gte=1"`
	Photometric     int         `json:"photometric" default:"1"`
	Float           bool        `json:"float"`
	Planar          int         `json:"planar" default:"1" validate:"oneof=1 2"`
	SubfileType     uint32      `json:"subfileType"`
	Extent          *[4]float64 `json:"extent"`
	Data            string      `json:"data" validate:"required"`
}

type descriptor struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Levels      []levelDescriptor `json:"levels" validate:"required,min=1,dive"`
}

// Source implements raster.SampleReader over the blobs named by a
// dataset descriptor. Safe for concurrent reads.
type Source struct {
	Name        string
	Description string
	levels      []raster.Level
	descs       []levelDescriptor
	files       []*os.File
}

// Open reads the descriptor and opens every level blob. Blob paths are
// relative to the descriptor's directory.
func Open(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read dataset descriptor: %w", err)
	}
	var desc descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("could not parse dataset descriptor %s: %w", path, err)
	}
	for i := range desc.Levels {
		if err := defaults.Set(&desc.Levels[i]); err != nil {
			return nil, err
		}
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(&desc); err != nil {
		return nil, fmt.Errorf("invalid dataset descriptor %s: %w", path, err)
	}
	slices.SortFunc(desc.Levels, func(a, b levelDescriptor) int { return a.Index - b.Index })

	source := &Source{Name: desc.Name, Description: desc.Description, descs: desc.Levels}
	dir := filepath.Dir(path)
	for _, d := range desc.Levels {
		if _, err := raster.KindFor(d.BitsPerSample, d.Float); err != nil {
			source.Close()
			return nil, err
		}
		f, err := os.Open(filepath.Join(dir, d.Data))
		if err != nil {
			source.Close()
			return nil, fmt.Errorf("could not open level blob: %w", err)
		}
		source.files = append(source.files, f)

		level := raster.Level{
			Index:           d.Index,
			Width:           d.Width,
			Height:          d.Height,
			TileWidth:       d.TileWidth,
			TileHeight:      d.TileHeight,
			BitsPerSample:   d.BitsPerSample,
			SamplesPerPixel: d.SamplesPerPixel,
			Photometric:     raster.Photometric(d.Photometric),
			SampleIsFloat:   d.Float,
			SubfileType:     d.SubfileType,
			Planar:          raster.PlanarConfig(d.Planar),
		}
		if d.Extent != nil {
			level.Extent = &geom.Extent{d.Extent[0], d.Extent[1], d.Extent[2], d.Extent[3]}
		}
		source.levels = append(source.levels, level)
	}
	return source, nil
}

func (s *Source) Close() error {
	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Source) Levels() []raster.Level {
	return s.levels
}

func (s *Source) ReadSamples(ctx context.Context, level int, win raster.Window, bands []int, interleaved bool) ([]raster.Samples, error) {
	i := slices.IndexFunc(s.levels, func(l raster.Level) bool { return l.Index == level })
	if i < 0 {
		return nil, fmt.Errorf("no level with index %d", level)
	}
	l, d, f := s.levels[i], s.descs[i], s.files[i]
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if win.X0 < 0 || win.Y0 < 0 || win.X1 > l.Width || win.Y1 > l.Height || win.Width() <= 0 || win.Height() <= 0 {
		return nil, fmt.Errorf("window %+v out of level bounds %dx%d", win, l.Width, l.Height)
	}
	for _, band := range bands {
		if band < 0 || band >= l.SamplesPerPixel {
			return nil, fmt.Errorf("%w: band %d of %d", raster.ErrBandIndex, band, l.SamplesPerPixel)
		}
	}
	kind, err := raster.KindFor(l.BitsPerSample, l.SampleIsFloat)
	if err != nil {
		return nil, err
	}
	bps := l.BitsPerSample / 8

	if l.Planar == raster.Planar {
		return s.readPlanar(f, kind, bps, d, win, bands, interleaved)
	}
	return s.readChunky(f, kind, bps, d, win, bands, interleaved)
}

// readChunky reads a window from pixel-interleaved storage and selects
// the requested bands out of it.
func (s *Source) readChunky(f *os.File, kind raster.SampleKind, bps int, d levelDescriptor, win raster.Window, bands []int, interleaved bool) ([]raster.Samples, error) {
	spp := d.SamplesPerPixel
	rowSamples := win.Width() * spp
	raw, err := readRows(f, bps, rowSamples, win.Height(), func(row int) int {
		return ((win.Y0+row)*d.Width + win.X0) * spp
	})
	if err != nil {
		return nil, err
	}
	window := decode(kind, bps, raw)

	pixels := win.Width() * win.Height()
	if interleaved {
		if len(bands) == spp && identityBands(bands) {
			return []raster.Samples{window}, nil
		}
		indices := make([]int, 0, pixels*len(bands))
		for i := 0; i < pixels; i++ {
			for _, band := range bands {
				indices = append(indices, i*spp+band)
			}
		}
		return []raster.Samples{selectSamples(window, indices)}, nil
	}

	planes := make([]raster.Samples, len(bands))
	for p, band := range bands {
		indices := make([]int, pixels)
		for i := range indices {
			indices[i] = i*spp + band
		}
		planes[p] = selectSamples(window, indices)
	}
	return planes, nil
}

// readPlanar reads each requested band's window out of band-sequential
// storage.
func (s *Source) readPlanar(f *os.File, kind raster.SampleKind, bps int, d levelDescriptor, win raster.Window, bands []int, interleaved bool) ([]raster.Samples, error) {
	planeSamples := d.Width * d.Height
	planes := make([]raster.Samples, len(bands))
	for p, band := range bands {
		raw, err := readRows(f, bps, win.Width(), win.Height(), func(row int) int {
			return band*planeSamples + (win.Y0+row)*d.Width + win.X0
		})
		if err != nil {
			return nil, err
		}
		planes[p] = decode(kind, bps, raw)
	}
	if !interleaved {
		return planes, nil
	}
	merged, err := raster.Interleave(planes)
	if err != nil {
		return nil, err
	}
	return []raster.Samples{merged}, nil
}

func identityBands(bands []int) bool {
	for i, band := range bands {
		if band != i {
			return false
		}
	}
	return true
}

func readRows(f *os.File, bps, rowSamples, rows int, firstSample func(row int) int) ([]byte, error) {
	rowBytes := rowSamples * bps
	buf := make([]byte, rows*rowBytes)
	for row := 0; row < rows; row++ {
		offset := int64(firstSample(row)) * int64(bps)
		if _, err := f.ReadAt(buf[row*rowBytes:(row+1)*rowBytes], offset); err != nil {
			return nil, fmt.Errorf("could not read level blob at offset %d: %w", offset, err)
		}
	}
	return buf, nil
}
