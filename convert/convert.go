// Package convert turns raw per-tile sample buffers into 8-bit RGB or RGBA
// pixels. Single-band samples are colorized through a gradient, multi-band
// samples are either mapped directly onto the output channels or colorized
// through the gradient from a selected gray band.
package convert

import (
	"errors"
	"fmt"
	"math"

	"github.com/felipecarrillo100/geotifftilesetmodel/gradient"
	"github.com/felipecarrillo100/geotifftilesetmodel/raster"
)

var ErrNoGradient = errors.New("no gradient color map configured")

// AlphaPolicy selects how multi-band direct RGB mapping treats pixels whose
// mapped bands hit the nodata sentinel.
type AlphaPolicy int

const (
	// AlphaBinary makes a pixel fully transparent when any mapped band
	// equals the sentinel.
	AlphaBinary AlphaPolicy = iota
	// AlphaScaled scales alpha by the fraction of mapped bands that do not
	// equal the sentinel.
	AlphaScaled
)

// Options carries the active conversion configuration.
type Options struct {
	Gradient *gradient.ColorMap
	Range    gradient.NativeRange
	NoData   *raster.NoData
	Alpha    AlphaPolicy
}

func (o Options) padFill() float64 {
	if o.NoData != nil {
		return o.NoData.Value
	}
	return 0
}

// SingleBand converts one sample per pixel into RGB or RGBA bytes.
//
// The output carries an alpha channel exactly when a nodata policy is set;
// without one there is nothing to make transparent and the tile is plain
// RGB. Buffers shorter than the tile (raster-edge partial reads) are padded
// with the sentinel, or zero without a policy, before conversion.
func SingleBand(samples raster.Samples, width, height int, opts Options) ([]byte, raster.Format, error) {
	if opts.Gradient == nil {
		return nil, raster.FormatUndetermined, ErrNoGradient
	}
	pixels := width * height
	samples = raster.Pad(samples, pixels, opts.padFill())

	withAlpha := opts.NoData != nil
	stride := 3
	format := raster.FormatRGB888
	if withAlpha {
		stride = 4
		format = raster.FormatRGBA8888
	}
	out := make([]byte, pixels*stride)

	rng := opts.Range
	float := samples.Kind() == raster.KindFloat32
	if float {
		// float samples are pre-normalized
		rng = gradient.UnitRange()
	}

	for i := 0; i < pixels; i++ {
		v := samples.Value(i)
		o := i * stride
		if float && opts.NoData.Matches(v) {
			out[o], out[o+1], out[o+2], out[o+3] = 0, 0, 0, 0
			continue
		}
		c := opts.Gradient.ColorAt(v, rng)
		out[o] = c.R
		out[o+1] = c.G
		out[o+2] = c.B
		if withAlpha {
			if opts.NoData.Matches(v) {
				out[o], out[o+1], out[o+2], out[o+3] = 0, 0, 0, 0
			} else {
				out[o+3] = 255
			}
		}
	}
	return out, format, nil
}

// MultiBand converts interleaved multi-band samples into RGBA bytes.
// bands is the band count per pixel of the input buffer.
func MultiBand(samples raster.Samples, bands, width, height int, mapping raster.BandMapping, opts Options) ([]byte, raster.Format, error) {
	if err := mapping.Validate(bands); err != nil {
		return nil, raster.FormatUndetermined, err
	}
	if !mapping.RGB && opts.Gradient == nil {
		return nil, raster.FormatUndetermined, ErrNoGradient
	}
	pixels := width * height
	samples = raster.Pad(samples, pixels*bands, opts.padFill())
	out := make([]byte, pixels*4)

	if mapping.RGB {
		convertDirectRGB(samples, bands, pixels, mapping, opts, out)
		return out, raster.FormatRGBA8888, nil
	}

	for i := 0; i < pixels; i++ {
		v := samples.Value(i*bands + mapping.Gray)
		o := i * 4
		if opts.NoData.Matches(v) {
			continue // leave fully transparent
		}
		c := opts.Gradient.ColorAt(v, opts.Range)
		out[o] = c.R
		out[o+1] = c.G
		out[o+2] = c.B
		out[o+3] = 255
	}
	return out, raster.FormatRGBA8888, nil
}

func convertDirectRGB(samples raster.Samples, bands, pixels int, mapping raster.BandMapping, opts Options, out []byte) {
	for i := 0; i < pixels; i++ {
		base := i * bands
		r := samples.Value(base + mapping.Red)
		g := samples.Value(base + mapping.Green)
		b := samples.Value(base + mapping.Blue)
		o := i * 4
		out[o] = Rescale(r, opts.Range)
		out[o+1] = Rescale(g, opts.Range)
		out[o+2] = Rescale(b, opts.Range)
		out[o+3] = directAlpha(opts, r, g, b)
	}
}

func directAlpha(opts Options, bands ...float64) uint8 {
	if opts.NoData == nil {
		return 255
	}
	valid := 0
	for _, v := range bands {
		if !opts.NoData.Matches(v) {
			valid++
		}
	}
	switch opts.Alpha {
	case AlphaScaled:
		return uint8(math.Round(255 * float64(valid) / float64(len(bands))))
	default:
		if valid < len(bands) {
			return 0
		}
		return 255
	}
}

// Rescale linearly maps a raw value over rng onto 0..255, no gradient
// involved.
func Rescale(v float64, rng gradient.NativeRange) uint8 {
	span := rng.Max - rng.Min
	if span <= 0 {
		return 0
	}
	n := (v - rng.Min) / span
	if math.IsNaN(n) || n < 0 {
		n = 0
	} else if n > 1 {
		n = 1
	}
	return uint8(math.Round(n * 255))
}

// Downscale16To8 reduces 16-bit samples to 8 bits by an arithmetic right
// shift. Integer truncation, no rounding.
func Downscale16To8(in []uint16) []uint8 {
	out := make([]uint8, len(in))
	for i, v := range in {
		out[i] = uint8(v >> 8)
	}
	return out
}

// ForLevel derives the conversion options for a level: the configured
// native range when one is set, else the full integer range of the level's
// bit depth.
func ForLevel(level raster.Level, grad *gradient.ColorMap, rng *gradient.NativeRange, nodata *raster.NoData, alpha AlphaPolicy) (Options, error) {
	opts := Options{Gradient: grad, NoData: nodata, Alpha: alpha}
	switch {
	case rng != nil:
		opts.Range = *rng
	case level.SampleIsFloat:
		opts.Range = gradient.UnitRange()
	default:
		opts.Range = gradient.DefaultRange(level.BitsPerSample)
	}
	if _, err := raster.KindFor(level.BitsPerSample, level.SampleIsFloat); err != nil {
		return opts, fmt.Errorf("level %d: %w", level.Index, err)
	}
	return opts, nil
}
