// Package gradient maps raw sample values onto colors through a
// piecewise-linear ramp of ordered color stops.
package gradient

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidStops = errors.New("invalid gradient stops")

// Color is an 8-bit RGB triple.
type Color struct {
	R, G, B uint8
}

// Stop is one control point of the ramp. Level is the normalized position
// in [0,1].
type Stop struct {
	Level float64 `json:"level" validate:"gte=0,lte=1"`
	Color Color   `json:"color"`
}

// NativeRange is the raw-value domain mapped onto [0,1] before lookup.
type NativeRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DefaultRange returns the full range of an integer sample of the given bit
// width, [0, 2^bits-1].
func DefaultRange(bitsPerSample int) NativeRange {
	return NativeRange{Min: 0, Max: math.Pow(2, float64(bitsPerSample)) - 1}
}

// UnitRange covers pre-normalized float samples.
func UnitRange() NativeRange {
	return NativeRange{Min: 0, Max: 1}
}

// normalizedMax keeps lookups strictly inside the last interpolation
// segment instead of exactly on its boundary.
const normalizedMax = 0.999

// ColorMap is a validated, immutable gradient. Rebuild it whenever the stop
// list changes; lookups are pure and need no per-call caching.
type ColorMap struct {
	stops []Stop
}

// New validates the stop list and builds a ColorMap. The first stop must
// sit at level 0, the last at level 1, and levels must be non-decreasing.
func New(stops []Stop) (*ColorMap, error) {
	if len(stops) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 stops, got %d", ErrInvalidStops, len(stops))
	}
	if stops[0].Level != 0 {
		return nil, fmt.Errorf("%w: first stop level is %v, must be 0", ErrInvalidStops, stops[0].Level)
	}
	if stops[len(stops)-1].Level != 1 {
		return nil, fmt.Errorf("%w: last stop level is %v, must be 1", ErrInvalidStops, stops[len(stops)-1].Level)
	}
	for i := 1; i < len(stops); i++ {
		if stops[i].Level < stops[i-1].Level {
			return nil, fmt.Errorf("%w: stop %d level %v is below its predecessor %v",
				ErrInvalidStops, i, stops[i].Level, stops[i-1].Level)
		}
	}
	cloned := make([]Stop, len(stops))
	copy(cloned, stops)
	return &ColorMap{stops: cloned}, nil
}

// Grayscale is the fallback ramp from black to white.
func Grayscale() *ColorMap {
	m, _ := New([]Stop{
		{Level: 0, Color: Color{0, 0, 0}},
		{Level: 1, Color: Color{255, 255, 255}},
	})
	return m
}

// Stops returns a copy of the stop list.
func (m *ColorMap) Stops() []Stop {
	cloned := make([]Stop, len(m.stops))
	copy(cloned, m.stops)
	return cloned
}

// ColorAt normalizes raw into [0,1) over rng and linearly interpolates the
// bracketing stops per channel.
func (m *ColorMap) ColorAt(raw float64, rng NativeRange) Color {
	span := rng.Max - rng.Min
	var n float64
	if span > 0 {
		n = (raw - rng.Min) / span
	}
	if math.IsNaN(n) || n < 0 {
		n = 0
	} else if n > normalizedMax {
		n = normalizedMax
	}

	// The invariants guarantee a bracketing pair exists for any n < 1.
	i := 0
	for i < len(m.stops)-2 && m.stops[i+1].Level <= n {
		i++
	}
	a, b := m.stops[i], m.stops[i+1]
	if b.Level == a.Level {
		return a.Color
	}
	t := (n - a.Level) / (b.Level - a.Level)
	return Color{
		R: lerpChannel(a.Color.R, b.Color.R, t),
		G: lerpChannel(a.Color.G, b.Color.G, t),
		B: lerpChannel(a.Color.B, b.Color.B, t),
	}
}

func lerpChannel(a, b uint8, t float64) uint8 {
	c := math.Round(float64(a) + t*(float64(b)-float64(a)))
	if c < 0 {
		return 0
	}
	if c > 255 {
		return 255
	}
	return uint8(c)
}
