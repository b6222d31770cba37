package rawsource

import (
	"encoding/binary"
	"math"

	"github.com/felipecarrillo100/geotifftilesetmodel/raster"
)

// decode turns little-endian raw bytes into a typed sample buffer.
func decode(kind raster.SampleKind, bps int, raw []byte) raster.Samples {
	n := len(raw) / bps
	switch kind {
	case raster.KindUint8:
		out := make(raster.Uint8Samples, n)
		copy(out, raw)
		return out
	case raster.KindUint16:
		out := make(raster.Uint16Samples, n)
		for i := range out {
			out[i] = binary.LittleEndian.Uint16(raw[i*2:])
		}
		return out
	case raster.KindUint32:
		out := make(raster.Uint32Samples, n)
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(raw[i*4:])
		}
		return out
	default:
		out := make(raster.Float32Samples, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out
	}
}

// selectSamples builds a new buffer from src at the given positions,
// keeping the sample kind.
func selectSamples(src raster.Samples, indices []int) raster.Samples {
	switch s := src.(type) {
	case raster.Uint8Samples:
		return raster.Uint8Samples(pick(s, indices))
	case raster.Uint16Samples:
		return raster.Uint16Samples(pick(s, indices))
	case raster.Uint32Samples:
		return raster.Uint32Samples(pick(s, indices))
	case raster.Float32Samples:
		return raster.Float32Samples(pick(s, indices))
	}
	return src
}

func pick[T any](src []T, indices []int) []T {
	out := make([]T, len(indices))
	for i, idx := range indices {
		out[i] = src[idx]
	}
	return out
}
