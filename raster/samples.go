package raster

import "fmt"

// SampleKind tags the storage type of a sample buffer. It is threaded
// explicitly through every read path so buffers can be allocated and padded
// by a switch on the tag instead of inspecting an existing value.
type SampleKind int

const (
	KindUint8 SampleKind = iota
	KindUint16
	KindUint32
	KindFloat32
)

func (k SampleKind) String() string {
	switch k {
	case KindUint8:
		return "uint8"
	case KindUint16:
		return "uint16"
	case KindUint32:
		return "uint32"
	case KindFloat32:
		return "float32"
	}
	return fmt.Sprintf("SampleKind(%d)", int(k))
}

// KindFor maps a declared bit width and float flag onto a SampleKind.
func KindFor(bitsPerSample int, sampleIsFloat bool) (SampleKind, error) {
	switch {
	case bitsPerSample == 8 && !sampleIsFloat:
		return KindUint8, nil
	case bitsPerSample == 16 && !sampleIsFloat:
		return KindUint16, nil
	case bitsPerSample == 32 && sampleIsFloat:
		return KindFloat32, nil
	case bitsPerSample == 32:
		return KindUint32, nil
	}
	return 0, fmt.Errorf("%w: %d bits per sample (float=%t)", ErrUnsupportedFormat, bitsPerSample, sampleIsFloat)
}

// Samples is a read-only buffer of raw sample values of one kind.
type Samples interface {
	Kind() SampleKind
	Len() int
	// Value returns the sample at i widened to float64. The widening is
	// lossless for all supported kinds.
	Value(i int) float64
}

type Uint8Samples []uint8

func (s Uint8Samples) Kind() SampleKind    { return KindUint8 }
func (s Uint8Samples) Len() int            { return len(s) }
func (s Uint8Samples) Value(i int) float64 { return float64(s[i]) }

type Uint16Samples []uint16

func (s Uint16Samples) Kind() SampleKind    { return KindUint16 }
func (s Uint16Samples) Len() int            { return len(s) }
func (s Uint16Samples) Value(i int) float64 { return float64(s[i]) }

type Uint32Samples []uint32

func (s Uint32Samples) Kind() SampleKind    { return KindUint32 }
func (s Uint32Samples) Len() int            { return len(s) }
func (s Uint32Samples) Value(i int) float64 { return float64(s[i]) }

type Float32Samples []float32

func (s Float32Samples) Kind() SampleKind    { return KindFloat32 }
func (s Float32Samples) Len() int            { return len(s) }
func (s Float32Samples) Value(i int) float64 { return float64(s[i]) }

// MakeSamples allocates a buffer of the given kind filled with fill.
func MakeSamples(kind SampleKind, length int, fill float64) Samples {
	switch kind {
	case KindUint8:
		s := make(Uint8Samples, length)
		if fill != 0 {
			for i := range s {
				s[i] = uint8(fill)
			}
		}
		return s
	case KindUint16:
		s := make(Uint16Samples, length)
		if fill != 0 {
			for i := range s {
				s[i] = uint16(fill)
			}
		}
		return s
	case KindUint32:
		s := make(Uint32Samples, length)
		if fill != 0 {
			for i := range s {
				s[i] = uint32(fill)
			}
		}
		return s
	default:
		s := make(Float32Samples, length)
		if fill != 0 {
			for i := range s {
				s[i] = float32(fill)
			}
		}
		return s
	}
}

// Pad returns s extended to length with fill. Buffers shorter than a full
// tile occur at the raster edge; callers pad them with the nodata sentinel
// (or zero) so conversion always sees a full tile. Returns s unchanged when
// it is already long enough.
func Pad(s Samples, length int, fill float64) Samples {
	if s.Len() >= length {
		return s
	}
	switch src := s.(type) {
	case Uint8Samples:
		padded := make(Uint8Samples, length)
		copy(padded, src)
		for i := len(src); i < length; i++ {
			padded[i] = uint8(fill)
		}
		return padded
	case Uint16Samples:
		padded := make(Uint16Samples, length)
		copy(padded, src)
		for i := len(src); i < length; i++ {
			padded[i] = uint16(fill)
		}
		return padded
	case Uint32Samples:
		padded := make(Uint32Samples, length)
		copy(padded, src)
		for i := len(src); i < length; i++ {
			padded[i] = uint32(fill)
		}
		return padded
	case Float32Samples:
		padded := make(Float32Samples, length)
		copy(padded, src)
		for i := len(src); i < length; i++ {
			padded[i] = float32(fill)
		}
		return padded
	}
	// Unknown implementation, go through the generic accessor.
	padded := MakeSamples(s.Kind(), length, fill)
	switch dst := padded.(type) {
	case Uint8Samples:
		for i := 0; i < s.Len(); i++ {
			dst[i] = uint8(s.Value(i))
		}
	case Uint16Samples:
		for i := 0; i < s.Len(); i++ {
			dst[i] = uint16(s.Value(i))
		}
	case Uint32Samples:
		for i := 0; i < s.Len(); i++ {
			dst[i] = uint32(s.Value(i))
		}
	case Float32Samples:
		for i := 0; i < s.Len(); i++ {
			dst[i] = float32(s.Value(i))
		}
	}
	return padded
}

// Interleave combines per-band planes of equal kind and length into one
// band-interleaved-by-pixel buffer. Used to normalize planar reads onto the
// interleaved contract the converters expect.
func Interleave(planes []Samples) (Samples, error) {
	if len(planes) == 0 {
		return nil, fmt.Errorf("interleave: no planes")
	}
	if len(planes) == 1 {
		return planes[0], nil
	}
	kind := planes[0].Kind()
	n := planes[0].Len()
	for _, p := range planes[1:] {
		if p.Kind() != kind {
			return nil, fmt.Errorf("interleave: mixed sample kinds %v and %v", kind, p.Kind())
		}
		if p.Len() != n {
			return nil, fmt.Errorf("interleave: plane lengths differ (%d vs %d)", n, p.Len())
		}
	}
	bands := len(planes)
	switch kind {
	case KindUint8:
		out := make(Uint8Samples, n*bands)
		for b, p := range planes {
			for i := 0; i < n; i++ {
				out[i*bands+b] = uint8(p.Value(i))
			}
		}
		return out, nil
	case KindUint16:
		out := make(Uint16Samples, n*bands)
		for b, p := range planes {
			for i := 0; i < n; i++ {
				out[i*bands+b] = uint16(p.Value(i))
			}
		}
		return out, nil
	case KindUint32:
		out := make(Uint32Samples, n*bands)
		for b, p := range planes {
			for i := 0; i < n; i++ {
				out[i*bands+b] = uint32(p.Value(i))
			}
		}
		return out, nil
	default:
		out := make(Float32Samples, n*bands)
		for b, p := range planes {
			for i := 0; i < n; i++ {
				out[i*bands+b] = float32(p.Value(i))
			}
		}
		return out, nil
	}
}
