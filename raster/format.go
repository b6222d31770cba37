package raster

// Meaning is the pixel-meaning classification of a level's raw samples.
type Meaning int

const (
	MeaningUnknown Meaning = iota
	Grayscale8
	Grayscale16
	Grayscale32
	MeaningRGB
	MeaningRGB96
	MeaningRGBA
	Multiband
)

func (m Meaning) String() string {
	switch m {
	case Grayscale8:
		return "Grayscale8"
	case Grayscale16:
		return "Grayscale16"
	case Grayscale32:
		return "Grayscale32"
	case MeaningRGB:
		return "RGB"
	case MeaningRGB96:
		return "RGB96"
	case MeaningRGBA:
		return "RGBA"
	case Multiband:
		return "Multiband"
	}
	return "Unknown"
}

// Format is the target output pixel format of a decoded tile.
type Format int

const (
	FormatUndetermined Format = iota
	FormatRGB888
	FormatRGBA8888
	FormatUShort
	FormatUInt32
	FormatFloat32
)

func (f Format) String() string {
	switch f {
	case FormatRGB888:
		return "RGB_888"
	case FormatRGBA8888:
		return "RGBA_8888"
	case FormatUShort:
		return "USHORT"
	case FormatUInt32:
		return "UINT_32"
	case FormatFloat32:
		return "FLOAT_32"
	}
	return "undetermined"
}

// BytesPerPixel returns the pixel stride of a format, 0 when undetermined.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGB888:
		return 3
	case FormatRGBA8888:
		return 4
	case FormatUShort:
		return 2
	case FormatUInt32, FormatFloat32:
		return 4
	}
	return 0
}

// Classify derives the pixel meaning and target output format from raw
// level metadata. Pure and deterministic; the Multiband case leaves the
// format undetermined, it is resolved by the multi-band conversion path.
func Classify(samplesPerPixel, bitsPerSample int, photometric Photometric, sampleIsFloat bool) (Meaning, Format) {
	switch {
	case samplesPerPixel == 1 && bitsPerSample == 8:
		return Grayscale8, FormatUndetermined
	case samplesPerPixel == 1 && bitsPerSample == 16:
		return Grayscale16, FormatUShort
	case samplesPerPixel == 1 && bitsPerSample == 32:
		if sampleIsFloat {
			return Grayscale32, FormatFloat32
		}
		return Grayscale32, FormatUInt32
	case samplesPerPixel == 3 && photometric == PhotometricRGB && bitsPerSample == 8:
		return MeaningRGB, FormatRGB888
	case samplesPerPixel == 3 && photometric == PhotometricRGB && bitsPerSample == 32:
		return MeaningRGB96, FormatUndetermined
	case samplesPerPixel == 4 && photometric == PhotometricRGB && bitsPerSample == 8:
		return MeaningRGBA, FormatRGBA8888
	case samplesPerPixel > 1:
		return Multiband, FormatUndetermined
	}
	return MeaningUnknown, FormatUndetermined
}

// ClassifyLevel is Classify applied to a level's own metadata.
func ClassifyLevel(l Level) (Meaning, Format) {
	return Classify(l.SamplesPerPixel, l.BitsPerSample, l.Photometric, l.SampleIsFloat)
}
