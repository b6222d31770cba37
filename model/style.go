package model

import (
	"encoding/json"
	"fmt"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/perimeterx/marshmallow"

	"github.com/felipecarrillo100/geotifftilesetmodel/convert"
	"github.com/felipecarrillo100/geotifftilesetmodel/gradient"
	"github.com/felipecarrillo100/geotifftilesetmodel/raster"
)

// Style is a display-configuration document. The gradient key is handled
// separately because it carries its own validation and an optional native
// range next to the stops.
type Style struct {
	BandMapping *raster.BandMapping  `json:"bandMapping"`
	NoData      *float64             `json:"nodata"`
	Alpha       *convert.AlphaPolicy `json:"alpha" validate:"omitempty,min=0,max=1"`

	gradient *gradient.ColorMap
	rng      *gradient.NativeRange
}

func (s *Style) UnmarshalJSON(data []byte) error {
	if err := defaults.Set(s); err != nil {
		return err
	}

	specials, err := marshmallow.Unmarshal(data, s, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}

	if rawGradient, ok := specials["gradient"]; ok {
		gradientJSON, err := json.Marshal(rawGradient)
		if err != nil {
			return err
		}
		s.gradient, s.rng, err = gradient.ParseDefinition(gradientJSON)
		if err != nil {
			return err
		}
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(s)
}

// ApplyStyle applies a parsed style document as one configuration change.
// All parts are validated before any of them takes effect; on rejection
// the active configuration is untouched and the generation counter does
// not move.
func (m *TileSetModel) ApplyStyle(style *Style) error {
	if style.BandMapping != nil {
		if err := style.BandMapping.Validate(m.set.Finest().Level.SamplesPerPixel); err != nil {
			return fmt.Errorf("%w: %s", ErrConfiguration, err)
		}
	}

	m.mu.Lock()
	if style.gradient != nil {
		m.grad = style.gradient
	}
	if style.rng != nil {
		m.rng = style.rng
	}
	if style.BandMapping != nil {
		m.mapping = *style.BandMapping
	}
	if style.NoData != nil {
		m.nodata = &raster.NoData{Value: *style.NoData}
	}
	if style.Alpha != nil {
		m.alpha = *style.Alpha
	}
	m.mu.Unlock()
	m.generation.Add(1)
	return nil
}

// ApplyStyleJSON parses and applies a style document in one step.
func (m *TileSetModel) ApplyStyleJSON(data []byte) error {
	var style Style
	if err := json.Unmarshal(data, &style); err != nil {
		return fmt.Errorf("%w: %s", ErrConfiguration, err)
	}
	return m.ApplyStyle(&style)
}
