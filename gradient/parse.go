package gradient

import (
	"encoding/json"
	"fmt"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// UnmarshalJSON accepts a "#RRGGBB" hex string or an [r,g,b] array.
func (c *Color) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if len(asString) != 7 || asString[0] != '#' {
			return fmt.Errorf(`color %q is not of the form "#RRGGBB"`, asString)
		}
		var r, g, b uint8
		if _, err := fmt.Sscanf(asString, "#%02x%02x%02x", &r, &g, &b); err != nil {
			return fmt.Errorf("could not parse color %q: %w", asString, err)
		}
		*c = Color{R: r, G: g, B: b}
		return nil
	}
	var asArray [3]uint8
	if err := json.Unmarshal(data, &asArray); err != nil {
		return fmt.Errorf("color should be a hex string or an [r,g,b] array: %w", err)
	}
	*c = Color{R: asArray[0], G: asArray[1], B: asArray[2]}
	return nil
}

func (c Color) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B))
}

// Definition is the JSON shape of a gradient configuration file. Unknown
// keys are tolerated, the known ones are validated.
type Definition struct {
	Stops []Stop       `validate:"required,min=2,dive" json:"stops"`
	Range *NativeRange `json:"range,omitempty"`
}

func (d *Definition) UnmarshalJSON(data []byte) error {
	if err := defaults.Set(d); err != nil {
		return err
	}
	type plain Definition // avoid recursing into this method
	if err := json.Unmarshal(data, (*plain)(d)); err != nil {
		return err
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(d)
}

// ParseDefinition reads a gradient configuration document and builds the
// color map it describes.
func ParseDefinition(data []byte) (*ColorMap, *NativeRange, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidStops, err)
	}
	m, err := New(def.Stops)
	if err != nil {
		return nil, nil, err
	}
	return m, def.Range, nil
}
