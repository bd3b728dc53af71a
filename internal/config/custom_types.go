package config

import (
	"fmt"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// FlexBool is a boolean that can be unmarshalled from a boolean, a string, or a number.
type FlexBool bool

// UnmarshalYAML implements the yaml.Unmarshaler interface for FlexBool.
func (fb *FlexBool) UnmarshalYAML(value *yaml.Node) error {
	switch value.Tag {
	case "!!bool", "!!str", "!!int", "!!float":
	default:
		return fmt.Errorf("cannot unmarshal %s into FlexBool", value.Tag)
	}
	var raw interface{} = value.Value
	if value.Tag == "!!int" || value.Tag == "!!float" {
		f, err := cast.ToFloat64E(value.Value)
		if err != nil {
			return fmt.Errorf("cannot unmarshal %q into FlexBool: %w", value.Value, err)
		}
		raw = f != 0
	}
	b, err := cast.ToBoolE(raw)
	if err != nil {
		return fmt.Errorf("cannot unmarshal %q into FlexBool: %w", value.Value, err)
	}
	*fb = FlexBool(b)
	return nil
}

// MarshalYAML writes the plain boolean.
func (fb FlexBool) MarshalYAML() (interface{}, error) {
	return bool(fb), nil
}
