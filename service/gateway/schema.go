package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

type SchemaType string

const (
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
	TypeString  SchemaType = "string"
	TypeInteger SchemaType = "integer"
	TypeNumber  SchemaType = "number"
	TypeBoolean SchemaType = "boolean"
)

// Schema is the subset of JSON Schema accepted as a Gemini responseSchema.
type Schema struct {
	Type        SchemaType         `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	MinItems    *int               `json:"minItems,omitempty"`
	MaxItems    *int               `json:"maxItems,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
}

func Object(props map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: TypeObject, Properties: props, Required: required}
}

func ArrayOf(items *Schema) *Schema { return &Schema{Type: TypeArray, Items: items} }

func String() *Schema  { return &Schema{Type: TypeString} }
func Integer() *Schema { return &Schema{Type: TypeInteger} }
func Number() *Schema  { return &Schema{Type: TypeNumber} }

// IntegerRange is an integer schema bounded to [min, max].
func IntegerRange(min, max float64) *Schema {
	return &Schema{Type: TypeInteger, Minimum: &min, Maximum: &max}
}

// StringEnum is a string schema restricted to values. Gemini only supports enums on strings.
func StringEnum(values ...string) *Schema { return &Schema{Type: TypeString, Enum: values} }

// WithItems bounds an array schema's length.
func (s *Schema) WithItems(min, max int) *Schema {
	s.MinItems, s.MaxItems = &min, &max
	return s
}

func (s *Schema) Describe(d string) *Schema {
	s.Description = d
	return s
}

// MismatchError locates the first schema violation.
type MismatchError struct {
	Path    string
	Message string
}

func (e *MismatchError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate checks raw JSON against the schema.
func (s *Schema) Validate(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return &MismatchError{Message: "invalid JSON: " + err.Error()}
	}
	return s.validate("$", v)
}

func (s *Schema) validate(path string, v any) error {
	if s == nil {
		return nil
	}
	fail := func(format string, args ...any) error {
		return &MismatchError{Path: path, Message: fmt.Sprintf(format, args...)}
	}
	switch s.Type {
	case TypeObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return fail("expected object, got %s", kindOf(v))
		}
		for _, name := range s.Required {
			if _, ok := obj[name]; !ok {
				return fail("missing required property %q", name)
			}
		}
		for name, prop := range s.Properties {
			val, ok := obj[name]
			if !ok || val == nil {
				continue
			}
			if err := prop.validate(path+"."+name, val); err != nil {
				return err
			}
		}
	case TypeArray:
		arr, ok := v.([]any)
		if !ok {
			return fail("expected array, got %s", kindOf(v))
		}
		if s.MinItems != nil && len(arr) < *s.MinItems {
			return fail("expected at least %d items, got %d", *s.MinItems, len(arr))
		}
		if s.MaxItems != nil && len(arr) > *s.MaxItems {
			return fail("expected at most %d items, got %d", *s.MaxItems, len(arr))
		}
		for i, item := range arr {
			if err := s.Items.validate(fmt.Sprintf("%s[%d]", path, i), item); err != nil {
				return err
			}
		}
	case TypeString:
		str, ok := v.(string)
		if !ok {
			return fail("expected string, got %s", kindOf(v))
		}
		if len(s.Enum) > 0 && !contains(s.Enum, str) {
			return fail("value %q not in [%s]", str, strings.Join(s.Enum, ", "))
		}
	case TypeInteger, TypeNumber:
		n, ok := v.(float64)
		if !ok {
			return fail("expected %s, got %s", s.Type, kindOf(v))
		}
		if s.Type == TypeInteger && n != math.Trunc(n) {
			return fail("expected integer, got %v", n)
		}
		if s.Minimum != nil && n < *s.Minimum {
			return fail("%v is below minimum %v", n, *s.Minimum)
		}
		if s.Maximum != nil && n > *s.Maximum {
			return fail("%v is above maximum %v", n, *s.Maximum)
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return fail("expected boolean, got %s", kindOf(v))
		}
	}
	return nil
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	}
	return fmt.Sprintf("%T", v)
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
