package schema

import (
	"encoding/json"
	"fmt"
)

// Type is the kind of value a parameter may take.
type Type string

const (
	TypeObject  Type = "object"
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeArray   Type = "array"
)

// Schema describes the parameter shape of a single tool. It mirrors the
// subset of JSON Schema that tool servers advertise through their listing
// endpoint: an object with typed properties, some of them required.
type Schema struct {
	Type        Type               `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
}

// EmptyObject returns a schema accepting an empty argument object. Servers
// that omit the parameters field for a tool get this as the default.
func EmptyObject() *Schema {
	return &Schema{Type: TypeObject}
}

// Check verifies that the schema itself is well-formed: every type tag is
// known and array schemas carry an item schema.
func (s *Schema) Check() error {
	switch s.Type {
	case TypeObject, TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeArray:
	case "":
		return fmt.Errorf("schema is missing a type")
	default:
		return fmt.Errorf("unknown schema type %q", s.Type)
	}

	if s.Type == TypeArray && s.Items == nil {
		return fmt.Errorf("array schema has no item schema")
	}

	for name, prop := range s.Properties {
		if prop == nil {
			return fmt.Errorf("property %q has no schema", name)
		}
		if err := prop.Check(); err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
	}

	for _, req := range s.Required {
		if _, ok := s.Properties[req]; !ok {
			return fmt.Errorf("required property %q is not declared", req)
		}
	}

	if s.Items != nil {
		if err := s.Items.Check(); err != nil {
			return fmt.Errorf("items: %w", err)
		}
	}

	return nil
}

// Parse decodes a raw JSON parameter schema. A nil or empty payload yields
// the empty object schema so tools without parameters stay callable.
func Parse(raw json.RawMessage) (*Schema, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return EmptyObject(), nil
	}

	var s Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode parameter schema: %w", err)
	}
	if s.Type == "" {
		s.Type = TypeObject
	}
	if err := s.Check(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks a decoded argument object against the schema before it is
// forwarded to a server. The schema must be an object schema; anything else
// cannot describe a top-level argument payload.
func (s *Schema) Validate(args map[string]interface{}) error {
	if s.Type != TypeObject {
		return fmt.Errorf("top-level parameter schema must be an object, got %q", s.Type)
	}
	return s.validateObject("", args)
}

func (s *Schema) validateObject(path string, obj map[string]interface{}) error {
	for _, req := range s.Required {
		if _, ok := obj[req]; !ok {
			return fmt.Errorf("missing required argument %q", joinPath(path, req))
		}
	}

	for name, value := range obj {
		prop, ok := s.Properties[name]
		if !ok {
			// Servers may accept more than they advertise; unknown
			// arguments pass through untouched.
			continue
		}
		if err := prop.validateValue(joinPath(path, name), value); err != nil {
			return err
		}
	}

	return nil
}

func (s *Schema) validateValue(path string, value interface{}) error {
	if value == nil {
		return nil
	}

	switch s.Type {
	case TypeString:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("argument %q must be a string", path)
		}
		if len(s.Enum) > 0 && !containsString(s.Enum, str) {
			return fmt.Errorf("argument %q must be one of %v", path, s.Enum)
		}
	case TypeNumber:
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("argument %q must be a number", path)
		}
	case TypeInteger:
		f, ok := value.(float64)
		if !ok || f != float64(int64(f)) {
			return fmt.Errorf("argument %q must be an integer", path)
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean", path)
		}
	case TypeArray:
		items, ok := value.([]interface{})
		if !ok {
			return fmt.Errorf("argument %q must be an array", path)
		}
		for i, item := range items {
			if err := s.Items.validateValue(fmt.Sprintf("%s[%d]", path, i), item); err != nil {
				return err
			}
		}
	case TypeObject:
		obj, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("argument %q must be an object", path)
		}
		if err := s.validateObject(path, obj); err != nil {
			return err
		}
	}

	return nil
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
