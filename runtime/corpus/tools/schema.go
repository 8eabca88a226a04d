package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Kind is the declared JSON type of a tool parameter.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
	KindObject  Kind = "object"
)

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindString, KindNumber, KindInteger, KindBoolean, KindArray, KindObject:
		return true
	default:
		return false
	}
}

type (
	// ToolDefinition is a named, described, schema-bearing capability
	// advertised to the synthesized assistant. It is never executed.
	ToolDefinition struct {
		Name        string `json:"name" yaml:"name"`
		Description string `json:"description" yaml:"description"`
		Parameters  Schema `json:"parameters" yaml:"parameters"`
	}

	// Schema is the JSON Schema object describing a tool's arguments.
	Schema struct {
		// Type is always "object"; an empty value is normalized at catalog
		// construction.
		Type       string     `json:"type" yaml:"type"`
		Properties Properties `json:"properties" yaml:"properties"`
		Required   []string   `json:"required" yaml:"required"`
	}

	// Property is a single named parameter.
	Property struct {
		Name        string `json:"-" yaml:"-"`
		Type        Kind   `json:"type" yaml:"type"`
		Items       *Items `json:"items,omitempty" yaml:"items,omitempty"`
		Description string `json:"description" yaml:"description"`
	}

	// Items describes array elements.
	Items struct {
		Type Kind `json:"type" yaml:"type"`
	}

	// Properties is the ordered property list of a schema. It serializes as a
	// JSON object whose keys keep declaration order.
	Properties []Property
)

// Lookup returns the property with the given name.
func (ps Properties) Lookup(name string) (Property, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Names returns the property names in declaration order.
func (ps Properties) Names() []string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name
	}
	return names
}

// MarshalJSON encodes the properties as an object in declaration order.
func (ps Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range ps {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalNoEscape(p.Name)
		if err != nil {
			return nil, err
		}
		val, err := marshalNoEscape(p)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", p.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into properties, keeping key order.
func (ps *Properties) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*ps = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("properties must be an object")
	}
	out := Properties{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var p Property
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
		p.Name = name
		out = append(out, p)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*ps = out
	return nil
}

// UnmarshalYAML decodes a YAML mapping into ordered properties.
func (ps *Properties) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: properties must be a mapping", node.Line)
	}
	out := make(Properties, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var p Property
		if err := node.Content[i+1].Decode(&p); err != nil {
			return fmt.Errorf("property %q: %w", node.Content[i].Value, err)
		}
		p.Name = node.Content[i].Value
		out = append(out, p)
	}
	*ps = out
	return nil
}

// marshalNoEscape encodes v without HTML escaping so descriptions and free
// text survive verbatim.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
