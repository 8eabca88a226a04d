// Package tools defines the static tool catalog advertised on every
// synthesized conversation record.
//
// A Catalog is built once per process, validated at construction and never
// mutated afterwards. Every parameter schema is compiled as a JSON Schema so
// configuration mistakes surface before any record is written.
package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"

	"goa.design/agentcorpus/runtime/corpus/failure"
)

type (
	// Catalog is an ordered, immutable collection of tool definitions.
	Catalog struct {
		defs    []ToolDefinition
		index   map[string]int
		schemas []*jsonschema.Schema
		json    string
	}

	// FieldIssue represents a single argument validation issue. Constraint
	// names the violated JSON Schema keyword (required, type, ...).
	FieldIssue struct {
		Field      string
		Constraint string
	}
)

// NewCatalog validates defs and builds a Catalog. It returns a
// failure.KindConfig error when the catalog is empty, a name is empty or
// duplicated, a required parameter is not declared, a property kind is
// unknown or a parameter schema does not compile.
func NewCatalog(defs ...ToolDefinition) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, failure.New(failure.KindConfig, "tool catalog is empty")
	}
	c := &Catalog{
		defs:    make([]ToolDefinition, len(defs)),
		index:   make(map[string]int, len(defs)),
		schemas: make([]*jsonschema.Schema, len(defs)),
	}
	for i, def := range defs {
		def = normalize(def)
		if err := check(def); err != nil {
			return nil, failure.Wrap(failure.KindConfig, fmt.Sprintf("tool %d (%q)", i, def.Name), err)
		}
		if _, dup := c.index[def.Name]; dup {
			return nil, failure.Errorf(failure.KindConfig, "duplicate tool name %q", def.Name)
		}
		schema, err := compile(fmt.Sprintf("tool-%d.json", i), def)
		if err != nil {
			return nil, failure.Wrap(failure.KindConfig, fmt.Sprintf("tool %q: compile parameters", def.Name), err)
		}
		c.defs[i] = def
		c.index[def.Name] = i
		c.schemas[i] = schema
	}
	raw, err := marshalNoEscape(c.defs)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfig, "encode catalog", err)
	}
	c.json = string(raw)
	return c, nil
}

// MustCatalog is like NewCatalog but panics on error. It is meant for
// built-in catalogs known to be valid.
func MustCatalog(defs ...ToolDefinition) *Catalog {
	c, err := NewCatalog(defs...)
	if err != nil {
		panic(err)
	}
	return c
}

// Len returns the number of tools in the catalog.
func (c *Catalog) Len() int {
	return len(c.defs)
}

// At returns the i-th tool definition.
func (c *Catalog) At(i int) ToolDefinition {
	return clone(c.defs[i])
}

// Tools returns a copy of the definitions in catalog order.
func (c *Catalog) Tools() []ToolDefinition {
	out := make([]ToolDefinition, len(c.defs))
	for i, def := range c.defs {
		out[i] = clone(def)
	}
	return out
}

// Lookup returns the definition with the given name.
func (c *Catalog) Lookup(name string) (ToolDefinition, bool) {
	i, ok := c.index[name]
	if !ok {
		return ToolDefinition{}, false
	}
	return clone(c.defs[i]), true
}

// JSON returns the serialized catalog. The value is computed once at
// construction and advertised verbatim on every record.
func (c *Catalog) JSON() string {
	return c.json
}

// ValidateArguments checks args against the parameter schema of the named
// tool. A nil result means the arguments are valid.
func (c *Catalog) ValidateArguments(name string, args map[string]any) ([]FieldIssue, error) {
	i, ok := c.index[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	err = c.schemas[i].Validate(doc)
	if err == nil {
		return nil, nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return nil, err
	}
	return issues(verr), nil
}

func normalize(def ToolDefinition) ToolDefinition {
	if def.Parameters.Type == "" {
		def.Parameters.Type = string(KindObject)
	}
	if def.Parameters.Required == nil {
		def.Parameters.Required = []string{}
	}
	if def.Parameters.Properties == nil {
		def.Parameters.Properties = Properties{}
	}
	return clone(def)
}

func check(def ToolDefinition) error {
	if strings.TrimSpace(def.Name) == "" {
		return errors.New("name is required")
	}
	if def.Parameters.Type != string(KindObject) {
		return fmt.Errorf("parameters type must be %q, got %q", KindObject, def.Parameters.Type)
	}
	seen := make(map[string]struct{}, len(def.Parameters.Properties))
	for _, p := range def.Parameters.Properties {
		if p.Name == "" {
			return errors.New("property name is required")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate property %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if !p.Type.Valid() {
			return fmt.Errorf("property %q: unknown type %q", p.Name, p.Type)
		}
		if p.Type == KindArray && (p.Items == nil || !p.Items.Type.Valid()) {
			return fmt.Errorf("property %q: array items type is required", p.Name)
		}
	}
	for _, name := range def.Parameters.Required {
		if _, ok := seen[name]; !ok {
			return fmt.Errorf("required parameter %q is not a declared property", name)
		}
	}
	return nil
}

func compile(url string, def ToolDefinition) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(def.Parameters)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(url)
}

// issues flattens the leaves of a validation error tree.
func issues(verr *jsonschema.ValidationError) []FieldIssue {
	if len(verr.Causes) > 0 {
		var out []FieldIssue
		for _, cause := range verr.Causes {
			out = append(out, issues(cause)...)
		}
		return out
	}
	field := "/" + strings.Join(verr.InstanceLocation, "/")
	if req, ok := verr.ErrorKind.(*kind.Required); ok {
		out := make([]FieldIssue, 0, len(req.Missing))
		for _, m := range req.Missing {
			out = append(out, FieldIssue{Field: strings.TrimSuffix(field, "/") + "/" + m, Constraint: "required"})
		}
		return out
	}
	constraint := strings.Join(verr.ErrorKind.KeywordPath(), "/")
	return []FieldIssue{{Field: field, Constraint: constraint}}
}

func clone(def ToolDefinition) ToolDefinition {
	props := make(Properties, len(def.Parameters.Properties))
	for i, p := range def.Parameters.Properties {
		if p.Items != nil {
			items := *p.Items
			p.Items = &items
		}
		props[i] = p
	}
	def.Parameters.Properties = props
	def.Parameters.Required = slices.Clone(def.Parameters.Required)
	return def
}
