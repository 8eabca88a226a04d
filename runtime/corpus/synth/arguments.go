package synth

import (
	"reflect"
	"slices"
	"strings"

	"goa.design/agentcorpus/runtime/corpus/tools"
)

// Arguments synthesizes tool-call arguments from a pool of example values.
//
// Only required parameters are ever populated. Parameters listed in FreeText
// receive the instruction verbatim; the others take their placeholder from
// the pool. Parameters with no value, or an empty one, are left out.
type Arguments struct {
	// Placeholders maps parameter names to example values, e.g. an address-
	// or hash-shaped string.
	Placeholders map[string]any
	// FreeText names parameters that carry the user's request text.
	FreeText []string
}

// Build returns the argument mapping for tool. The result never contains nil
// or empty values and its keys are a subset of tool's required parameters.
func (a Arguments) Build(tool tools.ToolDefinition, instruction string) map[string]any {
	args := make(map[string]any, len(tool.Parameters.Required))
	for _, name := range tool.Parameters.Required {
		var v any
		if slices.Contains(a.FreeText, name) {
			v = instruction
		} else if p, ok := a.Placeholders[name]; ok {
			v = p
		}
		if isEmpty(v) {
			continue
		}
		args[name] = v
	}
	return args
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return strings.TrimSpace(rv.String()) == ""
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
