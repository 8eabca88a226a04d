// Package validate checks emitted conversation lines against the target
// record schema and accumulates a per-line error report.
//
// Checks accumulate rather than short-circuit, except that a line which does
// not parse yields exactly one error. Malformed input never causes a panic or
// an error return; only failures to read the stream are returned.
package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"goa.design/agentcorpus/runtime/corpus/failure"
	"goa.design/agentcorpus/runtime/corpus/jsonl"
	"goa.design/agentcorpus/runtime/corpus/record"
	"goa.design/agentcorpus/runtime/corpus/telemetry"
	"goa.design/agentcorpus/runtime/corpus/tools"
)

var requiredKeys = [...]string{"conversations", "tools", "system"}

type (
	// Error is a single structural problem found on a line.
	Error struct {
		Line    int
		Message string
	}

	// Validator validates serialized conversation lines.
	Validator struct {
		strict  bool
		maxLine int
		logger  telemetry.Logger
		// catalogs caches compiled single-tool catalogs keyed by the
		// tool definition JSON.
		catalogs sync.Map
	}

	// Option configures a Validator.
	Option func(*Validator)
)

// WithStrict enables the nested payload checks: function_call and
// observation contents must decode, the called tool must be advertised and
// its arguments must satisfy the tool's parameter schema.
func WithStrict() Option {
	return func(v *Validator) { v.strict = true }
}

// WithMaxLineBytes bounds the length of a line read by Run. Longer lines are
// reported and skipped. Defaults to jsonl.MaxLineBytes.
func WithMaxLineBytes(n int) Option {
	return func(v *Validator) { v.maxLine = n }
}

// WithLogger sets the logger.
func WithLogger(l telemetry.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// New returns a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{logger: telemetry.NewNoopLogger()}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Error implements the error interface.
func (e Error) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// Line validates one serialized record. n is the 1-based line number used in
// the returned errors.
func (v *Validator) Line(n int, line []byte) []Error {
	var errs []Error
	add := func(format string, args ...any) {
		errs = append(errs, Error{Line: n, Message: fmt.Sprintf(format, args...)})
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(line, &doc); err != nil || doc == nil {
		add("parse failure: line is not a JSON object")
		return errs
	}

	for _, key := range requiredKeys {
		if _, ok := doc[key]; !ok {
			add("missing required field %q", key)
		}
	}

	var turns []record.Turn
	if raw, ok := doc["conversations"]; ok {
		turns = checkConversations(raw, add)
	}
	var catalog []json.RawMessage
	if raw, ok := doc["tools"]; ok {
		catalog = checkTools(raw, add)
	}
	if raw, ok := doc["system"]; ok {
		if _, ok := decodeString(raw); !ok {
			add("system must be a string")
		}
	}
	if v.strict && turns != nil {
		v.checkPayloads(turns, catalog, add)
	}
	return errs
}

// checkConversations reports per-turn problems and the turn shape. It returns
// the turns that decoded with a valid role and string content, in order, or
// nil when the field is not an array.
func checkConversations(raw json.RawMessage, add func(string, ...any)) []record.Turn {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil || elems == nil {
		add("conversations must be an array")
		return nil
	}
	turns := make([]record.Turn, 0, len(elems))
	shapeOK := len(elems) == len(record.Shape)
	for i, elem := range elems {
		var turn map[string]json.RawMessage
		if err := json.Unmarshal(elem, &turn); err != nil || turn == nil {
			add("turn %d: must be an object", i+1)
			shapeOK = false
			continue
		}
		rawRole, hasRole := turn["role"]
		rawContent, hasContent := turn["content"]
		if !hasRole || !hasContent {
			add("turn %d: missing role or content", i+1)
		}
		var role record.Role
		if hasRole {
			if json.Unmarshal(rawRole, &role) != nil || !role.Valid() {
				add("turn %d: invalid role %s", i+1, string(rawRole))
				role = ""
			}
		}
		var content string
		if hasContent {
			c, ok := decodeString(rawContent)
			if !ok {
				add("turn %d: content must be a string", i+1)
			}
			content = c
		}
		if role == "" {
			shapeOK = false
			continue
		}
		if shapeOK && role != record.Shape[i] {
			add("turn %d: expected role %q, got %q", i+1, record.Shape[i], role)
		}
		turns = append(turns, record.Turn{Role: role, Content: content})
	}
	if len(elems) != len(record.Shape) {
		add("conversations must have %d turns, got %d", len(record.Shape), len(elems))
	}
	return turns
}

// checkTools verifies that tools is a string holding a JSON array and returns
// the array elements.
func checkTools(raw json.RawMessage, add func(string, ...any)) []json.RawMessage {
	s, ok := decodeString(raw)
	if !ok {
		add("tools must be a string-encoded JSON array")
		return nil
	}
	var nested any
	if err := json.Unmarshal([]byte(s), &nested); err != nil {
		add("tools is not valid JSON")
		return nil
	}
	if _, ok := nested.([]any); !ok {
		add("tools must decode to a JSON array")
		return nil
	}
	var elems []json.RawMessage
	_ = json.Unmarshal([]byte(s), &elems)
	return elems
}

// decodeString reports whether raw is a JSON string. Unlike a plain
// json.Unmarshal into a string, null is rejected.
func decodeString(raw json.RawMessage) (string, bool) {
	var v any
	if json.Unmarshal(raw, &v) != nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (v *Validator) checkPayloads(turns []record.Turn, catalog []json.RawMessage, add func(string, ...any)) {
	for _, t := range turns {
		switch t.Role {
		case record.RoleFunctionCall:
			var fc record.FunctionCall
			if err := json.Unmarshal([]byte(t.Content), &fc); err != nil || fc.Name == "" {
				add("function_call content must be a JSON object with a name")
				continue
			}
			v.checkCall(fc, catalog, add)
		case record.RoleObservation:
			var obs map[string]any
			if err := json.Unmarshal([]byte(t.Content), &obs); err != nil || obs == nil {
				add("observation content must be a JSON object")
				continue
			}
			if _, ok := obs["status"].(string); !ok {
				add("observation is missing a status")
			}
			if _, ok := obs["timestamp"].(float64); !ok {
				add("observation is missing a numeric timestamp")
			}
		}
	}
}

// checkCall validates the call against the advertised definition of the
// called tool.
func (v *Validator) checkCall(fc record.FunctionCall, catalog []json.RawMessage, add func(string, ...any)) {
	var def json.RawMessage
	for _, raw := range catalog {
		var head struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(raw, &head) == nil && head.Name == fc.Name {
			def = raw
			break
		}
	}
	if def == nil {
		add("function_call names tool %q which is not advertised in tools", fc.Name)
		return
	}
	cat, err := v.catalog(def)
	if err != nil {
		add("tool %q: invalid definition: %v", fc.Name, err)
		return
	}
	issues, err := cat.ValidateArguments(fc.Name, fc.Arguments)
	if err != nil {
		add("tool %q: %v", fc.Name, err)
		return
	}
	for _, is := range issues {
		add("function_call argument %s violates %s", is.Field, is.Constraint)
	}
}

// catalogEntry is a cached compilation result.
type catalogEntry struct {
	cat *tools.Catalog
	err error
}

// catalog compiles the tool definition raw, reusing earlier compilations of
// the same definition.
func (v *Validator) catalog(raw json.RawMessage) (*tools.Catalog, error) {
	key := string(raw)
	if e, ok := v.catalogs.Load(key); ok {
		entry := e.(catalogEntry)
		return entry.cat, entry.err
	}
	var entry catalogEntry
	var def tools.ToolDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		entry.err = err
	} else {
		entry.cat, entry.err = tools.NewCatalog(def)
	}
	v.catalogs.Store(key, entry)
	return entry.cat, entry.err
}

// Run validates every line of r and returns the report. Blank lines are
// parse failures and lines over the length bound are reported and skipped.
// The error is non-nil only when r cannot be read.
func (v *Validator) Run(ctx context.Context, r io.Reader) (*Report, error) {
	rep := &Report{}
	lines := jsonl.NewReader(r, v.maxLine)
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		line, err := lines.Next()
		switch {
		case errors.Is(err, io.EOF):
			v.logger.Info(ctx, "validation completed", "total", rep.Total, "errored", rep.Errored)
			return rep, nil
		case errors.Is(err, jsonl.ErrTooLong):
			v.logger.Debug(ctx, "skipped oversized line", "line", n)
			rep.Add([]Error{{Line: n, Message: fmt.Sprintf("line exceeds the %d byte limit", lines.Limit())}})
		case err != nil:
			return rep, failure.Wrap(failure.KindIO, "read lines", err)
		default:
			rep.Add(v.Line(n, line))
		}
	}
}
