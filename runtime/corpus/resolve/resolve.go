// Package resolve maps heterogeneous source records onto a canonical
// instruction/response pair.
//
// Resolution is declarative: each side is an ordered alias list and the first
// present, non-empty value wins. Earlier aliases always take precedence, so the
// order of a list encodes source-format priority.
package resolve

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

type (
	// RawRecord is a source record of unknown shape. The resolver never
	// mutates it.
	RawRecord map[string]any

	// Aliases is an ordered list of candidate field names.
	Aliases []string

	// Pair is the canonical instruction/response extracted from a raw
	// record. Both fields are non-empty.
	Pair struct {
		Instruction string
		Response    string
	}

	// Derived synthesizes a pair from a single source field when alias
	// resolution fails, e.g. news datasets that only carry a "text" column.
	Derived struct {
		// Field is the source field to read.
		Field string `yaml:"field"`
		// Instruction is a format string; its single %s verb receives the
		// field value truncated to MaxRunes.
		Instruction string `yaml:"instruction"`
		// Response is the fixed response text.
		Response string `yaml:"response"`
		// MaxRunes bounds the inserted field value. Zero keeps it whole.
		MaxRunes int `yaml:"max_runes"`
	}

	// Resolver holds the alias lists and derived rules of one configuration.
	Resolver struct {
		Instruction Aliases
		Response    Aliases
		Derived     []Derived
	}
)

// Resolve returns the first present, non-empty value of each alias list. The
// boolean result is false when either side has no match.
func Resolve(raw RawRecord, instruction, response Aliases) (Pair, bool) {
	in, ok := lookup(raw, instruction)
	if !ok {
		return Pair{}, false
	}
	out, ok := lookup(raw, response)
	if !ok {
		return Pair{}, false
	}
	return Pair{Instruction: in, Response: out}, true
}

// Resolve applies the alias lists, then the derived rules in order.
func (r *Resolver) Resolve(raw RawRecord) (Pair, bool) {
	if pair, ok := Resolve(raw, r.Instruction, r.Response); ok {
		return pair, true
	}
	for _, d := range r.Derived {
		if pair, ok := d.apply(raw); ok {
			return pair, true
		}
	}
	return Pair{}, false
}

func (d Derived) apply(raw RawRecord) (Pair, bool) {
	v, ok := Coerce(raw[d.Field])
	if !ok || strings.TrimSpace(d.Response) == "" {
		return Pair{}, false
	}
	v = truncate(v, d.MaxRunes)
	instruction := v
	if d.Instruction != "" {
		instruction = fmt.Sprintf(d.Instruction, v)
	}
	return Pair{Instruction: instruction, Response: d.Response}, true
}

func lookup(raw RawRecord, aliases Aliases) (string, bool) {
	for _, key := range aliases {
		v, present := raw[key]
		if !present {
			continue
		}
		if s, ok := Coerce(v); ok {
			return s, true
		}
	}
	return "", false
}

// Coerce converts a scalar field value to its string form. It reports false
// for nil, containers and values that are empty or whitespace-only; string
// values are otherwise returned verbatim.
func Coerce(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case bool:
		s = strconv.FormatBool(t)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		s = t.String()
	default:
		return "", false
	}
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
