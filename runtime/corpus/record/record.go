// Package record defines the persisted agent-conversation training record and
// its line-oriented encoding.
//
// A record is one JSON object per line. The tools field and the contents of
// function_call and observation turns are themselves string-encoded JSON
// documents, so consumers parse twice.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Role identifies the speaker of a turn.
type Role string

const (
	RoleUser         Role = "user"
	RoleAssistant    Role = "assistant"
	RoleFunctionCall Role = "function_call"
	RoleObservation  Role = "observation"
)

// StatusSuccess is the only status emitted in observation payloads.
const StatusSuccess = "success"

// Shape is the fixed role sequence of every emitted conversation.
var Shape = [...]Role{RoleUser, RoleAssistant, RoleFunctionCall, RoleObservation, RoleAssistant}

// Valid reports whether r is one of the four allowed roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleFunctionCall, RoleObservation:
		return true
	default:
		return false
	}
}

type (
	// Turn is one role-tagged utterance.
	Turn struct {
		Role    Role   `json:"role"`
		Content string `json:"content"`
	}

	// Record is a synthesized conversation. Tools carries the serialized
	// catalog in full.
	Record struct {
		Conversations []Turn `json:"conversations"`
		Tools         string `json:"tools"`
		System        string `json:"system"`
	}

	// FunctionCall is the payload of a function_call turn.
	FunctionCall struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}

	// Observation is the payload of an observation turn. Timestamp is Unix
	// seconds at synthesis time.
	Observation struct {
		Status    string `json:"status"`
		Data      string `json:"data"`
		Timestamp int64  `json:"timestamp"`
	}
)

// MarshalLine encodes r as a single line without the trailing newline.
func (r Record) MarshalLine() ([]byte, error) {
	return Encode(r)
}

// Encode marshals v as compact JSON without HTML escaping.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// Parse decodes a line produced by MarshalLine.
func Parse(line []byte) (Record, error) {
	var r Record
	err := json.Unmarshal(line, &r)
	return r, err
}

// FunctionCall decodes the payload of the function_call turn.
func (r Record) FunctionCall() (FunctionCall, error) {
	var fc FunctionCall
	err := decodeTurn(r, RoleFunctionCall, &fc)
	return fc, err
}

// Observation decodes the payload of the observation turn.
func (r Record) Observation() (Observation, error) {
	var obs Observation
	err := decodeTurn(r, RoleObservation, &obs)
	return obs, err
}

func decodeTurn(r Record, role Role, v any) error {
	for _, t := range r.Conversations {
		if t.Role == role {
			return json.Unmarshal([]byte(t.Content), v)
		}
	}
	return fmt.Errorf("no %s turn", role)
}
