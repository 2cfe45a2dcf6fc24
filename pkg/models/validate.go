package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ValidationError describes why a payload does not match the AnalysisResult shape
type ValidationError struct {
	Field  string // dotted path, empty when the payload itself is unusable
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid analysis payload: " + e.Reason
	}
	return fmt.Sprintf("invalid analysis payload: %s %s", e.Field, e.Reason)
}

var nullLiteral = []byte("null")

// DecodeAnalysisResult checks the structure of an analyzer reply and returns the
// typed result. The check is structural only: required fields must be present
// with the right JSON type, optional ones may be absent or null. A body that is
// not JSON at all is reported the same way as a shape mismatch.
func DecodeAnalysisResult(body []byte) (*AnalysisResult, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil || top == nil {
		return nil, &ValidationError{Reason: "not a JSON object"}
	}

	rule, err := decodeChannel(string(ChannelRule), top[string(ChannelRule)])
	if err != nil {
		return nil, err
	}
	llm, err := decodeChannel(string(ChannelLLM), top[string(ChannelLLM)])
	if err != nil {
		return nil, err
	}

	return &AnalysisResult{Rule: *rule, LLM: *llm}, nil
}

func decodeChannel(name string, raw json.RawMessage) (*AnalysisChannel, error) {
	if isAbsent(raw) {
		return nil, &ValidationError{Field: name, Reason: "is missing"}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &ValidationError{Field: name, Reason: "is not an object"}
	}

	var ch AnalysisChannel
	if err := requireField(name, "icon", fields, &ch.Icon); err != nil {
		return nil, err
	}
	if err := requireField(name, "title", fields, &ch.Title); err != nil {
		return nil, err
	}
	if err := requireField(name, "reasoning_steps", fields, &ch.ReasoningSteps); err != nil {
		return nil, err
	}
	if err := requireField(name, "fix_steps", fields, &ch.FixSteps); err != nil {
		return nil, err
	}
	if err := optionalField(name, "suggested_patch", fields, &ch.SuggestedPatch); err != nil {
		return nil, err
	}
	if err := optionalField(name, "highlightLines", fields, &ch.HighlightLines); err != nil {
		return nil, err
	}

	// Present-but-empty arrays stay non-nil so the result re-encodes as [].
	if ch.ReasoningSteps == nil {
		ch.ReasoningSteps = []string{}
	}
	if ch.FixSteps == nil {
		ch.FixSteps = []string{}
	}
	return &ch, nil
}

func requireField(channel, key string, fields map[string]json.RawMessage, target interface{}) error {
	raw := fields[key]
	if isAbsent(raw) {
		return &ValidationError{Field: channel + "." + key, Reason: "is missing"}
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return &ValidationError{Field: channel + "." + key, Reason: "has the wrong type"}
	}
	return nil
}

func optionalField(channel, key string, fields map[string]json.RawMessage, target interface{}) error {
	raw := fields[key]
	if isAbsent(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return &ValidationError{Field: channel + "." + key, Reason: "has the wrong type"}
	}
	return nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), nullLiteral)
}
