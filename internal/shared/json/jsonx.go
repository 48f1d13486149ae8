package jsonx

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// Thin wrapper so config, action batches and the LLM wire format share one codec.
var (
	Marshal       = json.Marshal
	MarshalIndent = json.MarshalIndent
	Unmarshal     = json.Unmarshal
	Valid         = json.Valid
	NewDecoder    = json.NewDecoder
	NewEncoder    = json.NewEncoder
)

type RawMessage = json.RawMessage
type Number = json.Number

// IsObject reports whether data holds a single valid JSON object.
func IsObject(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) < 2 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}

// MarshalIndentNewline encodes v with two-space indentation and a trailing newline,
// the layout used for every file written to disk.
func MarshalIndentNewline(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return append(data, '\n'), nil
}
