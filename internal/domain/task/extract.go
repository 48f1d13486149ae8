package task

import (
	"errors"
	"regexp"
	"strings"

	jsonx "warden/internal/shared/json"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoJSON is returned when no JSON object can be recovered from a reply.
var ErrNoJSON = errors.New("no JSON object found in reply")

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*[ \t]*\r?\n?(.*?)```")

// ExtractJSON recovers a JSON object from free-form model output. It tries,
// in order: fenced code blocks, the span between the first '{' and the last
// '}', and the trimmed reply. As a last resort the brace span is passed
// through jsonrepair to fix trailing commas, unquoted keys and truncation.
func ExtractJSON(reply string) ([]byte, error) {
	for _, match := range fencedBlock.FindAllStringSubmatch(reply, -1) {
		candidate := strings.TrimSpace(match[1])
		if jsonx.IsObject([]byte(candidate)) {
			return []byte(candidate), nil
		}
	}

	span := braceSpan(reply)
	if span != "" && jsonx.IsObject([]byte(span)) {
		return []byte(span), nil
	}

	trimmed := strings.TrimSpace(reply)
	if jsonx.IsObject([]byte(trimmed)) {
		return []byte(trimmed), nil
	}

	repairSource := span
	if repairSource == "" {
		if start := strings.Index(trimmed, "{"); start >= 0 {
			repairSource = trimmed[start:]
		}
	}
	if repairSource != "" {
		if repaired, err := jsonrepair.JSONRepair(repairSource); err == nil && jsonx.IsObject([]byte(repaired)) {
			return []byte(repaired), nil
		}
	}
	return nil, ErrNoJSON
}

func braceSpan(reply string) string {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return ""
	}
	return reply[start : end+1]
}
