package task

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	jsonx "warden/internal/shared/json"
)

// ErrMissingActions is returned when the reply parses but has no actions array.
var ErrMissingActions = errors.New(`reply JSON has no "actions" array`)

const (
	defaultGlobLimit = 100
	minGlobLimit     = 1
	maxGlobLimit     = 500

	defaultReadChars = 20000
	minReadChars     = 1000
	maxReadChars     = 50000

	defaultFinishSummary = "Task completed."
)

// ParseActions extracts and decodes the action batch from a model reply.
// Individual malformed entries become Invalid actions; only a reply with no
// recoverable batch is an error.
func ParseActions(reply string) ([]Action, error) {
	data, err := ExtractJSON(reply)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Actions *[]jsonx.RawMessage `json:"actions"`
	}
	if err := jsonx.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode action batch: %w", err)
	}
	if envelope.Actions == nil {
		return nil, ErrMissingActions
	}
	actions := make([]Action, 0, len(*envelope.Actions))
	for _, raw := range *envelope.Actions {
		actions = append(actions, decodeAction(raw))
	}
	return actions, nil
}

type wireAction struct {
	Type      string   `json:"type"`
	Pattern   string   `json:"pattern"`
	Limit     *flexInt `json:"limit"`
	Path      string   `json:"path"`
	MaxChars  *flexInt `json:"maxChars"`
	Content   *string  `json:"content"`
	StartLine *flexInt `json:"startLine"`
	EndLine   *flexInt `json:"endLine"`
	NewText   *string  `json:"newText"`
	Command   string   `json:"command"`
	Cwd       string   `json:"cwd"`
	Summary   string   `json:"summary"`
}

func decodeAction(raw jsonx.RawMessage) Action {
	var w wireAction
	if err := jsonx.Unmarshal(raw, &w); err != nil {
		return Invalid{Reason: fmt.Sprintf("action is not a valid object: %v", err)}
	}

	switch canonicalType(w.Type) {
	case "glob":
		if strings.TrimSpace(w.Pattern) == "" {
			return Invalid{Type: w.Type, Reason: `glob requires "pattern"`}
		}
		return Glob{Pattern: strings.TrimSpace(w.Pattern), Limit: w.Limit.or(defaultGlobLimit)}
	case "readfile":
		if strings.TrimSpace(w.Path) == "" {
			return Invalid{Type: w.Type, Reason: `readFile requires "path"`}
		}
		return ReadFile{Path: strings.TrimSpace(w.Path), MaxChars: w.MaxChars.or(defaultReadChars)}
	case "writefile":
		if strings.TrimSpace(w.Path) == "" || w.Content == nil {
			return Invalid{Type: w.Type, Reason: `writeFile requires "path" and "content"`}
		}
		return WriteFile{Path: strings.TrimSpace(w.Path), Content: *w.Content}
	case "replacelines":
		if strings.TrimSpace(w.Path) == "" || w.StartLine == nil || w.EndLine == nil || w.NewText == nil {
			return Invalid{Type: w.Type, Reason: `replaceLines requires "path", "startLine", "endLine" and "newText"`}
		}
		return ReplaceLines{
			Path:      strings.TrimSpace(w.Path),
			StartLine: int(*w.StartLine),
			EndLine:   int(*w.EndLine),
			NewText:   *w.NewText,
		}
	case "runcommand":
		if strings.TrimSpace(w.Command) == "" {
			return Invalid{Type: w.Type, Reason: `runCommand requires "command"`}
		}
		return RunCommand{Command: w.Command, Cwd: strings.TrimSpace(w.Cwd)}
	case "finish":
		summary := strings.TrimSpace(w.Summary)
		if summary == "" {
			summary = defaultFinishSummary
		}
		return Finish{Summary: summary}
	case "":
		return Invalid{Reason: `action is missing "type"`}
	default:
		return Invalid{Type: w.Type, Reason: fmt.Sprintf("unknown action type %q", w.Type)}
	}
}

// canonicalType folds readFile, read_file and read-file onto "readfile".
func canonicalType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	t = strings.ReplaceAll(t, "_", "")
	return strings.ReplaceAll(t, "-", "")
}

// flexInt accepts JSON numbers and numeric strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("expected a number, got %s", string(data))
	}
	if v > math.MaxInt32 {
		v = math.MaxInt32
	} else if v < math.MinInt32 {
		v = math.MinInt32
	}
	*f = flexInt(v)
	return nil
}

func (f *flexInt) or(fallback int) int {
	if f == nil {
		return fallback
	}
	return int(*f)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
