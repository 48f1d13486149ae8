package task

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"warden/internal/domain/policy"
	"warden/internal/domain/ports"

	"github.com/bmatcuk/doublestar/v4"
)

type memHost struct {
	mu       sync.Mutex
	files    map[string]string
	commands []string
	results  map[string]ports.CommandResult
	writeErr map[string]error
}

func newMemHost(files map[string]string) *memHost {
	if files == nil {
		files = map[string]string{}
	}
	return &memHost{files: files, results: map[string]ports.CommandResult{}, writeErr: map[string]error{}}
}

func (h *memHost) Root() string { return "/workspace" }

func (h *memHost) ReadTextFile(_ context.Context, rel string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	content, ok := h.files[rel]
	if !ok {
		return "", errors.New("no such file")
	}
	return content, nil
}

func (h *memHost) WriteTextFile(_ context.Context, rel, content string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.writeErr[rel]; err != nil {
		return err
	}
	h.files[rel] = content
	return nil
}

func (h *memHost) FileExists(_ context.Context, rel string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.files[rel]
	return ok, nil
}

func (h *memHost) Glob(_ context.Context, pattern string, limit int) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for path := range h.files {
		if ok, _ := doublestar.Match(pattern, path); ok {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (h *memHost) RunCommand(_ context.Context, command, _ string) (ports.CommandResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, command)
	if res, ok := h.results[command]; ok {
		return res, nil
	}
	return ports.CommandResult{Stdout: "ok\n"}, nil
}

func (h *memHost) RemoveFile(_ context.Context, rel string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.files, rel)
	return nil
}

func (h *memHost) file(rel string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	content, ok := h.files[rel]
	return content, ok
}

// scriptedLLM replays replies in order and then repeats the last one.
type scriptedLLM struct {
	replies []string
	err     error
	calls   [][]ports.Message
}

func (s *scriptedLLM) Model() string { return "scripted" }

func (s *scriptedLLM) Chat(ctx context.Context, messages []ports.Message, _ ports.ChatOptions) (string, error) {
	s.calls = append(s.calls, append([]ports.Message(nil), messages...))
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", errors.New("script exhausted")
	}
	idx := len(s.calls) - 1
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	return s.replies[idx], nil
}

func (s *scriptedLLM) lastUserMessage() string {
	if len(s.calls) == 0 {
		return ""
	}
	msgs := s.calls[len(s.calls)-1]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == ports.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

type stubApprover struct {
	outcome  ports.ApprovalOutcome
	err      error
	requests []ports.ApprovalRequest
}

func (s *stubApprover) ApproveCommand(_ context.Context, req ports.ApprovalRequest) (ports.ApprovalOutcome, error) {
	s.requests = append(s.requests, req)
	return s.outcome, s.err
}

type countingRecorder struct {
	mu        sync.Mutex
	runs      []Status
	actions   map[string]int
	decisions map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{actions: map[string]int{}, decisions: map[string]int{}}
}

func (r *countingRecorder) RunFinished(status Status, _ TerminationReason, _ int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, status)
}

func (r *countingRecorder) ActionDispatched(kind Kind, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[string(kind)+"/"+status]++
}

func (r *countingRecorder) PolicyDecision(subject, verdict string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[subject+"/"+verdict]++
}

func defaultPolicy() *policy.ExecutionPolicyConfig {
	cfg := policy.Default()
	return &cfg
}

func batch(actions ...string) string {
	return `{"actions": [` + strings.Join(actions, ",") + `]}`
}
