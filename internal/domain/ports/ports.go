// Package ports declares the collaborators the task agent depends on: the
// execution host, the language model, and the human approval gate.
package ports

import (
	"context"
	"errors"
)

// Message roles understood by chat providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions carries per-request generation settings.
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
	RequestID   string
}

// LLMClient is an opaque text generator: messages in, reply text out.
type LLMClient interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
	Model() string
}

// CommandResult is the outcome of a spawned command.
type CommandResult struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// ErrOutsideWorkspace is returned by hosts when a path resolves outside the workspace root.
var ErrOutsideWorkspace = errors.New("path resolves outside the workspace root")

// Host provides primitive file and process capabilities confined to a
// workspace root. All paths are workspace-relative.
type Host interface {
	Root() string
	ReadTextFile(ctx context.Context, relPath string) (string, error)
	// WriteTextFile creates parent directories as needed.
	WriteTextFile(ctx context.Context, relPath, content string) error
	FileExists(ctx context.Context, relPath string) (bool, error)
	// Glob returns at most limit workspace-relative paths, skipping VCS,
	// build and dependency directories.
	Glob(ctx context.Context, pattern string, limit int) ([]string, error)
	RunCommand(ctx context.Context, command, cwd string) (CommandResult, error)
}

// FileRemover is implemented by hosts that can delete files. Rollback uses it
// to remove files that did not exist before the run.
type FileRemover interface {
	RemoveFile(ctx context.Context, relPath string) error
}

// ApprovalOutcome is the human decision for a gated command.
type ApprovalOutcome int

const (
	ApprovalDeny ApprovalOutcome = iota
	ApprovalAllowOnce
	ApprovalAllowAlways
	ApprovalAbort
)

func (o ApprovalOutcome) String() string {
	switch o {
	case ApprovalAllowOnce:
		return "allow_once"
	case ApprovalAllowAlways:
		return "allow_always"
	case ApprovalAbort:
		return "abort"
	default:
		return "deny"
	}
}

// ParseApprovalOutcome maps CLI spellings onto an outcome.
func ParseApprovalOutcome(raw string) (ApprovalOutcome, bool) {
	switch raw {
	case "deny", "no", "n":
		return ApprovalDeny, true
	case "once", "allow_once", "allowOnce", "yes", "y":
		return ApprovalAllowOnce, true
	case "always", "allow_always", "allowAlways":
		return ApprovalAllowAlways, true
	case "abort", "quit", "q":
		return ApprovalAbort, true
	default:
		return ApprovalDeny, false
	}
}

// ApprovalRequest describes a command that policy could not decide on its own.
type ApprovalRequest struct {
	Command string
	Reason  string
}

// Approver resolves requires-approval decisions.
type Approver interface {
	ApproveCommand(ctx context.Context, req ApprovalRequest) (ApprovalOutcome, error)
}
