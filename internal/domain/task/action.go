package task

import "context"

// Kind names an action on the wire.
type Kind string

const (
	KindGlob         Kind = "glob"
	KindReadFile     Kind = "readFile"
	KindWriteFile    Kind = "writeFile"
	KindReplaceLines Kind = "replaceLines"
	KindRunCommand   Kind = "runCommand"
	KindFinish       Kind = "finish"
	KindInvalid      Kind = "invalid"
)

// Action is one structured operation requested by the model. The set of
// implementations is closed: each one routes itself to the matching
// dispatcher method, so adding a kind without a handler fails to compile.
type Action interface {
	Kind() Kind
	dispatch(ctx context.Context, d dispatcher) (outcome, error)
}

// dispatcher has one method per action kind.
type dispatcher interface {
	glob(ctx context.Context, a Glob) (outcome, error)
	readFile(ctx context.Context, a ReadFile) (outcome, error)
	writeFile(ctx context.Context, a WriteFile) (outcome, error)
	replaceLines(ctx context.Context, a ReplaceLines) (outcome, error)
	runCommand(ctx context.Context, a RunCommand) (outcome, error)
	finish(ctx context.Context, a Finish) (outcome, error)
	invalid(ctx context.Context, a Invalid) (outcome, error)
}

// outcome is what a handler reports back to the loop.
type outcome struct {
	text     string
	status   string // ok, error, denied, approval
	finished bool
	summary  string
}

// Glob lists workspace files matching Pattern.
type Glob struct {
	Pattern string
	Limit   int
}

// ReadFile returns up to MaxChars characters of Path with line numbers.
type ReadFile struct {
	Path     string
	MaxChars int
}

// WriteFile replaces the whole content of Path.
type WriteFile struct {
	Path    string
	Content string
}

// ReplaceLines splices NewText in place of the 1-based inclusive range
// [StartLine, EndLine] of Path.
type ReplaceLines struct {
	Path      string
	StartLine int
	EndLine   int
	NewText   string
}

// RunCommand executes Command, optionally in the workspace-relative Cwd.
type RunCommand struct {
	Command string
	Cwd     string
}

// Finish ends the task successfully.
type Finish struct {
	Summary string
}

// Invalid is a malformed action object. It is reported back to the model
// rather than failing the task.
type Invalid struct {
	Type   string
	Reason string
}

func (Glob) Kind() Kind         { return KindGlob }
func (ReadFile) Kind() Kind     { return KindReadFile }
func (WriteFile) Kind() Kind    { return KindWriteFile }
func (ReplaceLines) Kind() Kind { return KindReplaceLines }
func (RunCommand) Kind() Kind   { return KindRunCommand }
func (Finish) Kind() Kind       { return KindFinish }
func (Invalid) Kind() Kind      { return KindInvalid }

func (a Glob) dispatch(ctx context.Context, d dispatcher) (outcome, error) { return d.glob(ctx, a) }
func (a ReadFile) dispatch(ctx context.Context, d dispatcher) (outcome, error) {
	return d.readFile(ctx, a)
}
func (a WriteFile) dispatch(ctx context.Context, d dispatcher) (outcome, error) {
	return d.writeFile(ctx, a)
}
func (a ReplaceLines) dispatch(ctx context.Context, d dispatcher) (outcome, error) {
	return d.replaceLines(ctx, a)
}
func (a RunCommand) dispatch(ctx context.Context, d dispatcher) (outcome, error) {
	return d.runCommand(ctx, a)
}
func (a Finish) dispatch(ctx context.Context, d dispatcher) (outcome, error) { return d.finish(ctx, a) }
func (a Invalid) dispatch(ctx context.Context, d dispatcher) (outcome, error) {
	return d.invalid(ctx, a)
}
