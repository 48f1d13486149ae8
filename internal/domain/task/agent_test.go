package task

import (
	"context"
	"errors"
	"strings"
	"testing"

	"warden/internal/domain/policy"
	"warden/internal/domain/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestAgent(t *testing.T, cfg Config) *Agent {
	t.Helper()
	agent, err := NewAgent(cfg)
	require.NoError(t, err)
	return agent
}

func TestNewAgentRequiresCollaborators(t *testing.T) {
	host := newMemHost(nil)
	llm := &scriptedLLM{}
	cfg := defaultPolicy()

	_, err := NewAgent(Config{Host: host, Policy: cfg})
	assert.ErrorIs(t, err, ErrMissingLLM)
	_, err = NewAgent(Config{LLM: llm, Policy: cfg})
	assert.ErrorIs(t, err, ErrMissingHost)
	_, err = NewAgent(Config{LLM: llm, Host: host})
	assert.ErrorIs(t, err, ErrMissingConfig)
}

func TestExecuteReplaceLinesThenFinish(t *testing.T) {
	host := newMemHost(map[string]string{"notes.txt": "a\nb\nc\n"})
	llm := &scriptedLLM{replies: []string{batch(
		`{"type": "replaceLines", "path": "notes.txt", "startLine": 2, "endLine": 2, "newText": "B"}`,
		`{"type": "finish", "summary": "capitalized b"}`,
	)}}
	agent := newTestAgent(t, Config{LLM: llm, Host: host, Policy: defaultPolicy()})

	res, err := agent.Execute(context.Background(), Request{Title: "capitalize"})
	require.NoError(t, err)

	content, _ := host.file("notes.txt")
	assert.Equal(t, "a\nB\nc\n", content)
	assert.True(t, res.OK)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "capitalized b", res.Summary)
	assert.Equal(t, []string{"notes.txt"}, res.FilesChanged)
	assert.Empty(t, res.CommandsRun)
	assert.Equal(t, 1, res.Turns)
}

func TestExecuteRevertsWhenTurnBudgetIsExhausted(t *testing.T) {
	host := newMemHost(map[string]string{"main.go": "package main\n"})
	llm := &scriptedLLM{replies: []string{
		batch(`{"type": "writeFile", "path": "main.go", "content": "broken"}`),
		batch(`{"type": "writeFile", "path": "new.go", "content": "package main"}`),
		batch(`{"type": "glob", "pattern": "*.go"}`),
	}}
	agent := newTestAgent(t, Config{LLM: llm, Host: host, Policy: defaultPolicy(), MaxTurns: 3})

	res, err := agent.Execute(context.Background(), Request{Title: "never finishes"})
	require.NoError(t, err)

	content, _ := host.file("main.go")
	assert.Equal(t, "package main\n", content)
	_, exists := host.file("new.go")
	assert.False(t, exists, "files created during a failed run are removed")
	assert.False(t, res.OK)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, TerminationMaxTurns, res.Reason)
	assert.Contains(t, res.Summary, "step limit")
	assert.Contains(t, res.Summary, "reverted 2 of 2")
	assert.Equal(t, 2, res.Reverted)
	assert.Len(t, llm.calls, 3)
}

func TestExecuteSnapshotKeepsFirstOriginal(t *testing.T) {
	host := newMemHost(map[string]string{"a.txt": "original\n"})
	llm := &scriptedLLM{replies: []string{
		batch(
			`{"type": "writeFile", "path": "a.txt", "content": "first\n"}`,
			`{"type": "writeFile", "path": "a.txt", "content": "second\n"}`,
		),
		batch(`{"type": "replaceLines", "path": "a.txt", "startLine": 1, "endLine": 1, "newText": "third"}`),
	}}
	agent := newTestAgent(t, Config{LLM: llm, Host: host, Policy: defaultPolicy(), MaxTurns: 2})

	res, err := agent.Execute(context.Background(), Request{Title: "edit twice"})
	require.NoError(t, err)
	assert.False(t, res.OK)

	content, _ := host.file("a.txt")
	assert.Equal(t, "original\n", content)
}

func TestExecuteApprovalDenyNeverRunsCommand(t *testing.T) {
	host := newMemHost(nil)
	approver := &stubApprover{outcome: ports.ApprovalDeny}
	llm := &scriptedLLM{replies: []string{
		batch(`{"type": "runCommand", "command": "npm test"}`),
		batch(`{"type": "finish", "summary": "gave up on tests"}`),
	}}
	agent := newTestAgent(t, Config{LLM: llm, Host: host, Policy: defaultPolicy(), Approver: approver})

	res, err := agent.Execute(context.Background(), Request{Title: "test"})
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.Empty(t, host.commands)
	assert.Empty(t, res.CommandsRun)
	require.Len(t, approver.requests, 1)
	assert.Equal(t, "npm test", approver.requests[0].Command)
	require.NotEmpty(t, res.Transcript)
	assert.Contains(t, res.Transcript[0], "denied by user")
	assert.Contains(t, llm.lastUserMessage(), "denied by user")
}

func TestExecuteWithoutApproverDeniesGatedCommands(t *testing.T) {
	host := newMemHost(nil)
	llm := &scriptedLLM{replies: []string{
		batch(`{"type": "runCommand", "command": "make lint"}`, `{"type": "finish"}`),
	}}
	agent := newTestAgent(t, Config{LLM: llm, Host: host, Policy: defaultPolicy()})

	res, err := agent.Execute(context.Background(), Request{Title: "lint"})
	require.NoError(t, err)
	assert.Empty(t, host.commands)
	assert.Contains(t, res.Transcript[0], "no approval mechanism available")
	assert.Equal(t, defaultFinishSummary, res.Summary)
}

func TestExecuteDangerousCommandIsDeniedWithoutAsking(t *testing.T) {
	host := newMemHost(nil)
	approver := &stubApprover{outcome: ports.ApprovalAllowOnce}
	llm := &scriptedLLM{replies: []string{
		batch(`{"type": "runCommand", "command": "rm -rf /"}`, `{"type": "finish", "summary": "done"}`),
	}}
	agent := newTestAgent(t, Config{LLM: llm, Host: host, Policy: defaultPolicy(), Approver: approver})

	res, err := agent.Execute(context.Background(), Request{Title: "cleanup"})
	require.NoError(t, err)
	assert.Empty(t, host.commands)
	assert.Empty(t, approver.requests)
	assert.Contains(t, res.Transcript[0], "denied")
}

func TestExecuteAllowAlwaysPersistsCommand(t *testing.T) {
	host := newMemHost(nil)
	host.results["go test ./..."] = ports.CommandResult{ExitCode: 1, Stderr: "FAIL\n"}
	approver := &stubApprover{outcome: ports.ApprovalAllowAlways}
	cfg := defaultPolicy()
	var saved []string
	llm := &scriptedLLM{replies: []string{
		batch(`{"type": "runCommand", "command": "go   test ./..."}`),
		batch(`{"type": "runCommand", "command": "go test ./..."}`, `{"type": "finish", "summary": "ran tests"}`),
	}}
	agent := newTestAgent(t, Config{
		LLM:      llm,
		Host:     host,
		Policy:   cfg,
		Approver: approver,
		SaveConfig: func(_ context.Context, c *policy.ExecutionPolicyConfig) error {
			saved = append([]string(nil), c.AllowedCommands...)
			return nil
		},
	})

	res, err := agent.Execute(context.Background(), Request{Title: "tests"})
	require.NoError(t, err)

	assert.Equal(t, []string{"go test ./..."}, cfg.AllowedCommands)
	assert.Equal(t, []string{"go test ./..."}, saved)
	assert.Len(t, approver.requests, 1, "second run is allowed by the updated list")
	assert.Equal(t, []CommandRecord{
		{Command: "go   test ./...", ExitCode: 0},
		{Command: "go test ./...", ExitCode: 1},
	}, res.CommandsRun)
	assert.Contains(t, res.Transcript[1], "exit code 1")
	assert.Contains(t, res.Transcript[1], "stderr:\nFAIL")
}

func TestExecuteSaveFailureDoesNotFailRun(t *testing.T) {
	host := newMemHost(nil)
	llm := &scriptedLLM{replies: []string{
		batch(`{"type": "runCommand", "command": "make"}`, `{"type": "finish", "summary": "built"}`),
	}}
	agent := newTestAgent(t, Config{
		LLM:      llm,
		Host:     host,
		Policy:   defaultPolicy(),
		Approver: &stubApprover{outcome: ports.ApprovalAllowAlways},
		SaveConfig: func(context.Context, *policy.ExecutionPolicyConfig) error {
			return errors.New("disk full")
		},
	})

	res, err := agent.Execute(context.Background(), Request{Title: "build"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, []string{"make"}, host.commands)
}

func TestExecuteAbortRevertsAndReturnsErrAborted(t *testing.T) {
	host := newMemHost(map[string]string{"app.py": "print('hi')\n"})
	llm := &scriptedLLM{replies: []string{batch(
		`{"type": "writeFile", "path": "app.py", "content": "print('bye')\n"}`,
		`{"type": "runCommand", "command": "python app.py"}`,
		`{"type": "finish", "summary": "unreachable"}`,
	)}}
	agent := newTestAgent(t, Config{
		LLM:      llm,
		Host:     host,
		Policy:   defaultPolicy(),
		Approver: &stubApprover{outcome: ports.ApprovalAbort},
	})

	res, err := agent.Execute(context.Background(), Request{Title: "abort me"})
	require.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, StatusAborted, res.Status)
	assert.False(t, res.OK)
	assert.Empty(t, host.commands)

	content, _ := host.file("app.py")
	assert.Equal(t, "print('hi')\n", content)
}

func TestExecuteMalformedReplyConsumesTurnAndCorrects(t *testing.T) {
	host := newMemHost(nil)
	llm := &scriptedLLM{replies: []string{
		"I think we should look at the code first.",
		`{"plan": "no actions key"}`,
		"```json\n" + batch(`{"type": "finish", "summary": "done"}`) + "\n```",
	}}
	agent := newTestAgent(t, Config{LLM: llm, Host: host, Policy: defaultPolicy()})

	res, err := agent.Execute(context.Background(), Request{Title: "recover"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 3, res.Turns)
	require.Len(t, llm.calls, 3)

	second := llm.calls[1]
	assert.Contains(t, second[len(second)-1].Content, "could not be used")
	third := llm.calls[2]
	assert.Contains(t, third[len(third)-1].Content, "actions")
}

func TestExecuteParseFailureCapEndsRunEarly(t *testing.T) {
	host := newMemHost(map[string]string{"a.txt": "x\n"})
	llm := &scriptedLLM{replies: []string{
		batch(`{"type": "writeFile", "path": "a.txt", "content": "y\n"}`),
		"not json",
	}}
	agent := newTestAgent(t, Config{LLM: llm, Host: host, Policy: defaultPolicy(), MaxParseFailures: 2})

	res, err := agent.Execute(context.Background(), Request{Title: "garbage"})
	require.NoError(t, err)
	assert.Equal(t, TerminationParseFailures, res.Reason)
	assert.Equal(t, 3, res.Turns)

	content, _ := host.file("a.txt")
	assert.Equal(t, "x\n", content)
}

func TestExecutePathPolicyBlocksWrites(t *testing.T) {
	host := newMemHost(nil)
	cfg := defaultPolicy()
	cfg.AllowedPathGlobs = []string{"src/**"}
	llm := &scriptedLLM{replies: []string{batch(
		`{"type": "writeFile", "path": ".env", "content": "SECRET=1"}`,
		`{"type": "writeFile", "path": "../outside.txt", "content": "x"}`,
		`{"type": "writeFile", "path": "docs/readme.md", "content": "x"}`,
		`{"type": "writeFile", "path": "src/ok.txt", "content": "x"}`,
		`{"type": "finish", "summary": "done"}`,
	)}}
	recorder := newCountingRecorder()
	agent := newTestAgent(t, Config{LLM: llm, Host: host, Policy: cfg, Recorder: recorder})

	res, err := agent.Execute(context.Background(), Request{Title: "writes"})
	require.NoError(t, err)

	_, wrote := host.file(".env")
	assert.False(t, wrote)
	_, wrote = host.file("docs/readme.md")
	assert.False(t, wrote)
	assert.Equal(t, []string{"src/ok.txt"}, res.FilesChanged)

	assert.Contains(t, res.Transcript[0], "deny-list")
	assert.Contains(t, res.Transcript[1], "escapes the workspace root")
	assert.Contains(t, res.Transcript[2], "approval required")
	assert.Equal(t, 2, recorder.decisions["path/denied"])
	assert.Equal(t, 1, recorder.decisions["path/approval"])
	assert.Equal(t, []Status{StatusCompleted}, recorder.runs)
}

func TestExecuteReadAndGlobResults(t *testing.T) {
	host := newMemHost(map[string]string{
		"cmd/main.go":   "package main\n\nfunc main() {}\n",
		"pkg/util.go":   "package pkg\n",
		"pkg/readme.md": "docs\n",
	})
	llm := &scriptedLLM{replies: []string{
		batch(
			`{"type": "glob", "pattern": "**/*.go", "limit": "10"}`,
			`{"type": "readFile", "path": "cmd/main.go"}`,
			`{"type": "readFile", "path": "missing.go"}`,
			`{"type": "explode"}`,
		),
		batch(`{"type": "finish", "summary": "read"}`),
	}}
	agent := newTestAgent(t, Config{LLM: llm, Host: host, Policy: defaultPolicy()})

	res, err := agent.Execute(context.Background(), Request{Title: "read"})
	require.NoError(t, err)
	require.Len(t, res.Transcript, 5)

	assert.Equal(t, "glob \"**/*.go\": 2 match(es)\ncmd/main.go\npkg/util.go", res.Transcript[0])
	assert.Contains(t, res.Transcript[1], "1| package main")
	assert.Contains(t, res.Transcript[1], "3| func main() {}")
	assert.Contains(t, res.Transcript[2], "file not found")
	assert.Contains(t, res.Transcript[3], `unknown action type "explode"`)
	assert.True(t, strings.HasPrefix(llm.lastUserMessage(), "Action results:"))
}

func TestExecuteReadFileTruncates(t *testing.T) {
	long := strings.Repeat("x", 3000)
	host := newMemHost(map[string]string{"big.txt": long})
	llm := &scriptedLLM{replies: []string{batch(
		`{"type": "readFile", "path": "big.txt", "maxChars": 5}`,
		`{"type": "finish", "summary": "ok"}`,
	)}}
	agent := newTestAgent(t, Config{LLM: llm, Host: host, Policy: defaultPolicy()})

	res, err := agent.Execute(context.Background(), Request{Title: "big"})
	require.NoError(t, err)
	assert.Contains(t, res.Transcript[0], "truncated after 1000 characters; file has 3000")
}

func TestExecuteProviderErrorFailsWithoutError(t *testing.T) {
	host := newMemHost(nil)
	llm := &scriptedLLM{err: errors.New("503 service unavailable")}
	agent := newTestAgent(t, Config{LLM: llm, Host: host, Policy: defaultPolicy()})

	res, err := agent.Execute(context.Background(), Request{Title: "offline"})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, TerminationProviderError, res.Reason)
	assert.Contains(t, res.Summary, "503")
}

func TestExecuteCancelledContext(t *testing.T) {
	host := newMemHost(nil)
	llm := &scriptedLLM{replies: []string{batch(`{"type": "finish"}`)}}
	agent := newTestAgent(t, Config{LLM: llm, Host: host, Policy: defaultPolicy()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := agent.Execute(ctx, Request{Title: "cancelled"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, TerminationCancelled, res.Reason)
	assert.Empty(t, llm.calls)
}

func TestExecuteIsSingleUse(t *testing.T) {
	llm := &scriptedLLM{replies: []string{batch(`{"type": "finish", "summary": "ok"}`)}}
	agent := newTestAgent(t, Config{LLM: llm, Host: newMemHost(nil), Policy: defaultPolicy()})

	_, err := agent.Execute(context.Background(), Request{Title: "once"})
	require.NoError(t, err)
	_, err = agent.Execute(context.Background(), Request{Title: "twice"})
	assert.ErrorIs(t, err, ErrAlreadyExecuted)
}

func TestExecuteReportsDiffStatsAndInstructions(t *testing.T) {
	host := newMemHost(map[string]string{"a.txt": "one\ntwo\n"})
	llm := &scriptedLLM{replies: []string{batch(
		`{"type": "writeFile", "path": "a.txt", "content": "one\n2\n3\n"}`,
		`{"type": "finish", "summary": "ok"}`,
	)}}
	agent := newTestAgent(t, Config{
		LLM:          llm,
		Host:         host,
		Policy:       defaultPolicy(),
		Instructions: "Always write tests.",
		DiffStats:    func(before, after string) (int, int) { return 2, 1 },
	})

	res, err := agent.Execute(context.Background(), Request{
		Title:         "stats",
		Description:   "rewrite",
		AffectedFiles: []string{"a.txt"},
	})
	require.NoError(t, err)
	assert.Equal(t, "writeFile a.txt: updated (+2 -1)", res.Transcript[0])

	first := llm.calls[0]
	assert.Contains(t, first[0].Content, "Always write tests.")
	assert.Contains(t, first[1].Content, "- a.txt")
	assert.Contains(t, first[1].Content, "Workspace root: /workspace")
}

func TestExecuteEmitsRunTurnAndActionSpans(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})

	host := newMemHost(map[string]string{"a.txt": "x\n"})
	llm := &scriptedLLM{replies: []string{
		batch(`{"type": "readFile", "path": "a.txt"}`),
		batch(`{"type": "finish", "summary": "read it"}`),
	}}
	agent := newTestAgent(t, Config{LLM: llm, Host: host, Policy: defaultPolicy()})

	_, err := agent.Execute(context.Background(), Request{Title: "read"})
	require.NoError(t, err)

	counts := map[string]int{}
	parents := map[string]string{}
	names := map[string]string{}
	for _, span := range spans.Ended() {
		counts[span.Name()]++
		names[span.SpanContext().SpanID().String()] = span.Name()
	}
	for _, span := range spans.Ended() {
		parents[span.Name()] = names[span.Parent().SpanID().String()]
	}
	assert.Equal(t, 1, counts[traceSpanRun])
	assert.Equal(t, 2, counts[traceSpanTurn])
	assert.Equal(t, 2, counts[traceSpanChat])
	assert.Equal(t, 2, counts[traceSpanAction])
	assert.Equal(t, traceSpanRun, parents[traceSpanTurn])
	assert.Equal(t, traceSpanTurn, parents[traceSpanChat])
	assert.Equal(t, traceSpanTurn, parents[traceSpanAction])
}

func TestExecuteCannotRewriteWorkspacePolicy(t *testing.T) {
	original := `{"version": 1, "execution": {"policy": "conservative"}}`
	host := newMemHost(map[string]string{".warden/agents.json": original})
	cfg := defaultPolicy()
	cfg.Policy = policy.Unrestricted
	llm := &scriptedLLM{replies: []string{batch(
		`{"type": "writeFile", "path": ".warden/agents.json", "content": "{\"version\": 1, \"execution\": {\"policy\": \"unrestricted\", \"allowDangerous\": true}}"}`,
		`{"type": "replaceLines", "path": ".warden/agents.json", "startLine": 1, "endLine": 1, "newText": "{}"}`,
		`{"type": "finish", "summary": "loosened policy"}`,
	)}}
	agent := newTestAgent(t, Config{LLM: llm, Host: host, Policy: cfg})

	res, err := agent.Execute(context.Background(), Request{Title: "loosen"})
	require.NoError(t, err)

	content, _ := host.file(".warden/agents.json")
	assert.Equal(t, original, content)
	assert.Empty(t, res.FilesChanged)
	assert.Contains(t, res.Transcript[0], "protected")
	assert.Contains(t, res.Transcript[1], "protected")
}
