package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"warden/internal/domain/policy"
	"warden/internal/domain/ports"
	"warden/internal/shared/logging"
	id "warden/internal/shared/utils/id"

	"go.opentelemetry.io/otel/attribute"
)

// DefaultMaxTurns bounds the think/dispatch cycles of one run.
const DefaultMaxTurns = 20

// Config wires an Agent to its collaborators.
type Config struct {
	LLM  ports.LLMClient
	Host ports.Host
	// Policy is read on every check and mutated by allow-always approvals.
	// It may outlive the Agent.
	Policy *policy.ExecutionPolicyConfig
	// Approver resolves commands that need approval. Without one those
	// commands are denied.
	Approver ports.Approver
	// SaveConfig persists Policy after an allow-always approval.
	SaveConfig func(ctx context.Context, cfg *policy.ExecutionPolicyConfig) error
	// DiffStats reports added and removed lines for an edit. Optional.
	DiffStats func(before, after string) (added, removed int)

	Logger   logging.Logger
	Recorder Recorder

	MaxTurns int
	// MaxParseFailures ends the run after that many consecutive unusable
	// replies. Zero leaves parse failures bounded only by MaxTurns.
	MaxParseFailures int
	// Instructions are appended to the system prompt.
	Instructions string
	ChatOptions  ports.ChatOptions
	RunID        string
}

// Agent executes exactly one Request. Construct a new Agent per task.
type Agent struct {
	cfg      Config
	logger   logging.Logger
	recorder Recorder
	runID    string
	executed atomic.Bool

	snapshot     *snapshot
	filesChanged map[string]struct{}
	commandsRun  []CommandRecord
	transcript   []string
}

// NewAgent validates the collaborators and returns a ready Agent.
func NewAgent(cfg Config) (*Agent, error) {
	if cfg.LLM == nil {
		return nil, ErrMissingLLM
	}
	if cfg.Host == nil {
		return nil, ErrMissingHost
	}
	if cfg.Policy == nil {
		return nil, ErrMissingConfig
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.MaxParseFailures < 0 {
		cfg.MaxParseFailures = 0
	}
	runID := strings.TrimSpace(cfg.RunID)
	if runID == "" {
		runID = id.NewRunID()
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Agent{
		cfg:          cfg,
		logger:       logging.OrNop(cfg.Logger),
		recorder:     recorder,
		runID:        runID,
		snapshot:     newSnapshot(),
		filesChanged: make(map[string]struct{}),
	}, nil
}

// RunID identifies this run in logs, traces and the run ledger.
func (a *Agent) RunID() string {
	return a.runID
}

// Execute runs the task to completion. It returns a Result for every
// designed outcome, including a failed run. Errors are returned only for
// ErrAborted, context cancellation and a repeated call; the partial Result
// is still populated in the first two cases.
func (a *Agent) Execute(ctx context.Context, req Request) (result Result, err error) {
	if a.executed.Swap(true) {
		return Result{}, ErrAlreadyExecuted
	}

	started := time.Now()
	ctx, span := a.startSpan(ctx, traceSpanRun, attribute.String(traceAttrModel, a.cfg.LLM.Model()))
	defer func() {
		result.Duration = time.Since(started)
		a.recorder.RunFinished(result.Status, result.Reason, result.Turns, result.Duration)
		markSpanResult(span, err)
		span.End()
	}()

	a.logger.Info("Starting task %q (run_id=%s, max_turns=%d)", req.Title, a.runID, a.cfg.MaxTurns)

	state := &loopState{
		messages: []ports.Message{
			{Role: ports.RoleSystem, Content: buildSystemPrompt(a.cfg.Instructions)},
			{Role: ports.RoleUser, Content: buildUserPrompt(req, a.cfg.Host.Root())},
		},
	}

	for turn := 1; turn <= a.cfg.MaxTurns; turn++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return a.fail(ctx, turn-1, TerminationCancelled, "Task cancelled"), ctxErr
		}
		a.logger.Info("=== Turn %d/%d ===", turn, a.cfg.MaxTurns)

		turnCtx, turnSpan := a.startSpan(ctx, traceSpanTurn, attribute.Int(traceAttrTurn, turn))
		res, done, turnErr := a.runTurn(turnCtx, turn, state)
		markSpanResult(turnSpan, turnErr)
		turnSpan.End()
		if done {
			return res, turnErr
		}
	}

	summary := fmt.Sprintf("Reached the step limit of %d turns without finishing", a.cfg.MaxTurns)
	return a.fail(ctx, a.cfg.MaxTurns, TerminationMaxTurns, summary), nil
}

// loopState is the conversation carried between turns.
type loopState struct {
	messages      []ports.Message
	parseFailures int
}

// runTurn performs one model exchange and dispatches its actions. done is
// true when the run ended during the turn.
func (a *Agent) runTurn(ctx context.Context, turn int, state *loopState) (Result, bool, error) {
	reply, chatErr := a.chat(ctx, state.messages, turn)
	if chatErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return a.fail(ctx, turn, TerminationCancelled, "Task cancelled"), true, ctxErr
		}
		a.logger.Error("LLM call failed on turn %d: %v", turn, chatErr)
		return a.fail(ctx, turn, TerminationProviderError, fmt.Sprintf("Model request failed: %v", chatErr)), true, nil
	}
	state.messages = append(state.messages, ports.Message{Role: ports.RoleAssistant, Content: reply})

	actions, parseErr := ParseActions(reply)
	if parseErr == nil && len(actions) == 0 {
		parseErr = errors.New("the actions array is empty")
	}
	if parseErr != nil {
		state.parseFailures++
		a.logger.Warn("Unusable reply on turn %d (%d consecutive): %v", turn, state.parseFailures, parseErr)
		a.transcript = append(a.transcript, fmt.Sprintf("parse error: %v", parseErr))
		if a.cfg.MaxParseFailures > 0 && state.parseFailures >= a.cfg.MaxParseFailures {
			summary := fmt.Sprintf("Stopped after %d consecutive unusable replies", state.parseFailures)
			return a.fail(ctx, turn, TerminationParseFailures, summary), true, nil
		}
		state.messages = append(state.messages, ports.Message{Role: ports.RoleUser, Content: buildCorrectivePrompt(parseErr)})
		return Result{}, false, nil
	}
	state.parseFailures = 0

	results := make([]string, 0, len(actions))
	for _, action := range actions {
		out, dispatchErr := a.dispatchAction(ctx, turn, action)
		if errors.Is(dispatchErr, ErrAborted) {
			a.transcript = append(a.transcript, out.text)
			res := a.fail(ctx, turn, TerminationAborted, "Task aborted by user")
			res.Status = StatusAborted
			return res, true, ErrAborted
		}
		if dispatchErr != nil {
			return a.fail(ctx, turn, TerminationCancelled, "Task cancelled"), true, dispatchErr
		}
		results = append(results, out.text)
		a.transcript = append(a.transcript, out.text)
		if out.finished {
			if len(results) < len(actions) {
				a.logger.Debug("Ignoring %d action(s) after finish", len(actions)-len(results))
			}
			return a.succeed(turn, out.summary), true, nil
		}
	}
	state.messages = append(state.messages, ports.Message{Role: ports.RoleUser, Content: formatTurnResults(results)})
	return Result{}, false, nil
}

func (a *Agent) chat(ctx context.Context, messages []ports.Message, turn int) (string, error) {
	ctx, span := a.startSpan(ctx, traceSpanChat, attribute.Int(traceAttrTurn, turn))
	defer span.End()

	opts := a.cfg.ChatOptions
	if opts.RequestID == "" {
		opts.RequestID = id.NewRequestIDWithLogID(a.runID)
	}
	a.logger.Debug("Sending %d messages to %s (request_id=%s)", len(messages), a.cfg.LLM.Model(), opts.RequestID)
	reply, err := a.cfg.LLM.Chat(ctx, messages, opts)
	markSpanResult(span, err)
	return reply, err
}

func (a *Agent) dispatchAction(ctx context.Context, turn int, action Action) (outcome, error) {
	ctx, span := a.startSpan(ctx, traceSpanAction,
		attribute.Int(traceAttrTurn, turn),
		attribute.String(traceAttrKind, string(action.Kind())),
	)
	defer span.End()

	out, err := action.dispatch(ctx, a)
	if err == nil {
		err = ctx.Err()
	}
	markSpanResult(span, err)
	a.recorder.ActionDispatched(action.Kind(), out.status)
	a.logger.Debug("Action %s finished with status %s", action.Kind(), out.status)
	return out, err
}

func (a *Agent) succeed(turns int, summary string) Result {
	a.logger.Info("Task finished after %d turn(s): %s", turns, summary)
	// Edits are kept; the snapshot is only needed for rollback.
	a.snapshot = newSnapshot()
	return a.result(true, StatusCompleted, TerminationFinished, turns, summary)
}

// fail rolls back every snapshotted file and builds a failed Result.
func (a *Agent) fail(ctx context.Context, turns int, reason TerminationReason, summary string) Result {
	captured := a.snapshot.len()
	restored, failed := a.snapshot.restore(ctx, a.cfg.Host, a.logger)
	if captured > 0 {
		summary = fmt.Sprintf("%s; reverted %d of %d changed file(s)", summary, restored, captured)
	} else {
		summary += "; no files were changed"
	}
	if failed > 0 {
		a.logger.Warn("Rollback left %d file(s) unrestored", failed)
	}
	a.logger.Warn("Task failed (%s): %s", reason, summary)

	res := a.result(false, StatusFailed, reason, turns, summary)
	res.Reverted = restored
	return res
}

func (a *Agent) result(ok bool, status Status, reason TerminationReason, turns int, summary string) Result {
	files := make([]string, 0, len(a.filesChanged))
	for path := range a.filesChanged {
		files = append(files, path)
	}
	sort.Strings(files)
	return Result{
		OK:           ok,
		Summary:      summary,
		FilesChanged: files,
		CommandsRun:  append([]CommandRecord(nil), a.commandsRun...),
		Status:       status,
		Reason:       reason,
		Turns:        turns,
		Transcript:   append([]string(nil), a.transcript...),
	}
}
