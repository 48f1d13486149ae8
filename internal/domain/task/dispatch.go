package task

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"warden/internal/domain/policy"
	"warden/internal/domain/ports"
)

const (
	statusOK       = "ok"
	statusError    = "error"
	statusDenied   = "denied"
	statusApproval = "approval"
	statusFinished = "finished"
)

func okOutcome(format string, args ...any) outcome {
	return outcome{text: fmt.Sprintf(format, args...), status: statusOK}
}

func errorOutcome(format string, args ...any) outcome {
	return outcome{text: fmt.Sprintf(format, args...), status: statusError}
}

func (a *Agent) glob(ctx context.Context, act Glob) (outcome, error) {
	limit := clamp(act.Limit, minGlobLimit, maxGlobLimit)
	matches, err := a.cfg.Host.Glob(ctx, act.Pattern, limit)
	if err != nil {
		return errorOutcome("glob %q failed: %v", act.Pattern, err), nil
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	if len(matches) == 0 {
		return okOutcome("glob %q: no matches", act.Pattern), nil
	}
	return okOutcome("glob %q: %d match(es)\n%s", act.Pattern, len(matches), strings.Join(matches, "\n")), nil
}

func (a *Agent) readFile(ctx context.Context, act ReadFile) (outcome, error) {
	exists, err := a.cfg.Host.FileExists(ctx, act.Path)
	if err != nil {
		return errorOutcome("readFile %s failed: %v", act.Path, err), nil
	}
	if !exists {
		return errorOutcome("readFile %s failed: file not found", act.Path), nil
	}
	content, err := a.cfg.Host.ReadTextFile(ctx, act.Path)
	if err != nil {
		return errorOutcome("readFile %s failed: %v", act.Path, err), nil
	}

	maxChars := clamp(act.MaxChars, minReadChars, maxReadChars)
	shown, truncated := truncateRunes(content, maxChars)
	text := fmt.Sprintf("readFile %s:\n%s", act.Path, numberLines(shown))
	if truncated {
		text += fmt.Sprintf("... [truncated after %d characters; file has %d]\n", maxChars, len([]rune(content)))
	}
	return okOutcome("%s", text), nil
}

func (a *Agent) writeFile(ctx context.Context, act WriteFile) (outcome, error) {
	if out, ok := a.checkWritePath(KindWriteFile, act.Path); !ok {
		return out, nil
	}
	rel := policy.NormalizePath(act.Path)

	before, existed, err := a.currentContent(ctx, rel)
	if err != nil {
		return errorOutcome("writeFile %s failed: %v", rel, err), nil
	}
	if err := a.cfg.Host.WriteTextFile(ctx, rel, act.Content); err != nil {
		return errorOutcome("writeFile %s failed: %v", rel, err), nil
	}
	a.markChanged(rel, before, existed)

	verb := "updated"
	if !existed {
		verb = "created"
	}
	return okOutcome("writeFile %s: %s%s", rel, verb, a.diffSuffix(before, act.Content)), nil
}

func (a *Agent) replaceLines(ctx context.Context, act ReplaceLines) (outcome, error) {
	if out, ok := a.checkWritePath(KindReplaceLines, act.Path); !ok {
		return out, nil
	}
	rel := policy.NormalizePath(act.Path)

	before, existed, err := a.currentContent(ctx, rel)
	if err != nil {
		return errorOutcome("replaceLines %s failed: %v", rel, err), nil
	}
	if !existed {
		return errorOutcome("replaceLines %s failed: file not found", rel), nil
	}

	after := spliceLines(before, act.StartLine, act.EndLine, act.NewText)
	if after == before {
		return okOutcome("replaceLines %s: lines %d-%d unchanged", rel, act.StartLine, act.EndLine), nil
	}
	if err := a.cfg.Host.WriteTextFile(ctx, rel, after); err != nil {
		return errorOutcome("replaceLines %s failed: %v", rel, err), nil
	}
	a.markChanged(rel, before, true)
	return okOutcome("replaceLines %s: replaced lines %d-%d%s", rel, act.StartLine, act.EndLine, a.diffSuffix(before, after)), nil
}

func (a *Agent) runCommand(ctx context.Context, act RunCommand) (outcome, error) {
	decision := policy.CheckCommand(act.Command, *a.cfg.Policy)
	a.recorder.PolicyDecision("command", decision.Verdict())

	switch {
	case decision.Allowed:
		return a.execCommand(ctx, act), nil
	case decision.Denied():
		a.logger.Info("Command denied by policy: %q (%s)", act.Command, decision.Reason)
		return outcome{
			text:   fmt.Sprintf("runCommand %q denied: %s", act.Command, decision.Reason),
			status: statusDenied,
		}, nil
	}

	if a.cfg.Approver == nil {
		return outcome{
			text:   fmt.Sprintf("runCommand %q denied: %s; no approval mechanism available", act.Command, decision.Reason),
			status: statusDenied,
		}, nil
	}

	answer, err := a.cfg.Approver.ApproveCommand(ctx, ports.ApprovalRequest{Command: act.Command, Reason: decision.Reason})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome{status: statusError}, ctxErr
		}
		a.logger.Warn("Approval failed for %q, treating as deny: %v", act.Command, err)
		answer = ports.ApprovalDeny
	}
	a.logger.Info("Approval outcome for %q: %s", act.Command, answer)

	switch answer {
	case ports.ApprovalAllowOnce:
		return a.execCommand(ctx, act), nil
	case ports.ApprovalAllowAlways:
		a.persistAllowed(ctx, act.Command)
		return a.execCommand(ctx, act), nil
	case ports.ApprovalAbort:
		return outcome{
			text:   fmt.Sprintf("runCommand %q: run aborted by user", act.Command),
			status: statusDenied,
		}, ErrAborted
	default:
		return outcome{
			text:   fmt.Sprintf("runCommand %q denied by user", act.Command),
			status: statusDenied,
		}, nil
	}
}

func (a *Agent) finish(_ context.Context, act Finish) (outcome, error) {
	return outcome{
		text:     "finish: " + act.Summary,
		status:   statusFinished,
		finished: true,
		summary:  act.Summary,
	}, nil
}

func (a *Agent) invalid(_ context.Context, act Invalid) (outcome, error) {
	return errorOutcome("invalid action: %s", act.Reason), nil
}

// checkWritePath applies path policy. Paths that only need approval are not
// written: the approval gate covers commands.
func (a *Agent) checkWritePath(kind Kind, path string) (outcome, bool) {
	decision := policy.CheckWritePath(path, *a.cfg.Policy)
	a.recorder.PolicyDecision("path", decision.Verdict())
	if decision.Allowed {
		return outcome{}, true
	}
	a.logger.Info("%s %s blocked by policy: %s", kind, path, decision.Reason)
	if decision.RequiresApproval {
		return outcome{
			text:   fmt.Sprintf("%s %s not applied: %s (approval required)", kind, path, decision.Reason),
			status: statusApproval,
		}, false
	}
	return outcome{
		text:   fmt.Sprintf("%s %s denied: %s", kind, path, decision.Reason),
		status: statusDenied,
	}, false
}

func (a *Agent) currentContent(ctx context.Context, rel string) (string, bool, error) {
	exists, err := a.cfg.Host.FileExists(ctx, rel)
	if err != nil || !exists {
		return "", false, err
	}
	content, err := a.cfg.Host.ReadTextFile(ctx, rel)
	if err != nil {
		return "", false, err
	}
	return content, true, nil
}

func (a *Agent) markChanged(rel, before string, existed bool) {
	a.snapshot.record(rel, snapshotEntry{content: before, existed: existed})
	a.filesChanged[rel] = struct{}{}
}

func (a *Agent) diffSuffix(before, after string) string {
	if a.cfg.DiffStats == nil {
		return ""
	}
	added, removed := a.cfg.DiffStats(before, after)
	return fmt.Sprintf(" (+%d -%d)", added, removed)
}

func (a *Agent) persistAllowed(ctx context.Context, command string) {
	if !a.cfg.Policy.AllowCommand(command) {
		return
	}
	a.logger.Info("Added %q to allowed commands", policy.NormalizeCommand(command))
	if a.cfg.SaveConfig == nil {
		return
	}
	if err := a.cfg.SaveConfig(ctx, a.cfg.Policy); err != nil {
		a.logger.Warn("Failed to persist allowed command %q: %v", command, err)
	}
}

func (a *Agent) execCommand(ctx context.Context, act RunCommand) outcome {
	a.logger.Info("Running command: %s", act.Command)
	res, err := a.cfg.Host.RunCommand(ctx, act.Command, act.Cwd)
	if err != nil {
		if errors.Is(err, ports.ErrOutsideWorkspace) {
			return outcome{text: fmt.Sprintf("runCommand %q denied: cwd %q is outside the workspace", act.Command, act.Cwd), status: statusDenied}
		}
		return errorOutcome("runCommand %q failed to start: %v", act.Command, err)
	}
	a.commandsRun = append(a.commandsRun, CommandRecord{Command: act.Command, ExitCode: res.ExitCode})

	var b strings.Builder
	fmt.Fprintf(&b, "runCommand %q: exit code %d", act.Command, res.ExitCode)
	if res.Stdout != "" {
		fmt.Fprintf(&b, "\nstdout:\n%s", strings.TrimRight(res.Stdout, "\n"))
	}
	if res.Stderr != "" {
		fmt.Fprintf(&b, "\nstderr:\n%s", strings.TrimRight(res.Stderr, "\n"))
	}
	status := statusOK
	if res.ExitCode != 0 {
		status = statusError
	}
	return outcome{text: b.String(), status: status}
}
