package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"warden/internal/domain/policy"
	"warden/internal/domain/ports"
	"warden/internal/domain/task"
	"warden/internal/infra/approval"
	"warden/internal/infra/diff"
	"warden/internal/infra/filestore"
	"warden/internal/infra/history"
	"warden/internal/infra/host"
	"warden/internal/infra/llm"
	"warden/internal/infra/observability"
	"warden/internal/shared/config"
	jsonx "warden/internal/shared/json"
	"warden/internal/shared/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type runOptions struct {
	title           string
	description     string
	files           []string
	agentID         string
	approve         string
	approvalTimeout time.Duration
	verbose         bool
	jsonOutput      bool
	noHistory       bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [title]",
		Short: "Execute one task in the workspace",
		Long: `Run asks the model for batches of actions (glob, read, write, replace
lines, run commands) until it finishes or runs out of turns. File edits are
reverted when the task fails; command side effects are not.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.title == "" {
				opts.title = strings.TrimSpace(strings.Join(args, " "))
			}
			if opts.title == "" {
				return errors.New("a task title is required (pass it as an argument or with --title)")
			}
			s, err := root.load(cmd)
			if err != nil {
				return err
			}
			return runTask(cmd.Context(), cmd, s, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.title, "title", "t", "", "Task title")
	flags.StringVarP(&opts.description, "description", "d", "", "Task description")
	flags.StringSliceVarP(&opts.files, "file", "f", nil, "Files likely involved (repeatable)")
	flags.StringVar(&opts.agentID, "agent", "", "Agent profile id from the workspace config")
	flags.StringVar(&opts.approve, "approve", "", "Answer approval prompts without asking: deny, once, always or abort")
	flags.DurationVar(&opts.approvalTimeout, "approval-timeout", -1, "Deny an unanswered approval prompt after this long (default from config)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Print every action result")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Print the result as JSON")
	flags.BoolVar(&opts.noHistory, "no-history", false, "Do not record the run in the history database")

	return cmd
}

func runTask(ctx context.Context, cmd *cobra.Command, s settings, opts *runOptions) error {
	logger, closer, err := s.logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer.Close()

	hostOpts := []host.Option{
		host.WithCommandTimeout(s.Runtime.Agent.CommandTimeout),
		host.WithOutputLimit(s.Runtime.Agent.OutputLimit),
		host.WithLogger(logging.WithComponent(logger, "host")),
	}
	if len(s.Runtime.Agent.Shell) > 0 {
		hostOpts = append(hostOpts, host.WithShell(s.Runtime.Agent.Shell...))
	}
	workspace, err := host.NewLocal(s.Workspace, hostOpts...)
	if err != nil {
		return err
	}

	wcfg, created, err := config.LoadWorkspace(workspace.Root())
	if err != nil {
		return err
	}
	if created {
		if err := config.SaveWorkspace(workspace.Root(), wcfg); err != nil {
			return err
		}
		logger.Info("Created workspace config at %s", config.WorkspaceConfigPath(workspace.Root()))
	}

	profile, err := wcfg.SelectAgent(opts.agentID)
	if err != nil {
		return err
	}
	provider := s.Runtime.LLM.Provider
	if profile.Provider != "" {
		provider = profile.Provider
	}

	client, err := llm.NewClient(llm.Config{
		Provider:   provider,
		Model:      s.Runtime.LLM.Model,
		BaseURL:    s.Runtime.LLM.BaseURL,
		APIKey:     s.Runtime.LLM.APIKey,
		Timeout:    s.Runtime.LLM.Timeout,
		MaxRetries: s.Runtime.LLM.MaxRetries,
		Logger:     logging.WithComponent(logger, "llm"),
	})
	if err != nil {
		return err
	}

	approver, err := buildApprover(cmd, s, opts)
	if err != nil {
		return err
	}

	tracer, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		Enabled:        s.Runtime.Tracing.Enabled,
		Exporter:       s.Runtime.Tracing.Exporter,
		OTLPEndpoint:   s.Runtime.Tracing.OTLPEndpoint,
		ZipkinEndpoint: s.Runtime.Tracing.ZipkinEndpoint,
		SampleRate:     s.Runtime.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Flushing traces failed: %v", err)
		}
	}()

	registry := prometheus.NewRegistry()
	metrics := observability.MustNewMetrics(registry)

	var saveMu sync.Mutex
	saveConfig := func(_ context.Context, updated *policy.ExecutionPolicyConfig) error {
		saveMu.Lock()
		defer saveMu.Unlock()
		wcfg.Execution = *updated
		return config.SaveWorkspace(workspace.Root(), wcfg)
	}

	agent, err := task.NewAgent(task.Config{
		LLM:              client,
		Host:             workspace,
		Policy:           &wcfg.Execution,
		Approver:         approver,
		SaveConfig:       saveConfig,
		DiffStats:        diff.LineStats,
		Logger:           logging.WithComponent(logger, "agent"),
		Recorder:         metrics,
		MaxTurns:         s.Runtime.Agent.MaxTurns,
		MaxParseFailures: s.Runtime.Agent.MaxParseFailures,
		Instructions:     profile.Instructions,
	})
	if err != nil {
		return err
	}

	req := task.Request{
		Title:         opts.title,
		Description:   opts.description,
		AffectedFiles: opts.files,
	}
	started := time.Now().UTC()

	var (
		result  task.Result
		execErr error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(groupCtx)
	defer stopServing()
	if addr := strings.TrimSpace(s.Runtime.MetricsAddr); addr != "" {
		group.Go(func() error {
			if err := observability.Serve(serveCtx, addr, registry); err != nil {
				logger.Warn("Metrics server on %s stopped: %v", addr, err)
			}
			return nil
		})
	}
	group.Go(func() error {
		defer stopServing()
		result, execErr = agent.Execute(ctx, req)
		return nil
	})
	_ = group.Wait()

	if !opts.noHistory {
		recordHistory(ctx, s, logger, history.Run{
			ID:           agent.RunID(),
			Workspace:    workspace.Root(),
			Title:        req.Title,
			Model:        client.Model(),
			Status:       string(result.Status),
			Reason:       string(result.Reason),
			OK:           result.OK,
			Summary:      result.Summary,
			Turns:        result.Turns,
			FilesChanged: result.FilesChanged,
			Commands:     historyCommands(result.CommandsRun),
			StartedAt:    started,
			Duration:     result.Duration,
		})
	}

	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		if err := writeJSON(out, struct {
			RunID string `json:"runId"`
			task.Result
		}{RunID: agent.RunID(), Result: result}); err != nil {
			return err
		}
	} else {
		renderResult(out, agent.RunID(), result, renderOptions{
			Color:    s.Color,
			Markdown: s.Color,
			Verbose:  opts.verbose,
		})
	}

	switch {
	case errors.Is(execErr, task.ErrAborted):
		return &ExitCodeError{Code: exitTaskAborted}
	case execErr != nil && ctx.Err() != nil:
		return &ExitCodeError{Code: exitInterrupted}
	case execErr != nil:
		return execErr
	case !result.OK:
		return &ExitCodeError{Code: exitTaskFailed}
	}
	return nil
}

func buildApprover(cmd *cobra.Command, s settings, opts *runOptions) (ports.Approver, error) {
	if raw := strings.TrimSpace(opts.approve); raw != "" {
		outcome, ok := ports.ParseApprovalOutcome(raw)
		if !ok {
			return nil, fmt.Errorf("unknown --approve value %q (want deny, once, always or abort)", raw)
		}
		return approval.NewStaticApprover(outcome), nil
	}
	if isTerminal(cmd.InOrStdin()) {
		timeout := opts.approvalTimeout
		if timeout < 0 {
			timeout = s.Runtime.Agent.ApprovalTimeout
		}
		return approval.NewInteractiveApprover(cmd.InOrStdin(), cmd.ErrOrStderr(), timeout, s.Color), nil
	}
	return approval.NewStaticApprover(ports.ApprovalDeny), nil
}

func recordHistory(ctx context.Context, s settings, logger logging.Logger, run history.Run) {
	path := filestore.ResolvePath(s.Runtime.HistoryPath, "")
	if path == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	store, err := history.Open(ctx, path)
	if err != nil {
		logger.Warn("Opening run history failed: %v", err)
		return
	}
	defer store.Close()
	if err := store.Record(ctx, run); err != nil {
		logger.Warn("Recording run %s failed: %v", run.ID, err)
	}
}

func historyCommands(records []task.CommandRecord) []history.Command {
	out := make([]history.Command, 0, len(records))
	for _, r := range records {
		out = append(out, history.Command{Command: r.Command, ExitCode: r.ExitCode})
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	data, err := jsonx.MarshalIndentNewline(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
