package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"warden/internal/infra/filestore"
	"warden/internal/infra/history"

	"github.com/spf13/cobra"
)

func newHistoryCommand(root *rootOptions) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent runs, or show one run in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := root.load(cmd)
			if err != nil {
				return err
			}
			path := filestore.ResolvePath(s.Runtime.HistoryPath, "")
			if path == "" {
				return errors.New("no history database configured")
			}
			store, err := history.Open(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			p := newPalette(s.Color)
			if len(args) == 1 {
				run, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, run)
				}
				printRunDetail(out, p, run)
				return nil
			}

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded yet.")
				return nil
			}
			for _, run := range runs {
				status := p.ok(run.Status)
				if !run.OK {
					status = p.fail(run.Status)
				}
				fmt.Fprintf(out, "%s  %s  %-9s  %s\n",
					p.dim(run.StartedAt.Local().Format(time.DateTime)), run.ID, status, run.Title)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print as JSON")
	return cmd
}

func printRunDetail(w io.Writer, p palette, run history.Run) {
	fmt.Fprintf(w, "%s %s\n", p.bold("Run"), run.ID)
	fmt.Fprintf(w, "  title:     %s\n", run.Title)
	fmt.Fprintf(w, "  workspace: %s\n", run.Workspace)
	fmt.Fprintf(w, "  model:     %s\n", run.Model)
	fmt.Fprintf(w, "  status:    %s (%s)\n", run.Status, run.Reason)
	fmt.Fprintf(w, "  turns:     %d\n", run.Turns)
	fmt.Fprintf(w, "  started:   %s\n", run.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "  duration:  %s\n", run.Duration.Round(time.Millisecond))
	if run.Summary != "" {
		fmt.Fprintf(w, "  summary:   %s\n", strings.ReplaceAll(run.Summary, "\n", "\n             "))
	}
	if len(run.FilesChanged) > 0 {
		fmt.Fprintf(w, "  files:     %s\n", strings.Join(run.FilesChanged, ", "))
	}
	for _, c := range run.Commands {
		fmt.Fprintf(w, "  command:   [exit %d] %s\n", c.ExitCode, c.Command)
	}
}
