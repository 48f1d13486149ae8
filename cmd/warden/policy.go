package main

import (
	"fmt"
	"io"

	"warden/internal/domain/policy"
	"warden/internal/shared/config"

	"github.com/spf13/cobra"
)

func newPolicyCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Ask the execution policy about a command or path",
	}

	var jsonOutput bool
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print the decision as JSON")

	cmd.AddCommand(&cobra.Command{
		Use:   "check-command <command>",
		Short: "Show whether a command would run, need approval, or be denied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, colored, err := loadPolicy(root, cmd)
			if err != nil {
				return err
			}
			decision := policy.CheckCommand(args[0], cfg)
			return printDecision(cmd.OutOrStdout(), "command", args[0], decision, jsonOutput, colored)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check-path <path>",
		Short: "Show whether a workspace path may be written",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, colored, err := loadPolicy(root, cmd)
			if err != nil {
				return err
			}
			decision := policy.CheckWritePath(args[0], cfg)
			return printDecision(cmd.OutOrStdout(), "path", args[0], decision, jsonOutput, colored)
		},
	})

	return cmd
}

func loadPolicy(root *rootOptions, cmd *cobra.Command) (policy.ExecutionPolicyConfig, bool, error) {
	s, err := root.load(cmd)
	if err != nil {
		return policy.ExecutionPolicyConfig{}, false, err
	}
	wcfg, _, err := config.LoadWorkspace(s.Workspace)
	if err != nil {
		return policy.ExecutionPolicyConfig{}, false, err
	}
	return wcfg.Execution, s.Color, nil
}

func printDecision(w io.Writer, subject, value string, d policy.Decision, asJSON, colored bool) error {
	if asJSON {
		return writeJSON(w, struct {
			Subject string `json:"subject"`
			Value   string `json:"value"`
			Verdict string `json:"verdict"`
			policy.Decision
		}{Subject: subject, Value: value, Verdict: d.Verdict(), Decision: d})
	}
	p := newPalette(colored)
	verdict := d.Verdict()
	switch verdict {
	case policy.VerdictAllowed:
		verdict = p.ok(verdict)
	case policy.VerdictApproval:
		verdict = p.warn(verdict)
	default:
		verdict = p.fail(verdict)
	}
	_, err := fmt.Fprintf(w, "%s %q: %s (%s)\n", subject, value, verdict, d.Reason)
	return err
}
