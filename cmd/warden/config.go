package main

import (
	"errors"
	"fmt"
	"os"

	"warden/internal/domain/policy"
	"warden/internal/shared/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the workspace agent configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default workspace configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := root.load(cmd)
			if err != nil {
				return err
			}
			path := config.WorkspaceConfigPath(s.Workspace)
			if config.WorkspaceExists(s.Workspace) && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.SaveWorkspace(s.Workspace, config.DefaultWorkspaceConfig()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective workspace configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := root.load(cmd)
			if err != nil {
				return err
			}
			wcfg, _, err := config.LoadWorkspace(s.Workspace)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), wcfg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "allow <command>",
		Short: "Add a command to the workspace allow-list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := root.load(cmd)
			if err != nil {
				return err
			}
			normalized := policy.NormalizeCommand(args[0])
			if normalized == "" {
				return errors.New("command cannot be empty")
			}
			wcfg, _, err := config.LoadWorkspace(s.Workspace)
			if err != nil {
				return err
			}
			if !wcfg.Execution.AllowCommand(normalized) {
				fmt.Fprintf(cmd.OutOrStdout(), "%q is already allowed\n", normalized)
				return nil
			}
			if err := config.SaveWorkspace(s.Workspace, wcfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Allowed %q\n", normalized)
			return nil
		},
	})

	var initRuntime bool
	runtimeCmd := &cobra.Command{
		Use:   "runtime",
		Short: "Print the effective runtime configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := root.load(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if initRuntime {
				if _, err := os.Stat(s.ConfigPath); err == nil {
					return fmt.Errorf("%s already exists", s.ConfigPath)
				}
				if err := config.SaveRuntime(s.ConfigPath, config.DefaultRuntimeConfig()); err != nil {
					return err
				}
				fmt.Fprintf(out, "Wrote %s\n", s.ConfigPath)
				return nil
			}

			effective := s.Runtime
			if effective.LLM.APIKey != "" {
				effective.LLM.APIKey = "<redacted>"
			}
			data, err := yaml.Marshal(effective)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			fmt.Fprintf(out, "# %s\n%s", s.ConfigPath, data)
			return nil
		},
	}
	runtimeCmd.Flags().BoolVar(&initRuntime, "init", false, "Write the default runtime configuration if none exists")
	cmd.AddCommand(runtimeCmd)

	return cmd
}
