package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"warden/internal/infra/filestore"
	"warden/internal/shared/config"
	"warden/internal/shared/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

const envPrefix = "WARDEN"

// Flag names double as viper keys, so WARDEN_BASE_URL maps to --base-url.
const (
	flagConfig           = "config"
	flagWorkspace        = "workspace"
	flagProvider         = "provider"
	flagModel            = "model"
	flagBaseURL          = "base-url"
	flagAPIKey           = "api-key"
	flagMaxTurns         = "max-turns"
	flagMaxParseFailures = "max-parse-failures"
	flagCommandTimeout   = "command-timeout"
	flagLogLevel         = "log-level"
	flagLogDir           = "log-dir"
	flagHistory          = "history"
	flagMetricsAddr      = "metrics-addr"
	flagNoColor          = "no-color"
)

type rootOptions struct {
	v *viper.Viper
}

// settings is the resolved configuration for one invocation.
type settings struct {
	Runtime    config.RuntimeConfig
	ConfigPath string
	Workspace  string
	Color      bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:           "warden",
		Short:         "Run model-driven coding tasks inside a policy-guarded workspace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.String(flagConfig, "", "Runtime config file (default ~/.warden/config.yaml)")
	flags.StringP(flagWorkspace, "w", ".", "Workspace root")
	flags.String(flagProvider, "", "LLM provider (openai, ollama, mock)")
	flags.StringP(flagModel, "m", "", "LLM model")
	flags.String(flagBaseURL, "", "LLM API base URL")
	flags.String(flagAPIKey, "", "LLM API key")
	flags.Int(flagMaxTurns, 0, "Maximum model turns per task")
	flags.Int(flagMaxParseFailures, 0, "Stop after this many consecutive unusable replies (0 disables)")
	flags.Duration(flagCommandTimeout, 0, "Timeout for each command the model runs")
	flags.String(flagLogLevel, "", "Log level (debug, info, warn, error)")
	flags.String(flagLogDir, "", "Directory for the JSON log file")
	flags.String(flagHistory, "", "Run history database path")
	flags.String(flagMetricsAddr, "", "Serve Prometheus metrics on this address while running")
	flags.Bool(flagNoColor, false, "Disable colored output")

	opts.v.SetEnvPrefix(envPrefix)
	opts.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	opts.v.AutomaticEnv()
	_ = opts.v.BindPFlags(flags)

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newPolicyCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))

	return cmd
}

// load layers flags and WARDEN_* variables over the runtime config file.
func (o *rootOptions) load(cmd *cobra.Command) (settings, error) {
	v := o.v
	runtimeCfg, path, err := config.LoadRuntime(config.WithConfigPath(v.GetString(flagConfig)))
	if err != nil {
		return settings{}, err
	}

	if v.IsSet(flagProvider) {
		runtimeCfg.LLM.Provider = v.GetString(flagProvider)
	}
	if v.IsSet(flagModel) {
		runtimeCfg.LLM.Model = v.GetString(flagModel)
	}
	if v.IsSet(flagBaseURL) {
		runtimeCfg.LLM.BaseURL = v.GetString(flagBaseURL)
	}
	if v.IsSet(flagAPIKey) {
		runtimeCfg.LLM.APIKey = v.GetString(flagAPIKey)
	}
	if v.IsSet(flagMaxTurns) && v.GetInt(flagMaxTurns) > 0 {
		runtimeCfg.Agent.MaxTurns = v.GetInt(flagMaxTurns)
	}
	if v.IsSet(flagMaxParseFailures) {
		runtimeCfg.Agent.MaxParseFailures = v.GetInt(flagMaxParseFailures)
	}
	if v.IsSet(flagCommandTimeout) {
		runtimeCfg.Agent.CommandTimeout = v.GetDuration(flagCommandTimeout)
	}
	if v.IsSet(flagLogLevel) {
		runtimeCfg.Log.Level = v.GetString(flagLogLevel)
	}
	if v.IsSet(flagLogDir) {
		runtimeCfg.Log.Dir = v.GetString(flagLogDir)
	}
	if v.IsSet(flagHistory) {
		runtimeCfg.HistoryPath = v.GetString(flagHistory)
	}
	if v.IsSet(flagMetricsAddr) {
		runtimeCfg.MetricsAddr = v.GetString(flagMetricsAddr)
	}
	if runtimeCfg.LLM.APIKey == "" && strings.EqualFold(runtimeCfg.LLM.Provider, config.DefaultProvider) {
		runtimeCfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	workspace, err := filepath.Abs(filestore.ResolvePath(v.GetString(flagWorkspace), "."))
	if err != nil {
		return settings{}, fmt.Errorf("resolve workspace: %w", err)
	}

	return settings{
		Runtime:    runtimeCfg,
		ConfigPath: path,
		Workspace:  workspace,
		Color:      !v.GetBool(flagNoColor) && os.Getenv("NO_COLOR") == "" && isTerminal(cmd.OutOrStdout()),
	}, nil
}

func (s settings) logger(out io.Writer) (logging.Logger, io.Closer, error) {
	return logging.New(logging.Options{
		Level:  s.Runtime.Log.Level,
		Dir:    filestore.ResolvePath(s.Runtime.Log.Dir, ""),
		Output: out,
	})
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
