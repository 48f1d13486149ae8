// Package config loads the two configuration layers: the per-workspace agent
// config (JSON, versioned) and the per-user runtime config (YAML).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"warden/internal/infra/filestore"

	"gopkg.in/yaml.v3"
)

const (
	DefaultProvider       = "openai"
	DefaultModel          = "gpt-4o-mini"
	DefaultLLMTimeout     = 120 * time.Second
	DefaultMaxRetries     = 3
	DefaultMaxTurns       = 20
	DefaultCommandTimeout = 10 * time.Minute
	DefaultOutputLimit    = 20000
	DefaultLogLevel       = "info"

	// ConfigPathEnv overrides the runtime config location.
	ConfigPathEnv = "WARDEN_CONFIG"
)

// LLMConfig selects and authenticates the chat provider.
type LLMConfig struct {
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// AgentConfig bounds a single task run.
type AgentConfig struct {
	MaxTurns         int           `yaml:"max_turns"`
	MaxParseFailures int           `yaml:"max_parse_failures"`
	CommandTimeout   time.Duration `yaml:"command_timeout"`
	OutputLimit      int           `yaml:"output_limit"`
	ApprovalTimeout  time.Duration `yaml:"approval_timeout"`
	// Shell is the interpreter prefix for commands, e.g. ["sh", "-c"].
	Shell []string `yaml:"shell,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Exporter       string  `yaml:"exporter"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	ZipkinEndpoint string  `yaml:"zipkin_endpoint"`
	SampleRate     float64 `yaml:"sample_rate"`
}

// RuntimeConfig holds per-user settings shared by every workspace.
type RuntimeConfig struct {
	LLM         LLMConfig     `yaml:"llm"`
	Agent       AgentConfig   `yaml:"agent"`
	Log         LogConfig     `yaml:"log"`
	HistoryPath string        `yaml:"history_path"`
	MetricsAddr string        `yaml:"metrics_addr"`
	Tracing     TracingConfig `yaml:"tracing"`
}

// DefaultRuntimeConfig returns the settings used when no file exists.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		LLM: LLMConfig{
			Provider:   DefaultProvider,
			Model:      DefaultModel,
			Timeout:    DefaultLLMTimeout,
			MaxRetries: DefaultMaxRetries,
		},
		Agent: AgentConfig{
			MaxTurns:       DefaultMaxTurns,
			CommandTimeout: DefaultCommandTimeout,
			OutputLimit:    DefaultOutputLimit,
		},
		Log:         LogConfig{Level: DefaultLogLevel},
		HistoryPath: filepath.Join("~", ".warden", "history.db"),
	}
}

// EnvLookup resolves an environment variable.
type EnvLookup func(string) (string, bool)

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// Option customises LoadRuntime.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	homeDir    func() (string, error)
	configPath string
}

// WithConfigPath forces a specific file.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) {
		o.configPath = path
	}
}

// WithEnv supplies a custom environment lookup implementation.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		o.envLookup = lookup
	}
}

// WithFileReader injects a custom reader, used primarily for tests.
func WithFileReader(reader func(string) ([]byte, error)) Option {
	return func(o *loadOptions) {
		o.readFile = reader
	}
}

// WithHomeDir overrides how the user's home directory is resolved.
func WithHomeDir(resolver func() (string, error)) Option {
	return func(o *loadOptions) {
		o.homeDir = resolver
	}
}

func buildOptions(opts []Option) loadOptions {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func (o loadOptions) resolvePath() (string, error) {
	if path := strings.TrimSpace(o.configPath); path != "" {
		return path, nil
	}
	if o.envLookup != nil {
		if path, ok := o.envLookup(ConfigPathEnv); ok && strings.TrimSpace(path) != "" {
			return strings.TrimSpace(path), nil
		}
	}
	home, err := o.homeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".warden", "config.yaml"), nil
}

// LoadRuntime reads the runtime config over the defaults. A missing or
// empty file is not an error. ${VAR} references in string values are
// expanded through the configured environment lookup.
func LoadRuntime(opts ...Option) (RuntimeConfig, string, error) {
	options := buildOptions(opts)
	cfg := DefaultRuntimeConfig()

	path, err := options.resolvePath()
	if err != nil {
		return cfg, "", err
	}

	data, err := options.readFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, path, nil
		}
		return cfg, path, fmt.Errorf("read config file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, path, nil
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultRuntimeConfig(), path, fmt.Errorf("parse config file: %w", err)
	}
	cfg.expandEnv(options.envLookup)
	cfg.applyDefaults()
	return cfg, path, nil
}

// SaveRuntime writes cfg as YAML. The file may hold an API key, so it is
// created owner-readable only.
func SaveRuntime(path string, cfg RuntimeConfig) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := filestore.AtomicWrite(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func (c *RuntimeConfig) expandEnv(lookup EnvLookup) {
	c.LLM.Provider = expandEnvValue(lookup, c.LLM.Provider)
	c.LLM.Model = expandEnvValue(lookup, c.LLM.Model)
	c.LLM.BaseURL = expandEnvValue(lookup, c.LLM.BaseURL)
	c.LLM.APIKey = expandEnvValue(lookup, c.LLM.APIKey)
	c.Log.Dir = expandEnvValue(lookup, c.Log.Dir)
	c.HistoryPath = expandEnvValue(lookup, c.HistoryPath)
	c.MetricsAddr = expandEnvValue(lookup, c.MetricsAddr)
	c.Tracing.OTLPEndpoint = expandEnvValue(lookup, c.Tracing.OTLPEndpoint)
	c.Tracing.ZipkinEndpoint = expandEnvValue(lookup, c.Tracing.ZipkinEndpoint)
}

func (c *RuntimeConfig) applyDefaults() {
	defaults := DefaultRuntimeConfig()
	if strings.TrimSpace(c.LLM.Provider) == "" {
		c.LLM.Provider = defaults.LLM.Provider
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = defaults.LLM.Timeout
	}
	if c.LLM.MaxRetries < 0 {
		c.LLM.MaxRetries = 0
	}
	if c.Agent.MaxTurns <= 0 {
		c.Agent.MaxTurns = defaults.Agent.MaxTurns
	}
	if c.Agent.MaxParseFailures < 0 {
		c.Agent.MaxParseFailures = 0
	}
	if c.Agent.OutputLimit <= 0 {
		c.Agent.OutputLimit = defaults.Agent.OutputLimit
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = defaults.Log.Level
	}
}

// expandEnvValue expands $VAR and ${VAR}. Unknown variables become empty.
func expandEnvValue(lookup EnvLookup, value string) string {
	if value == "" || !strings.Contains(value, "$") {
		return value
	}
	if lookup == nil {
		lookup = DefaultEnvLookup
	}
	return os.Expand(value, func(key string) string {
		v, _ := lookup(key)
		return v
	})
}
