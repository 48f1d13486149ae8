package policy

import (
	"fmt"
	"strings"
)

// Level selects how unlisted commands are treated.
type Level string

const (
	Conservative Level = "conservative"
	Standard     Level = "standard"
	Unrestricted Level = "unrestricted"
)

// ParseLevel accepts the persisted spelling of a level; empty means conservative.
func ParseLevel(raw string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(raw))) {
	case "", Conservative:
		return Conservative, nil
	case Standard:
		return Standard, nil
	case Unrestricted:
		return Unrestricted, nil
	default:
		return "", fmt.Errorf("unknown execution policy %q", raw)
	}
}

// ConfigDirName is the workspace directory holding the persisted policy.
// Writes into it are always denied.
const ConfigDirName = ".warden"

// MatchEverything is the allow glob used when none are configured.
const MatchEverything = "**/*"

// ExecutionPolicyConfig is the declarative policy consulted for every
// command and write. AllowedCommands is a set persisted as a list.
type ExecutionPolicyConfig struct {
	Policy                 Level    `json:"policy" yaml:"policy"`
	AllowDangerous         bool     `json:"allowDangerous" yaml:"allow_dangerous"`
	AllowedCommands        []string `json:"allowedCommands" yaml:"allowed_commands"`
	AllowedCommandPrefixes []string `json:"allowedCommandPrefixes" yaml:"allowed_command_prefixes"`
	AllowedPathGlobs       []string `json:"allowedPathGlobs" yaml:"allowed_path_globs"`
	DeniedPathGlobs        []string `json:"deniedPathGlobs" yaml:"denied_path_globs"`
}

// DefaultDeniedPathGlobs covers version control, dependency and build
// output directories plus secret-like files.
func DefaultDeniedPathGlobs() []string {
	return []string{
		ConfigDirName + "/**",
		"**/.git/**",
		"**/.hg/**",
		"**/.svn/**",
		"**/node_modules/**",
		"**/.venv/**",
		"**/__pycache__/**",
		"vendor/**",
		"dist/**",
		"build/**",
		"out/**",
		"target/**",
		".next/**",
		".env*",
		"*.pem",
		"*.key",
		"*.p12",
		"*.pfx",
		"*.keystore",
		"id_rsa*",
		"id_ed25519*",
		".npmrc",
		".netrc",
	}
}

// Default returns the first-use policy: conservative, no dangerous
// commands, empty allow-lists and a broad path allow with the default deny-list.
func Default() ExecutionPolicyConfig {
	return ExecutionPolicyConfig{
		Policy:                 Conservative,
		AllowDangerous:         false,
		AllowedCommands:        []string{},
		AllowedCommandPrefixes: []string{},
		AllowedPathGlobs:       []string{MatchEverything},
		DeniedPathGlobs:        DefaultDeniedPathGlobs(),
	}
}

// Normalize fixes up a decoded config in place: it validates the level,
// normalizes and de-duplicates allowed commands, and drops blank entries.
func (c *ExecutionPolicyConfig) Normalize() error {
	level, err := ParseLevel(string(c.Policy))
	if err != nil {
		return err
	}
	c.Policy = level

	seen := make(map[string]struct{}, len(c.AllowedCommands))
	commands := make([]string, 0, len(c.AllowedCommands))
	for _, cmd := range c.AllowedCommands {
		normalized := NormalizeCommand(cmd)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		commands = append(commands, normalized)
	}
	c.AllowedCommands = commands
	c.AllowedCommandPrefixes = compact(c.AllowedCommandPrefixes)
	c.AllowedPathGlobs = compact(c.AllowedPathGlobs)
	c.DeniedPathGlobs = compact(c.DeniedPathGlobs)
	return nil
}

// HasCommand reports whether the normalized command is in AllowedCommands.
func (c *ExecutionPolicyConfig) HasCommand(command string) bool {
	normalized := NormalizeCommand(command)
	if normalized == "" {
		return false
	}
	for _, allowed := range c.AllowedCommands {
		if NormalizeCommand(allowed) == normalized {
			return true
		}
	}
	return false
}

// AllowCommand adds the normalized command to AllowedCommands and reports
// whether the set changed. Callers sharing one config across concurrent
// tasks must serialize calls themselves.
func (c *ExecutionPolicyConfig) AllowCommand(command string) bool {
	normalized := NormalizeCommand(command)
	if normalized == "" || c.HasCommand(normalized) {
		return false
	}
	c.AllowedCommands = append(c.AllowedCommands, normalized)
	return true
}

// Clone returns a deep copy.
func (c ExecutionPolicyConfig) Clone() ExecutionPolicyConfig {
	c.AllowedCommands = append([]string(nil), c.AllowedCommands...)
	c.AllowedCommandPrefixes = append([]string(nil), c.AllowedCommandPrefixes...)
	c.AllowedPathGlobs = append([]string(nil), c.AllowedPathGlobs...)
	c.DeniedPathGlobs = append([]string(nil), c.DeniedPathGlobs...)
	return c
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
