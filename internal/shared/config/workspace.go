package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"warden/internal/domain/policy"
	"warden/internal/infra/filestore"
	jsonx "warden/internal/shared/json"
)

const (
	// WorkspaceSchemaVersion is the only persisted layout understood.
	WorkspaceSchemaVersion = 1

	WorkspaceDirName  = policy.ConfigDirName
	WorkspaceFileName = "agents.json"

	DefaultAgentID = "default"
)

var ErrUnsupportedVersion = errors.New("unsupported workspace config version")

// AgentProfile is one named agent persona. Instructions are appended to the
// system prompt; Provider optionally overrides the runtime provider.
type AgentProfile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Instructions string `json:"instructions,omitempty"`
	Provider     string `json:"provider,omitempty"`
}

// WorkspaceConfig is the per-workspace agent configuration.
type WorkspaceConfig struct {
	Version        int                          `json:"version"`
	DefaultAgentID string                       `json:"defaultAgentId"`
	Agents         []AgentProfile               `json:"agents"`
	Execution      policy.ExecutionPolicyConfig `json:"execution"`
}

// DefaultWorkspaceConfig returns the first-use configuration.
func DefaultWorkspaceConfig() WorkspaceConfig {
	return WorkspaceConfig{
		Version:        WorkspaceSchemaVersion,
		DefaultAgentID: DefaultAgentID,
		Agents:         []AgentProfile{{ID: DefaultAgentID, Name: "Default"}},
		Execution:      policy.Default(),
	}
}

// WorkspaceConfigPath returns where the config of workspaceRoot lives.
func WorkspaceConfigPath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, WorkspaceDirName, WorkspaceFileName)
}

// LoadWorkspace reads the workspace config. A missing file yields the
// defaults; created reports that case so callers can persist them.
func LoadWorkspace(workspaceRoot string) (cfg WorkspaceConfig, created bool, err error) {
	path := WorkspaceConfigPath(workspaceRoot)
	data, err := filestore.ReadFileOrEmpty(path)
	if err != nil {
		return WorkspaceConfig{}, false, fmt.Errorf("read workspace config: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return DefaultWorkspaceConfig(), true, nil
	}
	cfg, err = ParseWorkspace(data)
	if err != nil {
		return WorkspaceConfig{}, false, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, false, nil
}

// ParseWorkspace decodes and normalizes a persisted config.
func ParseWorkspace(data []byte) (WorkspaceConfig, error) {
	var cfg WorkspaceConfig
	if err := jsonx.Unmarshal(data, &cfg); err != nil {
		return WorkspaceConfig{}, fmt.Errorf("parse workspace config: %w", err)
	}
	if cfg.Version != WorkspaceSchemaVersion {
		return WorkspaceConfig{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, cfg.Version)
	}
	if err := cfg.Normalize(); err != nil {
		return WorkspaceConfig{}, err
	}
	return cfg, nil
}

// Normalize validates the execution policy and fills missing agent data.
func (c *WorkspaceConfig) Normalize() error {
	if err := c.Execution.Normalize(); err != nil {
		return fmt.Errorf("execution policy: %w", err)
	}
	if c.Execution.AllowedPathGlobs == nil {
		c.Execution.AllowedPathGlobs = []string{}
	}
	if c.Execution.DeniedPathGlobs == nil {
		c.Execution.DeniedPathGlobs = []string{}
	}

	agents := make([]AgentProfile, 0, len(c.Agents))
	seen := make(map[string]struct{}, len(c.Agents))
	for _, agent := range c.Agents {
		agent.ID = strings.TrimSpace(agent.ID)
		if agent.ID == "" {
			continue
		}
		if _, dup := seen[agent.ID]; dup {
			continue
		}
		seen[agent.ID] = struct{}{}
		if strings.TrimSpace(agent.Name) == "" {
			agent.Name = agent.ID
		}
		agents = append(agents, agent)
	}
	if len(agents) == 0 {
		agents = []AgentProfile{{ID: DefaultAgentID, Name: "Default"}}
	}
	c.Agents = agents
	if _, ok := seen[c.DefaultAgentID]; !ok {
		c.DefaultAgentID = agents[0].ID
	}
	return nil
}

// SelectAgent returns the agent with id, or the default agent when id is empty.
func (c WorkspaceConfig) SelectAgent(id string) (AgentProfile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = c.DefaultAgentID
	}
	for _, agent := range c.Agents {
		if agent.ID == id {
			return agent, nil
		}
	}
	return AgentProfile{}, fmt.Errorf("agent %q not found in workspace config", id)
}

// SaveWorkspace writes cfg atomically with stable indentation.
func SaveWorkspace(workspaceRoot string, cfg WorkspaceConfig) error {
	cfg.Version = WorkspaceSchemaVersion
	if err := cfg.Normalize(); err != nil {
		return err
	}
	path := WorkspaceConfigPath(workspaceRoot)
	if err := filestore.WriteJSON(path, cfg, 0o644); err != nil {
		return fmt.Errorf("write workspace config: %w", err)
	}
	return nil
}

// WorkspaceExists reports whether a config file is present.
func WorkspaceExists(workspaceRoot string) bool {
	info, err := os.Stat(WorkspaceConfigPath(workspaceRoot))
	return err == nil && info.Mode().IsRegular()
}
