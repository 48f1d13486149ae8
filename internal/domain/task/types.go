// Package task runs a single coding task as a bounded conversation with a
// language model. Each reply is parsed into a batch of actions which are
// dispatched through the execution policy and the workspace host. File edits
// are snapshotted on first mutation and rolled back when the run fails.
package task

import (
	"errors"
	"time"
)

var (
	// ErrAborted is returned when the approval gate aborts the run.
	ErrAborted = errors.New("task aborted by user")
	// ErrAlreadyExecuted is returned when Execute is called twice on one Agent.
	ErrAlreadyExecuted = errors.New("agent has already executed a task")

	ErrMissingLLM    = errors.New("task agent requires an LLM client")
	ErrMissingHost   = errors.New("task agent requires an execution host")
	ErrMissingConfig = errors.New("task agent requires an execution policy config")
)

// Status represents the terminal state of a run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// TerminationReason explains why a run stopped.
type TerminationReason string

const (
	TerminationFinished      TerminationReason = "finished"
	TerminationMaxTurns      TerminationReason = "max_turns"
	TerminationParseFailures TerminationReason = "parse_failures"
	TerminationProviderError TerminationReason = "provider_error"
	TerminationCancelled     TerminationReason = "cancelled"
	TerminationAborted       TerminationReason = "aborted"
)

// Request is the task handed to the agent.
type Request struct {
	Title         string
	Description   string
	AffectedFiles []string
}

// CommandRecord is a command that reached the host.
type CommandRecord struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exitCode"`
}

// Result is the structured outcome of one run.
type Result struct {
	OK           bool              `json:"ok"`
	Summary      string            `json:"summary"`
	FilesChanged []string          `json:"filesChanged"`
	CommandsRun  []CommandRecord   `json:"commandsRun"`
	Status       Status            `json:"status"`
	Reason       TerminationReason `json:"reason"`
	Turns        int               `json:"turns"`
	Transcript   []string          `json:"transcript,omitempty"`
	Reverted     int               `json:"reverted,omitempty"`
	Duration     time.Duration     `json:"duration"`
}
