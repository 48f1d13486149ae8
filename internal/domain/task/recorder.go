package task

import "time"

// Recorder receives run telemetry. Implementations must be safe for
// concurrent use since several agents may share one.
type Recorder interface {
	RunFinished(status Status, reason TerminationReason, turns int, duration time.Duration)
	ActionDispatched(kind Kind, status string)
	PolicyDecision(subject, verdict string)
}

type nopRecorder struct{}

func (nopRecorder) RunFinished(Status, TerminationReason, int, time.Duration) {}
func (nopRecorder) ActionDispatched(Kind, string)                            {}
func (nopRecorder) PolicyDecision(string, string)                            {}
