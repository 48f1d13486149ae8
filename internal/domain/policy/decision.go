// Package policy decides whether a command may run or a path may be written.
//
// Both checks are pure functions of their input and an ExecutionPolicyConfig.
// Commands default to asking a human; paths default to a broad allow with an
// explicit deny-list.
package policy

// Verdict labels used in logs and metrics.
const (
	VerdictAllowed  = "allowed"
	VerdictApproval = "approval"
	VerdictDenied   = "denied"
)

// Decision is the verdict of a policy check. At most one of Allowed and
// RequiresApproval is true; both false is an outright denial.
type Decision struct {
	Allowed          bool   `json:"allowed"`
	RequiresApproval bool   `json:"requiresApproval"`
	Reason           string `json:"reason"`
}

func allow(reason string) Decision {
	return Decision{Allowed: true, Reason: reason}
}

func ask(reason string) Decision {
	return Decision{RequiresApproval: true, Reason: reason}
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Denied reports an outright denial.
func (d Decision) Denied() bool {
	return !d.Allowed && !d.RequiresApproval
}

// Verdict returns allowed, approval or denied.
func (d Decision) Verdict() string {
	switch {
	case d.Allowed:
		return VerdictAllowed
	case d.RequiresApproval:
		return VerdictApproval
	default:
		return VerdictDenied
	}
}
