package main

// Exit codes scripts can rely on. Anything else exits with 1.
const (
	exitTaskFailed  = 1
	exitTaskAborted = 2
	exitInterrupted = 130
)

// ExitCodeError wraps an error with a specific process exit code. A nil Err
// exits silently.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
