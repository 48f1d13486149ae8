// Package approval implements the human approval gate for commands that
// policy cannot decide alone.
package approval

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"warden/internal/domain/ports"

	"github.com/fatih/color"
)

// InteractiveApprover asks on a terminal. Input is read by one background
// goroutine so a timed-out prompt does not swallow the next answer.
type InteractiveApprover struct {
	in           io.Reader
	out          io.Writer
	timeout      time.Duration
	colorEnabled bool

	startOnce sync.Once
	lines     chan string
	// done is closed once input is exhausted; readErr is set before.
	done    chan struct{}
	readErr error
}

var _ ports.Approver = (*InteractiveApprover)(nil)

// NewInteractiveApprover creates a prompt on in/out. A zero timeout waits
// indefinitely.
func NewInteractiveApprover(in io.Reader, out io.Writer, timeout time.Duration, colorEnabled bool) *InteractiveApprover {
	return &InteractiveApprover{
		in:           in,
		out:          out,
		timeout:      timeout,
		colorEnabled: colorEnabled,
		lines:        make(chan string),
		done:         make(chan struct{}),
	}
}

// ApproveCommand shows the command and the policy reason, then waits for a
// choice. A timeout resolves to deny.
func (a *InteractiveApprover) ApproveCommand(ctx context.Context, req ports.ApprovalRequest) (ports.ApprovalOutcome, error) {
	a.startOnce.Do(a.startReader)
	a.display(req)

	var timeoutC <-chan time.Time
	if a.timeout > 0 {
		timer := time.NewTimer(a.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	for {
		a.printMenu()
		select {
		case line := <-a.lines:
			if outcome, ok := parseChoice(line); ok {
				return outcome, nil
			}
			fmt.Fprintln(a.out, a.colorize("Invalid choice. Please enter o, a, d, or q.", color.FgRed))
		case <-a.done:
			return ports.ApprovalDeny, fmt.Errorf("failed to read input: %w", a.readErr)
		case <-timeoutC:
			fmt.Fprintln(a.out)
			fmt.Fprintln(a.out, a.colorize("Timeout - command denied", color.FgRed))
			return ports.ApprovalDeny, nil
		case <-ctx.Done():
			return ports.ApprovalDeny, ctx.Err()
		}
	}
}

func (a *InteractiveApprover) startReader() {
	go func() {
		reader := bufio.NewReader(a.in)
		for {
			line, err := reader.ReadString('\n')
			if line != "" || err == nil {
				a.lines <- line
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				a.readErr = err
				close(a.done)
				return
			}
		}
	}()
}

func (a *InteractiveApprover) display(req ports.ApprovalRequest) {
	separator := strings.Repeat("=", 80)
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, a.colorize(separator, color.FgCyan))
	fmt.Fprintln(a.out, a.colorize("Command requires approval", color.FgYellow, color.Bold))
	fmt.Fprintln(a.out, a.colorize("  $ "+req.Command, color.FgWhite, color.Bold))
	if req.Reason != "" {
		fmt.Fprintln(a.out, a.colorize("Reason: ", color.FgCyan)+req.Reason)
	}
	fmt.Fprintln(a.out, a.colorize(separator, color.FgCyan))
}

func (a *InteractiveApprover) printMenu() {
	fmt.Fprintln(a.out, "  [o] Allow once")
	fmt.Fprintln(a.out, "  [a] Always allow this command")
	fmt.Fprintln(a.out, "  [d] Deny")
	fmt.Fprintln(a.out, "  [q] Abort the task")
	fmt.Fprint(a.out, a.colorize("Choice: ", color.FgCyan))
}

func parseChoice(line string) (ports.ApprovalOutcome, bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "o", "once", "y", "yes":
		return ports.ApprovalAllowOnce, true
	case "a", "always":
		return ports.ApprovalAllowAlways, true
	case "d", "deny", "n", "no", "":
		return ports.ApprovalDeny, true
	case "q", "quit", "abort":
		return ports.ApprovalAbort, true
	default:
		return ports.ApprovalDeny, false
	}
}

func (a *InteractiveApprover) colorize(text string, attributes ...color.Attribute) string {
	if !a.colorEnabled {
		return text
	}
	return color.New(attributes...).Sprint(text)
}
