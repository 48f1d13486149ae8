package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"warden/internal/domain/task"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
)

type renderOptions struct {
	Color    bool
	Markdown bool
	Verbose  bool
	Width    int
}

type palette struct {
	ok, fail, warn, dim, bold func(a ...any) string
}

func newPalette(enabled bool) palette {
	mk := func(attrs ...color.Attribute) func(a ...any) string {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	return palette{
		ok:   mk(color.FgGreen),
		fail: mk(color.FgRed),
		warn: mk(color.FgYellow),
		dim:  mk(color.FgHiBlack),
		bold: mk(color.Bold),
	}
}

// renderResult prints a finished run for humans.
func renderResult(w io.Writer, runID string, result task.Result, opts renderOptions) {
	p := newPalette(opts.Color)
	fmt.Fprintln(w, banner(result, opts.Color))

	fmt.Fprintf(w, "%s %s  %s %d  %s %s\n",
		p.dim("run"), runID,
		p.dim("turns"), result.Turns,
		p.dim("took"), result.Duration.Round(time.Millisecond))

	if summary := strings.TrimSpace(result.Summary); summary != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, renderSummary(summary, opts))
	}

	if len(result.FilesChanged) > 0 {
		label := "Files changed"
		if !result.OK {
			label = fmt.Sprintf("Files reverted (%d restored)", result.Reverted)
		}
		fmt.Fprintf(w, "\n%s\n", p.bold(label))
		for _, f := range result.FilesChanged {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}

	if len(result.CommandsRun) > 0 {
		fmt.Fprintf(w, "\n%s\n", p.bold("Commands"))
		for _, c := range result.CommandsRun {
			code := p.ok(fmt.Sprintf("exit %d", c.ExitCode))
			if c.ExitCode != 0 {
				code = p.fail(fmt.Sprintf("exit %d", c.ExitCode))
			}
			fmt.Fprintf(w, "  %s  %s\n", code, c.Command)
		}
	}

	if opts.Verbose && len(result.Transcript) > 0 {
		fmt.Fprintf(w, "\n%s\n", p.bold("Transcript"))
		for i, entry := range result.Transcript {
			fmt.Fprintf(w, "%s %s\n", p.dim(fmt.Sprintf("[%d]", i+1)), entry)
		}
	}
}

func banner(result task.Result, colored bool) string {
	label := strings.ToUpper(string(result.Status))
	if result.Reason != "" && result.Reason != task.TerminationFinished {
		label += " · " + strings.ReplaceAll(string(result.Reason), "_", " ")
	}
	style := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	if colored {
		bg := lipgloss.Color("2")
		switch result.Status {
		case task.StatusFailed:
			bg = lipgloss.Color("1")
		case task.StatusAborted:
			bg = lipgloss.Color("3")
		}
		style = style.Foreground(lipgloss.Color("15")).Background(bg)
	}
	return style.Render(label)
}

func renderSummary(summary string, opts renderOptions) string {
	if !opts.Markdown {
		return summary
	}
	width := opts.Width
	if width <= 0 || width > 120 {
		width = 100
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return summary
	}
	rendered, err := renderer.Render(summary)
	if err != nil {
		return summary
	}
	return strings.TrimRight(rendered, "\n")
}
