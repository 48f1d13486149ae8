// Package diff computes line-level change statistics for file edits.
package diff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// maxDiffSize skips exact diffing for very large files.
const maxDiffSize = 10 * 1024 * 1024

// LineStats returns the number of added and removed lines between before
// and after. Lines are compared whole, so an edited line counts once each way.
func LineStats(before, after string) (added, removed int) {
	if before == after {
		return 0, 0
	}
	if len(before) > maxDiffSize || len(after) > maxDiffSize {
		return countLines(after), countLines(before)
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += countLines(d.Text)
		}
	}
	return added, removed
}

// countLines counts lines, including a final line without a newline.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
