package task

import (
	"fmt"
	"strconv"
	"strings"
)

// line is one line of a file and the terminator that followed it: "\n",
// "\r\n", a lone "\r" at end of file, or "" for an unterminated last line.
type line struct {
	text string
	eol  string
}

func isLineBreak(eol string) bool {
	return eol == "\n" || eol == "\r\n"
}

// spliceLines replaces the 1-based inclusive range [start, end] of content
// with newText. Out-of-range bounds are clamped: a start past the end
// appends, and end < start inserts without removing anything. Lines outside
// the range keep their own terminators; inserted lines use the terminator
// of the lines they replace.
func spliceLines(content string, start, end int, newText string) string {
	lines := splitTerminated(content)

	start = clamp(start, 1, len(lines)+1)
	if end > len(lines) {
		end = len(lines)
	}
	if end < start-1 {
		end = start - 1
	}

	replacement := splitLines(newText)
	if replacement == nil {
		// Empty text still occupies one (blank) line.
		replacement = []string{""}
	}

	eol := fileEOL(lines, newText)
	if end >= start && isLineBreak(lines[start-1].eol) {
		eol = lines[start-1].eol
	} else if start > 1 && isLineBreak(lines[start-2].eol) {
		eol = lines[start-2].eol
	}

	var last string
	switch {
	case end >= start:
		last = lines[end-1].eol
	case end < len(lines):
		last = eol
	case len(lines) > 0:
		// Appending: the old last line needs a break and the new last
		// line inherits its trailing convention.
		last = lines[len(lines)-1].eol
		if !isLineBreak(last) {
			lines[len(lines)-1].eol = eol
		}
	case strings.HasSuffix(newText, "\n"):
		last = eol
	}

	var b strings.Builder
	for _, l := range lines[:start-1] {
		b.WriteString(l.text)
		b.WriteString(l.eol)
	}
	for i, text := range replacement {
		b.WriteString(text)
		if i == len(replacement)-1 {
			b.WriteString(last)
		} else {
			b.WriteString(eol)
		}
	}
	for _, l := range lines[end:] {
		b.WriteString(l.text)
		b.WriteString(l.eol)
	}
	return b.String()
}

// fileEOL is the first line break used in the file, falling back to the
// inserted text and then to "\n".
func fileEOL(lines []line, newText string) string {
	for _, l := range lines {
		if isLineBreak(l.eol) {
			return l.eol
		}
	}
	if strings.Contains(newText, "\r\n") {
		return "\r\n"
	}
	return "\n"
}

// splitTerminated splits s into lines, keeping each line's terminator.
func splitTerminated(s string) []line {
	var lines []line
	for s != "" {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			if strings.HasSuffix(s, "\r") {
				lines = append(lines, line{text: s[:len(s)-1], eol: "\r"})
			} else {
				lines = append(lines, line{text: s})
			}
			break
		}
		text, eol := s[:i], "\n"
		if strings.HasSuffix(text, "\r") {
			text, eol = text[:len(text)-1], "\r\n"
		}
		lines = append(lines, line{text: text, eol: eol})
		s = s[i+1:]
	}
	return lines
}

// splitLines returns the text of each line without terminators.
func splitLines(s string) []string {
	lines := splitTerminated(s)
	if lines == nil {
		return nil
	}
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.text
	}
	return texts
}

// numberLines prefixes each line with its 1-based number, right-aligned.
func numberLines(content string) string {
	lines := splitLines(content)
	if len(lines) == 0 {
		return ""
	}
	width := len(strconv.Itoa(len(lines)))
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%*d| %s\n", width, i+1, line)
	}
	return b.String()
}

// truncateRunes cuts s to at most limit runes and reports whether it did.
func truncateRunes(s string, limit int) (string, bool) {
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i], true
		}
		count++
	}
	return s, false
}
