package policy

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// NormalizePath converts separators to '/', strips leading slashes and
// cleans the result. It does not touch the filesystem.
func NormalizePath(relPath string) string {
	p := strings.TrimSpace(relPath)
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

// EscapesRoot reports whether a normalized relative path climbs above the root.
func EscapesRoot(normalized string) bool {
	return normalized == ".." || strings.HasPrefix(normalized, "../")
}

// InConfigDir reports whether a normalized relative path is the workspace
// config directory or lies beneath it. Case is ignored for case-insensitive
// filesystems.
func InConfigDir(normalized string) bool {
	first, _, _ := strings.Cut(normalized, "/")
	return strings.EqualFold(first, ConfigDirName)
}

// CheckWritePath decides whether relPath may be written under cfg. The
// parent-escape and config-directory checks are hard boundaries evaluated
// before any glob.
func CheckWritePath(relPath string, cfg ExecutionPolicyConfig) Decision {
	normalized := NormalizePath(relPath)
	if normalized == "" || normalized == "." {
		return deny("empty path")
	}
	if EscapesRoot(normalized) {
		return deny(fmt.Sprintf("path %q escapes the workspace root", relPath))
	}
	if len(normalized) >= 2 && normalized[1] == ':' {
		return deny(fmt.Sprintf("path %q must be workspace-relative", relPath))
	}
	if InConfigDir(normalized) {
		return deny(fmt.Sprintf("path %q is inside the protected %s directory", normalized, ConfigDirName))
	}

	for _, pattern := range cfg.DeniedPathGlobs {
		if MatchGlob(pattern, normalized) {
			return deny(fmt.Sprintf("path %q matches deny-list pattern %q", normalized, pattern))
		}
	}

	allowed := cfg.AllowedPathGlobs
	if len(allowed) == 0 {
		allowed = []string{MatchEverything}
	}
	for _, pattern := range allowed {
		if MatchGlob(pattern, normalized) {
			return allow(fmt.Sprintf("path matches allowed pattern %q", pattern))
		}
	}
	return ask(fmt.Sprintf("path %q is outside allowed scope", normalized))
}

// MatchGlob matches a normalized relative path against a doublestar pattern.
// Patterns without a '/' also match the final path element at any depth,
// so ".env*" covers "config/.env.local".
func MatchGlob(pattern, normalized string) bool {
	pattern = strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(pattern), "\\", "/"), "./")
	if pattern == "" {
		return false
	}
	if ok, err := doublestar.Match(pattern, normalized); err == nil && ok {
		return true
	}
	if !strings.Contains(pattern, "/") {
		if ok, err := doublestar.Match(pattern, path.Base(normalized)); err == nil && ok {
			return true
		}
	}
	return false
}
