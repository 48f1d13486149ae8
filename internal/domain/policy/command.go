package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// signature is a named destructive-command pattern.
type signature struct {
	name    string
	pattern *regexp.Regexp
}

// cmdStart matches where a program name may begin: the start of the
// command, a separator, a path prefix, an escape, a quote or a substitution.
const cmdStart = "(^|[\\s;&|(/\\\\'\"`])"

// dangerous compiles a case-insensitive pattern for a program name that
// must appear at a cmdStart boundary.
func dangerous(program string) *regexp.Regexp {
	return regexp.MustCompile("(?i)" + cmdStart + program)
}

var dangerousSignatures = []signature{
	{"recursive or forced delete", dangerous(`rm\s([^;&|]*\s)?(-[a-z]*[rf][a-z]*|--recursive|--force)\b`)},
	{"recursive directory removal", dangerous(`(rd|rmdir)\s+(/s|/q)\b`)},
	{"forced windows delete", dangerous(`(del|erase)\s+.*/[sqf]\b`)},
	{"powershell recursive removal", regexp.MustCompile(`(?i)\b(remove-item|ri|rm|del)\b.*\s-(recurse|force)\b`)},
	{"disk format", dangerous(`((mkfs(\.[a-z0-9]+)?|diskpart|wipefs)\b|format(\.com)?\s+[a-z]:)`)},
	{"low-level device write", regexp.MustCompile(`(?i)` + cmdStart + `dd\s+.*\bof=/dev/|>\s*/dev/(sd|hd|nvme|disk|mmcblk)`)},
	{"shutdown or reboot", dangerous(`(sudo\s+)?(shutdown|reboot|halt|poweroff|init\s+[06])\b`)},
	{"forced kill", dangerous(`(kill|pkill|killall)\s+(-9|-kill|-sigkill|-s\s+kill)\b`)},
	{"hard git reset", regexp.MustCompile(`(?i)\bgit\s+reset\b.*\s--hard\b`)},
	{"git clean", regexp.MustCompile(`(?i)\bgit\s+clean\b.*\s-[a-z]*[fdx]`)},
	{"fork bomb", regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:`)},
}

// NormalizeCommand trims the command and collapses internal whitespace.
func NormalizeCommand(command string) string {
	return strings.Join(strings.Fields(command), " ")
}

// MatchDangerous returns the name of the first destructive signature the
// command matches.
func MatchDangerous(command string) (string, bool) {
	for _, sig := range dangerousSignatures {
		if sig.pattern.MatchString(command) {
			return sig.name, true
		}
	}
	return "", false
}

// CheckCommand decides whether command may run under cfg.
func CheckCommand(command string, cfg ExecutionPolicyConfig) Decision {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return deny("empty command")
	}
	if strings.ContainsAny(trimmed, "\r\n") {
		return deny("multi-line commands are not allowed; run one command per action")
	}
	normalized := NormalizeCommand(trimmed)

	if name, dangerous := MatchDangerous(normalized); dangerous && !cfg.AllowDangerous {
		return deny(fmt.Sprintf("dangerous command blocked (%s); allowDangerous is disabled", name))
	}

	if cfg.Policy == Unrestricted {
		return allow("unrestricted policy")
	}

	for _, allowed := range cfg.AllowedCommands {
		if NormalizeCommand(allowed) == normalized {
			return allow("command is in allowedCommands")
		}
	}
	lower := strings.ToLower(normalized)
	for _, prefix := range cfg.AllowedCommandPrefixes {
		p := strings.ToLower(NormalizeCommand(prefix))
		if p != "" && strings.HasPrefix(lower, p) {
			return allow(fmt.Sprintf("command matches allowed prefix %q", prefix))
		}
	}

	return ask(fmt.Sprintf("command is not allow-listed under the %s policy; approval required", levelOrDefault(cfg.Policy)))
}

func levelOrDefault(level Level) Level {
	if level == "" {
		return Conservative
	}
	return level
}
