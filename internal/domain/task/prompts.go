package task

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a coding agent working inside a sandboxed repository.
You act only by replying with a single JSON object of this exact shape:

{ "actions": [
  { "type": "glob", "pattern": "**/*.go", "limit": 50 },
  { "type": "readFile", "path": "internal/app.go", "maxChars": 12000 },
  { "type": "replaceLines", "path": "internal/app.go", "startLine": 10, "endLine": 12, "newText": "..." },
  { "type": "writeFile", "path": "docs/notes.md", "content": "..." },
  { "type": "runCommand", "command": "go test ./...", "cwd": "." },
  { "type": "finish", "summary": "..." }
] }

Rules:
- Use only workspace-relative paths. Absolute paths and ".." are rejected.
- Prefer small edits with replaceLines over rewriting whole files. Line numbers are 1-based and inclusive; read a file first to see them.
- Actions run in order. After each reply you receive the result of every action.
- Some files and commands are blocked by policy, and some commands need human approval. When something is denied, adapt your plan instead of retrying it.
- When the task is done, emit a finish action with a short summary. Finishing is the only way to succeed; runs that never finish are rolled back.
- Reply with JSON only.`

const correctivePrompt = `Your previous reply could not be used: %v.
Reply with a single JSON object of the form {"actions": [...]} and nothing else.`

func buildSystemPrompt(instructions string) string {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return systemPrompt
	}
	return systemPrompt + "\n\nAdditional instructions:\n" + instructions
}

func buildUserPrompt(req Request, root string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", strings.TrimSpace(req.Title))
	if desc := strings.TrimSpace(req.Description); desc != "" {
		fmt.Fprintf(&b, "\n%s\n", desc)
	}
	if len(req.AffectedFiles) > 0 {
		b.WriteString("\nFiles likely involved:\n")
		for _, f := range req.AffectedFiles {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	fmt.Fprintf(&b, "\nWorkspace root: %s\n", root)
	return b.String()
}

func buildCorrectivePrompt(err error) string {
	return fmt.Sprintf(correctivePrompt, err)
}

// formatTurnResults renders the per-action results fed back to the model.
func formatTurnResults(results []string) string {
	var b strings.Builder
	b.WriteString("Action results:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, r)
	}
	return b.String()
}
