package llm

import (
	"context"
	"errors"
	"sync"

	"warden/internal/domain/ports"
)

// ScriptedClient replays canned replies in order and then repeats the last
// one. It records every conversation it was sent.
type ScriptedClient struct {
	mu      sync.Mutex
	replies []string
	calls   [][]ports.Message
}

func NewScriptedClient(replies ...string) *ScriptedClient {
	return &ScriptedClient{replies: append([]string(nil), replies...)}
}

func (c *ScriptedClient) Model() string {
	return "scripted"
}

func (c *ScriptedClient) Chat(ctx context.Context, messages []ports.Message, _ ports.ChatOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, append([]ports.Message(nil), messages...))
	if len(c.replies) == 0 {
		return "", errors.New("scripted client has no replies")
	}
	idx := len(c.calls) - 1
	if idx >= len(c.replies) {
		idx = len(c.replies) - 1
	}
	return c.replies[idx], nil
}

// Calls returns a copy of every conversation sent so far.
func (c *ScriptedClient) Calls() [][]ports.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]ports.Message(nil), c.calls...)
}
