package id

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var requestSeq atomic.Uint64

// NewRunID returns a time-ordered identifier for one agent run.
func NewRunID() string {
	return "run-" + newUUIDv7()
}

// NewRequestIDWithLogID derives an LLM request identifier, embedding the
// given log id when present so provider logs can be joined with run logs.
func NewRequestIDWithLogID(logID string) string {
	seq := requestSeq.Add(1)
	body := fmt.Sprintf("llm-%s-%d", newUUIDv7()[:8], seq)
	logID = strings.TrimSpace(logID)
	if logID == "" {
		return body
	}
	return logID + ":" + body
}

func newUUIDv7() string {
	v, err := uuid.NewV7()
	if err != nil {
		// Only fails when the random source is broken.
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return v.String()
}
