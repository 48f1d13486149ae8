package task

import (
	"context"

	"warden/internal/domain/ports"
	"warden/internal/shared/logging"
)

// snapshotEntry is the pre-run state of one path.
type snapshotEntry struct {
	content string
	existed bool
}

// snapshot records the original content of every path mutated during one
// run, keyed by the first mutation. It is owned by a single Agent and is
// never shared.
type snapshot struct {
	entries map[string]snapshotEntry
	order   []string
}

func newSnapshot() *snapshot {
	return &snapshot{entries: make(map[string]snapshotEntry)}
}

func (s *snapshot) has(path string) bool {
	_, ok := s.entries[path]
	return ok
}

// record stores the pre-mutation state of path unless an earlier mutation
// already did. Call it only after the mutation succeeded.
func (s *snapshot) record(path string, entry snapshotEntry) {
	if s.has(path) {
		return
	}
	s.entries[path] = entry
	s.order = append(s.order, path)
}

func (s *snapshot) len() int {
	return len(s.order)
}

// restore writes every captured file back to its original content, newest
// first. Files that did not exist are removed when the host supports it.
// Restoration is best effort: failures are logged and skipped so the
// primary failure reason is not masked.
func (s *snapshot) restore(ctx context.Context, host ports.Host, logger logging.Logger) (restored int, failed int) {
	// Detach from cancellation so a cancelled run still rolls back.
	ctx = context.WithoutCancel(ctx)
	remover, canRemove := host.(ports.FileRemover)

	for i := len(s.order) - 1; i >= 0; i-- {
		path := s.order[i]
		entry := s.entries[path]

		var err error
		switch {
		case entry.existed:
			err = host.WriteTextFile(ctx, path, entry.content)
		case canRemove:
			err = remover.RemoveFile(ctx, path)
		default:
			logger.Warn("Cannot remove %s created during the run: host does not support removal", path)
			failed++
			continue
		}
		if err != nil {
			logger.Warn("Failed to restore %s: %v", path, err)
			failed++
			continue
		}
		restored++
	}
	s.entries = make(map[string]snapshotEntry)
	s.order = nil
	return restored, failed
}
