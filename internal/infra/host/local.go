// Package host implements the workspace execution host on the local
// filesystem and shell.
package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"warden/internal/domain/ports"
	"warden/internal/infra/filestore"
	"warden/internal/shared/logging"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	DefaultCommandTimeout = 10 * time.Minute
	DefaultOutputLimit    = 20000

	// TimeoutExitCode mirrors coreutils timeout(1).
	TimeoutExitCode = 124
)

// DefaultExcludedDirs are never descended into by Glob.
var DefaultExcludedDirs = []string{
	".git", ".hg", ".svn",
	"node_modules", "vendor", ".venv", "__pycache__",
	"dist", "build", "out", "target", ".next", "coverage",
}

// Local is a ports.Host rooted at a directory on disk.
type Local struct {
	root        string
	realRoot    string
	timeout     time.Duration
	outputLimit int
	excluded    map[string]struct{}
	shell       []string
	logger      logging.Logger
}

var (
	_ ports.Host        = (*Local)(nil)
	_ ports.FileRemover = (*Local)(nil)
)

// Option customizes a Local host.
type Option func(*Local)

// WithCommandTimeout bounds every command. Zero or negative disables the bound.
func WithCommandTimeout(d time.Duration) Option {
	return func(l *Local) { l.timeout = d }
}

// WithOutputLimit caps stdout and stderr, keeping the tail.
func WithOutputLimit(chars int) Option {
	return func(l *Local) { l.outputLimit = chars }
}

// WithExcludedDirs replaces the directory names skipped by Glob.
func WithExcludedDirs(names ...string) Option {
	return func(l *Local) {
		l.excluded = make(map[string]struct{}, len(names))
		for _, n := range names {
			l.excluded[n] = struct{}{}
		}
	}
}

// WithShell overrides the interpreter prefix, e.g. {"sh", "-c"}.
func WithShell(argv ...string) Option {
	return func(l *Local) { l.shell = append([]string(nil), argv...) }
}

func WithLogger(logger logging.Logger) Option {
	return func(l *Local) { l.logger = logging.OrNop(logger) }
}

// NewLocal validates root and returns a host confined to it.
func NewLocal(root string, opts ...Option) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	realRoot, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}

	l := &Local{
		root:        abs,
		realRoot:    realRoot,
		timeout:     DefaultCommandTimeout,
		outputLimit: DefaultOutputLimit,
		shell:       defaultShell(),
		logger:      logging.Nop(),
	}
	WithExcludedDirs(DefaultExcludedDirs...)(l)
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func defaultShell() []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C"}
	}
	if _, err := exec.LookPath("bash"); err == nil {
		return []string{"bash", "-c"}
	}
	return []string{"sh", "-c"}
}

func (l *Local) Root() string {
	return l.root
}

func (l *Local) ReadTextFile(_ context.Context, relPath string) (string, error) {
	abs, err := l.resolve(relPath)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (l *Local) WriteTextFile(_ context.Context, relPath, content string) error {
	abs, err := l.resolve(relPath)
	if err != nil {
		return err
	}
	return filestore.AtomicWrite(abs, []byte(content), 0o644)
}

func (l *Local) FileExists(_ context.Context, relPath string) (bool, error) {
	abs, err := l.resolve(relPath)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (l *Local) RemoveFile(_ context.Context, relPath string) error {
	abs, err := l.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Glob walks the workspace in lexical order and returns up to limit sorted
// matches. Excluded directories are skipped entirely.
func (l *Local) Glob(ctx context.Context, pattern string, limit int) ([]string, error) {
	pattern = strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(pattern), "\\", "/"), "./")
	pattern = strings.TrimLeft(pattern, "/")
	if pattern == "" {
		return nil, errors.New("empty glob pattern")
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	if pattern == ".." || strings.HasPrefix(pattern, "../") || strings.Contains(pattern, "/../") {
		return nil, ports.ErrOutsideWorkspace
	}
	if limit <= 0 {
		limit = 1
	}

	var matches []string
	errLimit := errors.New("limit reached")
	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == l.root {
				return walkErr
			}
			l.logger.Debug("Glob skipping %s: %v", p, walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if _, skip := l.excluded[d.Name()]; skip && p != l.root {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if ok, _ := doublestar.Match(pattern, rel); ok {
			matches = append(matches, rel)
			if len(matches) >= limit {
				return errLimit
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errLimit) {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// RunCommand runs command through the shell in the workspace (or cwd below
// it). A non-zero exit is a result, not an error; errors mean the process
// could not be started or the caller's context ended.
func (l *Local) RunCommand(ctx context.Context, command, cwd string) (ports.CommandResult, error) {
	dir := l.root
	if strings.TrimSpace(cwd) != "" {
		resolved, err := l.resolve(cwd)
		if err != nil {
			return ports.CommandResult{}, err
		}
		info, err := os.Stat(resolved)
		if err != nil {
			return ports.CommandResult{}, fmt.Errorf("working directory: %w", err)
		}
		if !info.IsDir() {
			return ports.CommandResult{}, fmt.Errorf("working directory %s is not a directory", cwd)
		}
		dir = resolved
	}

	runCtx := ctx
	cancel := func() {}
	if l.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, l.timeout)
	}
	defer cancel()

	argv := append(append([]string(nil), l.shell...), command)
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	runErr := cmd.Run()
	l.logger.Debug("Command %q finished in %s", command, time.Since(started).Round(time.Millisecond))

	result := ports.CommandResult{
		Stdout: capTail(stdout.String(), l.outputLimit),
		Stderr: capTail(stderr.String(), l.outputLimit),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	if runCtx.Err() == context.DeadlineExceeded {
		result.ExitCode = TimeoutExitCode
		result.Stderr = strings.TrimRight(result.Stderr, "\n") + fmt.Sprintf("\n[timed out after %s]", l.timeout)
		return result, nil
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("start command: %w", runErr)
	}
	return result, nil
}

// resolve maps a workspace-relative path to an absolute one, rejecting
// anything that lands outside the root lexically or through a symlink.
func (l *Local) resolve(relPath string) (string, error) {
	p := strings.TrimSpace(relPath)
	if p == "" {
		return "", errors.New("path cannot be empty")
	}
	p = filepath.FromSlash(strings.ReplaceAll(p, "\\", "/"))

	var abs string
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	} else {
		abs = filepath.Join(l.root, p)
	}
	if !pathWithinBase(l.root, abs) {
		return "", fmt.Errorf("%w: %s", ports.ErrOutsideWorkspace, relPath)
	}

	realPath, err := evalExistingPrefix(abs)
	if err != nil {
		return "", err
	}
	if !pathWithinBase(l.realRoot, realPath) {
		return "", fmt.Errorf("%w: %s resolves through a symlink", ports.ErrOutsideWorkspace, relPath)
	}
	return abs, nil
}

// evalExistingPrefix resolves symlinks in the longest existing prefix of
// path and re-attaches the missing tail.
func evalExistingPrefix(path string) (string, error) {
	current := path
	var tail []string
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path, nil
		}
		tail = append(tail, filepath.Base(current))
		current = parent
	}
}

func pathWithinBase(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// capTail keeps the last limit characters of s.
func capTail(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	dropped := len(runes) - limit
	return fmt.Sprintf("[... %d characters truncated ...]\n", dropped) + string(runes[dropped:])
}
