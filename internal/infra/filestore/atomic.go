// Package filestore holds the small file primitives shared by the workspace
// host and the config stores.
package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	jsonx "warden/internal/shared/json"
)

// EnsureParentDir creates the parent directory of filePath.
func EnsureParentDir(filePath string) error {
	return os.MkdirAll(filepath.Dir(filePath), 0o755)
}

// AtomicWrite writes data to filePath through a sibling temp file and a
// rename, so readers never observe a partial write. An existing file keeps
// its permission bits; new files get perm.
func AtomicWrite(filePath string, data []byte, perm fs.FileMode) error {
	if err := EnsureParentDir(filePath); err != nil {
		return err
	}
	if info, err := os.Stat(filePath); err == nil {
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", filePath)
		}
		perm = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), "."+filepath.Base(filePath)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		cleanup()
		return err
	}
	return nil
}

// ReadFileOrEmpty reads a file, returning (nil, nil) if it doesn't exist.
func ReadFileOrEmpty(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// ResolvePath expands a leading ~ and environment variables. If configured
// is empty, defaultPath is used.
func ResolvePath(configured, defaultPath string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = defaultPath
	}
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return os.ExpandEnv(path)
}

// WriteJSON atomically writes v as indented JSON with a trailing newline.
func WriteJSON(filePath string, v any, perm fs.FileMode) error {
	data, err := jsonx.MarshalIndentNewline(v)
	if err != nil {
		return err
	}
	return AtomicWrite(filePath, data, perm)
}
