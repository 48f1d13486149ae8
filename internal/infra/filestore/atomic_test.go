package filestore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAtomicWrite_CreatesFileAndParentDirs(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sub", "deep", "file.json")

	if err := AtomicWrite(target, []byte(`{"ok":true}`), 0o600); err != nil {
		t.Fatalf("AtomicWrite: %v", err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Fatalf("unexpected content: %s", data)
	}
}

func TestAtomicWrite_NoTempFileLeftOnSuccess(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "file.json")

	if err := AtomicWrite(target, []byte("data"), 0o600); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "file.json" {
		t.Fatalf("expected only file.json, got %v", entries)
	}
}

func TestAtomicWrite_PreservesExistingMode(t *testing.T) {
	target := filepath.Join(t.TempDir(), "run.sh")
	if err := os.WriteFile(target, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := AtomicWrite(target, []byte("#!/bin/sh\necho hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Fatalf("expected mode 0755 to survive, got %v", info.Mode().Perm())
	}
}

func TestAtomicWrite_RejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := AtomicWrite(dir, []byte("x"), 0o644); err == nil {
		t.Fatal("expected error when target is a directory")
	}
}

func TestReadFileOrEmpty_MissingReturnsNilNil(t *testing.T) {
	data, err := ReadFileOrEmpty(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil data, got %q", data)
	}
}

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	t.Setenv("WARDEN_TEST_DIR", "/srv/warden")

	cases := map[string]string{
		"":                      "/default",
		"~":                     home,
		"~/logs":                filepath.Join(home, "logs"),
		"$WARDEN_TEST_DIR/data": "/srv/warden/data",
	}
	for input, want := range cases {
		if got := ResolvePath(input, "/default"); got != want {
			t.Fatalf("ResolvePath(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestWriteJSON_AppendsNewline(t *testing.T) {
	target := filepath.Join(t.TempDir(), "cfg.json")
	if err := WriteJSON(target, map[string]int{"version": 1}, 0o644); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{\n  \"version\": 1\n}\n" {
		t.Fatalf("unexpected content: %q", data)
	}
}
