package fileio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paxocial/scribe-mcp-sub000/internal/scribeerr"
)

func TestResolveUnderRoot(t *testing.T) {
	root := t.TempDir()

	p, err := ResolveUnderRoot(root, "docs/PROGRESS_LOG.md")
	if err != nil {
		t.Fatalf("ResolveUnderRoot() error: %v", err)
	}
	if !strings.HasPrefix(p, root) {
		t.Errorf("resolved path %q not under root %q", p, root)
	}

	_, err = ResolveUnderRoot(root, "../../etc/passwd")
	if err == nil {
		t.Fatal("expected PathEscape error for parent traversal")
	}
	if se, ok := scribeerr.As(err, scribeerr.KindPathEscape); !ok {
		t.Fatalf("expected KindPathEscape, got %v", se)
	}
}

func TestFileLockExclusion(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "log.md")

	l1 := NewFileLock(target)
	if err := l1.Acquire(2 * time.Second); err != nil {
		t.Fatalf("first Acquire() error: %v", err)
	}

	l2 := NewFileLock(target)
	err := l2.Acquire(300 * time.Millisecond)
	if err == nil {
		t.Fatal("expected second Acquire() to time out while first holds lock")
	}
	if _, ok := scribeerr.As(err, scribeerr.KindLockTimeout); !ok {
		t.Fatalf("expected KindLockTimeout, got %v", err)
	}

	if err := l1.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}

	if err := l2.Acquire(time.Second); err != nil {
		t.Fatalf("Acquire() after release should succeed: %v", err)
	}
	l2.Release()
}

func TestAtomicWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.md")

	if err := AtomicWrite(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("AtomicWrite() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q, want %q", data, "hello")
	}

	if entries, _ := filepath.Glob(filepath.Join(dir, "*.tmp")); len(entries) != 0 {
		t.Errorf("temp file left behind: %v", entries)
	}

	if err := AtomicWrite(path, []byte("world"), 0o644); err != nil {
		t.Fatalf("second AtomicWrite() error: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "world" {
		t.Errorf("content after overwrite = %q, want %q", data, "world")
	}
}

func TestPreflightBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.md")
	if err := os.WriteFile(path, []byte("original"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	backupPath, err := PreflightBackup(path)
	if err != nil {
		t.Fatalf("PreflightBackup() error: %v", err)
	}
	if backupPath == "" {
		t.Fatal("expected non-empty backup path")
	}
	data, err := os.ReadFile(backupPath)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(data) != "original" {
		t.Errorf("backup content = %q, want %q", data, "original")
	}
	if !strings.Contains(backupPath, ".preflight-") || !strings.HasSuffix(backupPath, ".bak") {
		t.Errorf("backup path %q doesn't match expected pattern", backupPath)
	}
}

func TestPreflightBackupMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.md")
	backupPath, err := PreflightBackup(path)
	if err != nil {
		t.Fatalf("PreflightBackup() on missing file should not error: %v", err)
	}
	if backupPath != "" {
		t.Errorf("expected empty backup path for missing file, got %q", backupPath)
	}
}
