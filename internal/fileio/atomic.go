package fileio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paxocial/scribe-mcp-sub000/internal/scribeerr"
)

const (
	atomicWriteRetries = 5
	atomicWriteBackoff = 100 * time.Millisecond
)

// AtomicWrite writes content to a "<path>.tmp" file in the same
// directory, fsyncs it, and renames it over path with up to 5 retries on
// failure, then fsyncs the parent directory. Append mode is not
// supported here; crash-safe append goes through internal/walio instead.
func AtomicWrite(path string, content []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "create temp file", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "write temp file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "fsync temp file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "close temp file", err)
	}

	var renameErr error
	for attempt := 0; attempt < atomicWriteRetries; attempt++ {
		if renameErr = os.Rename(tmp, path); renameErr == nil {
			break
		}
		time.Sleep(atomicWriteBackoff)
	}
	if renameErr != nil {
		os.Remove(tmp)
		return scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "rename temp file over target", renameErr)
	}

	if err := fsyncDir(dir); err != nil {
		return scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "fsync parent directory", err)
	}
	return nil
}

// fsyncDir fsyncs a directory's inode so the rename above is durable
// even across a crash, matching the original implementation's
// atomic_write (original_source/utils/files.py).
func fsyncDir(dir string) error {
	return FsyncDir(dir)
}

// FsyncDir fsyncs a directory's inode. Exported so other packages that
// perform their own rename sequences (e.g. internal/rotate's
// archive-then-replace) can get the same durability guarantee without
// going through AtomicWrite.
func FsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// EnsureDir creates dir (and any missing parents) if it doesn't already
// exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "ensure directory", err)
	}
	return nil
}

// Append opens path for append (creating it if needed) and writes
// content, fsyncing before close. Callers are expected to already hold
// the file's advisory lock (internal/walio's journal-then-append
// sequence); this function performs no locking of its own.
func Append(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "open file for append", err)
	}
	defer f.Close()
	if _, err := f.Write(content); err != nil {
		return scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "append to file", err)
	}
	return f.Sync()
}

// PreflightBackup copies path to "<path>.preflight-<UTC-ms-timestamp>.bak"
// in the same directory before a destructive rewrite.
func PreflightBackup(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", scribeerr.Wrap(scribeerr.KindBackupFailure, "read file for backup", err)
	}

	now := time.Now().UTC()
	ts := fmt.Sprintf("%s_%03d", now.Format("20060102_150405"), now.Nanosecond()/1_000_000)
	backupPath := fmt.Sprintf("%s.preflight-%s.bak", path, ts)

	info, statErr := os.Stat(path)
	perm := os.FileMode(0o644)
	if statErr == nil {
		perm = info.Mode()
	}
	if err := os.WriteFile(backupPath, data, perm); err != nil {
		return "", scribeerr.Wrap(scribeerr.KindBackupFailure, "write preflight backup", err)
	}
	return backupPath, nil
}
