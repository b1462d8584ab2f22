// Package fileio implements the file I/O primitives every other
// component builds on: sandboxed path resolution, cross-process advisory
// locking, atomic overwrite, and preflight backups.
package fileio

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/paxocial/scribe-mcp-sub000/internal/scribeerr"
)

// ResolveUnderRoot resolves rel against root and rejects any result that
// escapes root via ".." segments or (after symlink evaluation) a
// different real directory. The document manager (internal/docmgr)
// resolves its paths through here; the log-file paths that
// internal/append, internal/rotate and internal/query build from the
// project root are joined directly and are not checked by this function.
func ResolveUnderRoot(root, rel string) (string, error) {
	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return "", scribeerr.Wrap(scribeerr.KindPathEscape, "resolve root", err)
	}
	cleanRoot = filepath.Clean(cleanRoot)

	joined := filepath.Join(cleanRoot, rel)
	joined = filepath.Clean(joined)

	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", scribeerr.New(scribeerr.KindPathEscape, "path escapes project root: "+rel)
	}

	if resolved, err := filepath.EvalSymlinks(joined); err == nil {
		resolvedRoot, rootErr := filepath.EvalSymlinks(cleanRoot)
		if rootErr == nil && resolved != resolvedRoot && !strings.HasPrefix(resolved, resolvedRoot+string(filepath.Separator)) {
			return "", scribeerr.New(scribeerr.KindPathEscape, "symlink escapes project root: "+rel)
		}
	}
	// ENOENT from EvalSymlinks is expected for paths that don't exist yet
	// (e.g. a file about to be created) and is not itself an escape.

	return joined, nil
}

// Stat returns a file's identity (size, mtime, inode) for the entry-count
// estimator's cache-hit check. Uses syscall.Stat_t the same
// way this package's lock.go reaches for golang.org/x/sys/unix instead of
// a portability shim, since the ledger targets POSIX systems.
func Stat(path string) (sizeBytes int64, mtimeNS int64, inode uint64, err error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		return 0, 0, 0, statErr
	}
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.Size(), info.ModTime().UnixNano(), 0, nil
	}
	return info.Size(), info.ModTime().UnixNano(), sys.Ino, nil
}
