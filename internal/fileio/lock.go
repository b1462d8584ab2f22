package fileio

import (
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/paxocial/scribe-mcp-sub000/internal/scribeerr"
)

const lockPollInterval = 100 * time.Millisecond

// FileLock is an advisory, cross-process exclusive lock taken on a
// sibling "<target>.lock" file rather than the target itself, so the
// locking mechanism survives rename/rotation of the target and stays
// portable. Grounded on the POSIX advisory-locking pattern in the
// reference pack's transparency-dev-trillian-tessera posix storage layer
// (syscall.Flock_t / FcntlFlock over a sibling lock file), expressed here
// via golang.org/x/sys/unix since that package is already in the
// dependency graph.
type FileLock struct {
	path string
	f    *os.File
}

// NewFileLock returns a lock bound to "<targetPath>.lock".
func NewFileLock(targetPath string) *FileLock {
	return &FileLock{path: targetPath + ".lock"}
}

// Acquire blocks (polling at 100ms) until the lock is obtained or timeout
// elapses, in which case it returns LockTimeout.
func (l *FileLock) Acquire(timeout time.Duration) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return scribeerr.Wrap(scribeerr.KindLockTimeout, "open lock file", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			l.f = f
			return nil
		}
		if time.Now().After(deadline) {
			f.Close()
			return scribeerr.New(scribeerr.KindLockTimeout, "timed out acquiring lock: "+l.path)
		}
		time.Sleep(lockPollInterval)
	}
}

// Release unlocks and closes the lock file. The sibling file itself is
// left in place; only its advisory lock is released.
func (l *FileLock) Release() error {
	if l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}

// WithLock acquires the lock, runs fn, and always releases afterward.
func WithLock(targetPath string, timeout time.Duration, fn func() error) error {
	lock := NewFileLock(targetPath)
	if err := lock.Acquire(timeout); err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}
