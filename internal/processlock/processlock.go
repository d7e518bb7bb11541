// Package processlock implements the Process Lock (spec.md §4.D):
// cross-process advisory exclusive locking keyed by a 64-bit id, backed by
// one file per id under a locks directory.
//
// Grounded on the teacher's internal/recovery/state.Store atomic-directory
// discipline (ensureDirDurable) for the locks directory itself, and on
// github.com/gofrs/flock for the OS-level advisory lock primitive the
// teacher's own exec.go does not need (the teacher never contends across
// independent host processes; blaze's cache store and executor resolver
// do, per spec.md §4.C/§4.G).
package processlock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"
)

// WellKnownID values reserved by spec.md §4.D.
const (
	CleanupLockID    uint64 = 0
	RustBridgeLockID uint64 = 1
)

// Locker issues exclusive advisory locks for 64-bit ids under dir.
type Locker struct {
	dir string
}

// New returns a Locker rooted at dir, creating it if necessary.
func New(dir string) (*Locker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("processlock: creating lock dir %q: %w", dir, err)
	}
	return &Locker{dir: dir}, nil
}

func (l *Locker) path(id uint64) string {
	return filepath.Join(l.dir, strconv.FormatUint(id, 16))
}

// Held is a currently-held lock; release it with Unlock.
type Held struct {
	fl *flock.Flock
}

// Unlock releases the lock.
func (h *Held) Unlock() error {
	return h.fl.Unlock()
}

// Lock blocks until the exclusive lock for id is acquired. onWait, if
// non-nil, is invoked once if the lock is currently contended, before
// blocking further (spec.md §4.D: callers may want to report "waiting on
// lock" to the user).
func (l *Locker) Lock(id uint64, onWait func()) (*Held, error) {
	fl := flock.New(l.path(id))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("processlock: try-locking %d: %w", id, err)
	}
	if !ok {
		if onWait != nil {
			onWait()
		}
		if err := fl.Lock(); err != nil {
			return nil, fmt.Errorf("processlock: locking %d: %w", id, err)
		}
	}
	return &Held{fl: fl}, nil
}

// Locked runs fn while holding id's exclusive lock, releasing it
// unconditionally afterwards.
func (l *Locker) Locked(id uint64, onWait func(), fn func() error) error {
	held, err := l.Lock(id, onWait)
	if err != nil {
		return err
	}
	defer held.Unlock()
	return fn()
}

// CleanupStale holds the well-known cleanup lock (spec.md §4.D) while it
// deletes every lock file in the directory that no process currently
// holds, then runs fn, serializing maintenance passes across every blaze
// process sharing this lock directory.
func (l *Locker) CleanupStale(fn func() error) error {
	return l.Locked(CleanupLockID, nil, func() error {
		entries, err := os.ReadDir(l.dir)
		if err != nil {
			return fmt.Errorf("processlock: reading lock dir %q: %w", l.dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			fl := flock.New(filepath.Join(l.dir, e.Name()))
			if ok, err := fl.TryLock(); err == nil && ok {
				_ = os.Remove(fl.Path())
				_ = fl.Unlock()
			}
		}
		return fn()
	})
}

// TryLock attempts a non-blocking acquisition, returning ok=false instead
// of waiting when the lock is already held elsewhere.
func (l *Locker) TryLock(id uint64) (*Held, bool, error) {
	fl := flock.New(l.path(id))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("processlock: try-locking %d: %w", id, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Held{fl: fl}, true, nil
}

// LockWithTimeout polls for the lock, giving up after timeout elapses.
func (l *Locker) LockWithTimeout(id uint64, timeout time.Duration) (*Held, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	fl := flock.New(l.path(id))
	ok, err := fl.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("processlock: locking %d with timeout: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("processlock: timed out waiting for lock %d", id)
	}
	return &Held{fl: fl}, nil
}
