// Package lockfile provides host-local mutual exclusion between backup runs.
//
// The lock is an advisory PID file: a second invocation refuses to start while
// the recorded holder process is alive. It is not a distributed lock and
// carries no lease; correctness relies on one binary per host.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning is returned by Acquire when another live process holds
// the lock.
var ErrAlreadyRunning = errors.New("another backup run is already in progress")

// Lock guards a single lock-file path. The zero value is not usable; use New.
type Lock struct {
	path string
	held bool
}

func New(path string) *Lock {
	return &Lock{path: path}
}

// Path returns the lock-file location.
func (l *Lock) Path() string { return l.path }

// Acquire records the current process as the lock holder. A record whose
// holder is still alive fails with ErrAlreadyRunning; a stale or unreadable
// record is overwritten.
func (l *Lock) Acquire() error {
	if l.held {
		return nil
	}
	if pid, ok := l.HolderPID(); ok && processAlive(pid) {
		return fmt.Errorf("%w (pid %d, lock %s)", ErrAlreadyRunning, pid, l.path)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("lockfile: create lock directory: %w", err)
	}
	if err := os.WriteFile(l.path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("lockfile: write %s: %w", l.path, err)
	}
	l.held = true
	return nil
}

// Release removes the lock record. It is idempotent and safe to call on a
// lock that was never acquired.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("lockfile: remove %s: %w", l.path, err)
	}
	return nil
}

// Held reports whether this instance currently holds the lock.
func (l *Lock) Held() bool { return l.held }

// HolderPID reads the PID recorded in the lock file. ok is false when the
// file is absent or does not contain a PID.
func (l *Lock) HolderPID() (pid int, ok bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, false
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive probes the process with signal 0. EPERM means the process
// exists but belongs to another user, which still counts as alive.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
