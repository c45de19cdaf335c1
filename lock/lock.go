// Package lock provides PID file based mutual exclusion between runs.
//
// A lock file holds the PID of its owner. Acquiring a lock whose owner is
// still alive fails with ErrHeld; acquiring one whose owner is gone fails
// with ErrStale and leaves the file in place, the operator removes it.
// Stale locks are never stolen.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

var (
	// ErrHeld is returned when the lock is held by a running process.
	ErrHeld = errors.New("lock held by running process")

	// ErrStale is returned when the lock file's owner is gone.
	ErrStale = errors.New("stale lock file")
)

// Lock is an acquired lock file.
type Lock struct {
	path string
}

// Acquire takes the named lock in dir, writing the current PID into it.
func Acquire(dir, name string) (*Lock, error) {
	path := filepath.Join(dir, name+".lock")

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		pid, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if parseErr == nil && pidAlive(pid) {
			return nil, fmt.Errorf("%s owned by pid %d: %w", path, pid, ErrHeld)
		}
		return nil, fmt.Errorf("%s names pid %s which is gone, remove the file to continue: %w",
			path, strings.TrimSpace(string(data)), ErrStale)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("error reading lock file %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%s appeared while acquiring: %w", path, ErrHeld)
		}
		return nil, fmt.Errorf("error creating lock file %s: %w", path, err)
	}
	_, err = fmt.Fprintf(f, "%d\n", os.Getpid())
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("error writing lock file %s: %w", path, err)
	}
	return &Lock{path: path}, nil
}

// Release removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error removing lock file %s: %w", l.path, err)
	}
	return nil
}

// Path returns the location of the lock file.
func (l *Lock) Path() string {
	return l.path
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
