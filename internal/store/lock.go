// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrBusy is returned when another live process owns the device lock.
var ErrBusy = errors.New("store: device busy")

// LockFile is the lock name inside a sensor store.
const LockFile = ".lock"

// Lock is an exclusive, pid-stamped advisory lock on a sensor device.
type Lock struct {
	f *os.File
}

// StaleFunc reports whether the recorded holder pid may be reclaimed even
// though the process still exists (for example its liveness record has
// gone stale).
type StaleFunc func(pid int) bool

// AcquireLock takes the exclusive lock at path. It fails fast with ErrBusy
// when another open description holds the flock, or when the recorded pid
// belongs to a live process that stale does not release.
func AcquireLock(path string, stale StaleFunc) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("lock dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		pid := readPID(f)
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: held by pid %d", ErrBusy, pid)
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	// The flock is ours. A recorded pid that is still alive means the
	// previous holder lost its flock without exiting; only reclaim when
	// its liveness says it is gone.
	if pid := readPID(f); pid > 0 && pid != os.Getpid() && processAlive(pid) {
		if stale == nil || !stale(pid) {
			unix.Flock(int(f.Fd()), unix.LOCK_UN)
			f.Close()
			return nil, fmt.Errorf("%w: recorded holder pid %d is alive", ErrBusy, pid)
		}
	}

	if err := writePID(f, os.Getpid()); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("stamp lock %s: %w", path, err)
	}

	return &Lock{f: f}, nil
}

// Release clears the pid stamp and drops the lock. Safe to call twice.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil

	f.Truncate(0)
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return f.Close()
}

func readPID(f *os.File) int {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0
	}
	raw, err := io.ReadAll(io.LimitReader(f, 32))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0
	}
	return pid
}

func writePID(f *os.File, pid int) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(pid)), 0); err != nil {
		return err
	}
	return f.Sync()
}

func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
