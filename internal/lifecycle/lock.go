// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

var (
	// ErrLocked is returned when another running process holds the lock.
	ErrLocked = errors.New("instance lock is held by another process")

	// ErrInvalidPID is returned when the lock file contains invalid data.
	ErrInvalidPID = errors.New("invalid PID in file")
)

// LockedError names the process holding an instance lock.
type LockedError struct {
	Path    string
	PID     int
	Command string
}

func (e *LockedError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("%s is held by process %d (%s)", e.Path, e.PID, e.Command)
	}
	return fmt.Sprintf("%s is held by process %d", e.Path, e.PID)
}

// Is makes errors.Is(err, ErrLocked) match.
func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}

// InstanceLock is an flock-protected PID file. The lock lives as long as the
// file descriptor, so a crashed holder never blocks a restart.
type InstanceLock struct {
	path string
	file *os.File
}

// NewInstanceLock creates a lock for the given PID file path.
func NewInstanceLock(path string) *InstanceLock {
	return &InstanceLock{path: path}
}

// Path returns the PID file path.
func (l *InstanceLock) Path() string {
	return l.path
}

// Acquire takes the lock and writes the current PID to the file.
func (l *InstanceLock) Acquire() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			lerr := &LockedError{Path: l.path}
			if pid, rerr := l.Read(); rerr == nil {
				lerr.PID = pid
				lerr.Command, _ = ProcessCommand(pid)
			}
			return lerr
		}
		return fmt.Errorf("failed to lock %s: %w", l.path, err)
	}

	if err := f.Truncate(0); err != nil {
		l.unlock(f)
		return fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		l.unlock(f)
		return fmt.Errorf("failed to write PID: %w", err)
	}
	if err := f.Sync(); err != nil {
		l.unlock(f)
		return fmt.Errorf("failed to sync lock file: %w", err)
	}

	l.file = f
	return nil
}

// Read returns the PID stored in the lock file.
func (l *InstanceLock) Read() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, err
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPID, pidStr)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("%w: PID must be positive, got %d", ErrInvalidPID, pid)
	}
	return pid, nil
}

// Release removes the PID file and drops the lock.
func (l *InstanceLock) Release() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		l.unlock(f)
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	l.unlock(f)
	return nil
}

func (l *InstanceLock) unlock(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	f.Close()
}
