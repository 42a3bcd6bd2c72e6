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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Spawner starts external tools.
type Spawner struct {
	// Env is the environment of spawned processes
	Env []string

	// Niceness is added to the scheduling priority of spawned processes
	Niceness int

	// Output receives stdout and stderr; nil discards them
	Output io.Writer
}

// NewSpawner creates a spawner inheriting the current environment.
func NewSpawner() *Spawner {
	return &Spawner{
		Env: os.Environ(),
	}
}

// WithEnv sets the environment of spawned processes.
func (s *Spawner) WithEnv(env []string) *Spawner {
	s.Env = env
	return s
}

// WithNiceness sets the priority adjustment of spawned processes.
func (s *Spawner) WithNiceness(n int) *Spawner {
	s.Niceness = n
	return s
}

func (s *Spawner) configure(cmd *exec.Cmd) {
	cmd.Env = s.Env
	cmd.Stdin = nil
	cmd.Stdout = s.Output
	cmd.Stderr = s.Output
	// own process group so termination reaches the tool's children
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func (s *Spawner) lowerPriority(pid int) error {
	if s.Niceness == 0 {
		return nil
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, s.Niceness); err != nil {
		return fmt.Errorf("failed to lower priority of process %d: %w", pid, err)
	}
	return nil
}

// Start launches binary in the background. A failure to lower the priority
// is returned together with the running process.
func (s *Spawner) Start(binary string, args []string) (*Process, error) {
	cmd := exec.Command(binary, args...)
	s.configure(cmd)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}
	proc := newProcess(cmd)
	return proc, s.lowerPriority(proc.Pid())
}

// Run executes binary and waits for it. The exit code is returned with a nil
// error when the process ran to completion, whatever its status.
func (s *Spawner) Run(ctx context.Context, binary string, args []string) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cmd := exec.CommandContext(ctx, binary, args...)
	s.configure(cmd)
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to start process: %w", err)
	}
	_ = s.lowerPriority(cmd.Process.Pid)

	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return exitErr.ExitCode(), nil
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	return -1, err
}
