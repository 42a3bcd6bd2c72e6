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

package scheduler

import (
	"context"
	"time"

	"github.com/tombee/gridwatch/internal/lifecycle"
)

// Process is a running external tool.
type Process interface {
	Terminate(timeout time.Duration) error
	Done() <-chan struct{}
}

// Runner launches external tools.
type Runner interface {
	// Start launches a tool in the background
	Start(binary string, args []string) (Process, error)

	// Run executes a tool and returns its exit code
	Run(ctx context.Context, binary string, args []string) (int, error)
}

// Opener opens a generated report for the user.
type Opener interface {
	Open(path string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string) error

// Open calls f(path).
func (f OpenerFunc) Open(path string) error { return f(path) }

// BrowserOpener opens reports with the desktop's default handler.
var BrowserOpener = OpenerFunc(lifecycle.OpenInBrowser)

// SpawnRunner runs tools with a lifecycle.Spawner.
type SpawnRunner struct {
	Spawner *lifecycle.Spawner
}

// NewSpawnRunner returns a runner spawning tools at the given niceness.
func NewSpawnRunner(niceness int) *SpawnRunner {
	return &SpawnRunner{Spawner: lifecycle.NewSpawner().WithNiceness(niceness)}
}

// Start implements Runner.
func (r *SpawnRunner) Start(binary string, args []string) (Process, error) {
	proc, err := r.Spawner.Start(binary, args)
	if proc == nil {
		return nil, err
	}
	// a priority failure still leaves a usable process
	return proc, nil
}

// Run implements Runner.
func (r *SpawnRunner) Run(ctx context.Context, binary string, args []string) (int, error) {
	return r.Spawner.Run(ctx, binary, args)
}
