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
	"errors"
	"sync"
	"time"
)

type fakeProcess struct {
	mu         sync.Mutex
	terminated int
	done       chan struct{}
	once       sync.Once
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) Terminate(time.Duration) error {
	p.mu.Lock()
	p.terminated++
	p.mu.Unlock()
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) terminations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

type runCall struct {
	binary string
	args   []string
}

type fakeRunner struct {
	mu       sync.Mutex
	started  []runCall
	runs     []runCall
	procs    []*fakeProcess
	exitCode int
	startErr error
}

func (r *fakeRunner) Start(binary string, args []string) (Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return nil, r.startErr
	}
	r.started = append(r.started, runCall{binary, args})
	p := newFakeProcess()
	r.procs = append(r.procs, p)
	return p, nil
}

func (r *fakeRunner) Run(ctx context.Context, binary string, args []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	r.runs = append(r.runs, runCall{binary, args})
	return r.exitCode, nil
}

func (r *fakeRunner) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started)
}

func (r *fakeRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func (r *fakeRunner) setExitCode(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exitCode = code
}

func (r *fakeRunner) process(i int) *fakeProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.procs[i]
}

type fakeOpener struct {
	mu     sync.Mutex
	opened []string
}

func (o *fakeOpener) Open(path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, path)
	return errors.New("no browser in tests")
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}
