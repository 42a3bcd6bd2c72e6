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

package overview

import "sync"

// Flag records that the overview is out of date. Any goroutine may set it;
// the main loop takes it before rendering.
type Flag struct {
	mu  sync.Mutex
	set bool
}

// NewFlag creates a flag in the given state.
func NewFlag(set bool) *Flag {
	return &Flag{set: set}
}

// Set marks the overview out of date.
func (f *Flag) Set() {
	f.mu.Lock()
	f.set = true
	f.mu.Unlock()
}

// IsSet reports whether the overview is out of date.
func (f *Flag) IsSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// Take clears the flag and reports whether it was set.
func (f *Flag) Take() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.set
	f.set = false
	return was
}
