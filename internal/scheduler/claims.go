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

import "sync"

// ClaimRegistry records which channel holds the report generation right for
// a sample directory. Several schedulers of the owning channel may hold the
// claim at once; it is freed when the last of them releases it.
type ClaimRegistry struct {
	mu     sync.Mutex
	claims map[string]*claim
}

type claim struct {
	owner   string
	holders map[string]struct{}
}

// NewClaimRegistry creates an empty registry.
func NewClaimRegistry() *ClaimRegistry {
	return &ClaimRegistry{claims: make(map[string]*claim)}
}

// Claim claims dir for owner on behalf of holder if it is free, and reports
// whether owner holds it.
func (r *ClaimRegistry) Claim(dir, owner, holder string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.claims[dir]
	if !ok {
		c = &claim{owner: owner, holders: make(map[string]struct{})}
		r.claims[dir] = c
	}
	if c.owner != owner {
		return false
	}
	c.holders[holder] = struct{}{}
	return true
}

// Release drops holder from the claim on dir.
func (r *ClaimRegistry) Release(dir, holder string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.claims[dir]
	if !ok {
		return
	}
	delete(c.holders, holder)
	if len(c.holders) == 0 {
		delete(r.claims, dir)
	}
}

// Owner returns the channel holding dir.
func (r *ClaimRegistry) Owner(dir string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.claims[dir]
	if !ok {
		return "", false
	}
	return c.owner, true
}
