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

/*
Package lifecycle runs and stops the external tools supervised by gridwatch
and guards the output directory against a second gridwatch instance.

# Process Spawning

External tools run in their own process group at lowered scheduling
priority, with standard output and error discarded:

	spawner := lifecycle.NewSpawner().WithNiceness(19)
	proc, err := spawner.Start("perl", []string{"watchnchop", "-o", stats, dest})
	if err != nil {
	    // Handle error
	}
	defer proc.Terminate(5 * time.Second)

Synchronous tools report their exit code:

	code, err := spawner.Run(ctx, "statsparser", []string{sampleDir, "-q"})

# Instance Lock

The instance lock is an flock-protected PID file. A file left behind by a
process that no longer runs is taken over:

	lock := lifecycle.NewInstanceLock("/data/dominION/gridwatch.pid")
	if err := lock.Acquire(); err != nil {
	    // another instance is running
	}
	defer lock.Release()
*/
package lifecycle
