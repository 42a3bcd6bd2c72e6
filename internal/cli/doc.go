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
Package cli provides the gridwatch command tree.

The root command watches the instrument until interrupted. Subcommands work
on the output directory offline.

# Command Tree

	gridwatch            Watch all channels (default)
	├── runs             List recorded sequencing runs
	├── config           Show or initialise the configuration
	│   ├── show
	│   └── init
	└── version          Show version

# Usage

From main.go:

	cli.SetVersion(version, commit, date)
	if err := cli.NewRootCommand().Execute(); err != nil {
	    cli.HandleExitError(err)
	}

# Flag Precedence

Flags that are set explicitly override the config file and the environment.
See internal/config for the file format.
*/
package cli
