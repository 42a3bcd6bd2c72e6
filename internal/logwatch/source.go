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

package logwatch

import (
	"github.com/bmatcuk/doublestar/v4"

	"github.com/tombee/gridwatch/internal/logline"
)

// Source describes one log origin of a channel directory.
type Source struct {
	// Origin labels lines read from matching files
	Origin logline.Origin

	// Patterns are doublestar globs matched against the file's base name
	Patterns []string

	// Extract returns the timestamp text of a line
	Extract logline.Extractor

	// Activates marks the origin whose first file activates the event queue
	Activates bool
}

// Matches reports whether a base name belongs to this source.
func (s Source) Matches(name string) bool {
	for _, pattern := range s.Patterns {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// DefaultSources returns the control server and bream log sources.
func DefaultSources() []Source {
	return []Source{
		{
			Origin:    logline.OriginServer,
			Patterns:  []string{"control_server_log*"},
			Extract:   logline.ServerTimestamp,
			Activates: true,
		},
		{
			Origin:   logline.OriginBream,
			Patterns: []string{"bream*.log"},
			Extract:  logline.BreamTimestamp,
		},
	}
}

// ValidatePatterns checks that every pattern of every source is a valid glob.
func ValidatePatterns(sources []Source) error {
	for _, s := range sources {
		for _, p := range s.Patterns {
			if !doublestar.ValidatePattern(p) {
				return &InvalidPatternError{Origin: s.Origin, Pattern: p}
			}
		}
	}
	return nil
}

// InvalidPatternError reports a malformed source glob.
type InvalidPatternError struct {
	Origin  logline.Origin
	Pattern string
}

func (e *InvalidPatternError) Error() string {
	return "invalid pattern " + e.Pattern + " for origin " + string(e.Origin)
}
