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

package fswatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// NormalizePath normalizes a file path by:
// - Expanding tilde (~) to home directory
// - Expanding environment variables
// - Converting to absolute path
// - Resolving symlinks when the path exists
func NormalizePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}

	path = os.ExpandEnv(path)

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	absPath = filepath.Clean(absPath)

	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// not created yet; watchers wait for it
		if os.IsNotExist(err) {
			return absPath, nil
		}
		return "", fmt.Errorf("failed to resolve symlinks: %w", err)
	}
	return resolved, nil
}

// Depth returns how many path components path lies below root: 0 for root
// itself, 1 for its direct children. Paths outside root return -1.
func Depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return -1
	}
	if rel == "." {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}

// WalkDirectory walks a directory up to maxDepth levels and returns the
// directories found, root first.
func WalkDirectory(root string, maxDepth int) ([]string, error) {
	paths := []string{root}

	if maxDepth <= 0 {
		return paths, nil
	}

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Skip directories we can't access
			return nil
		}
		if !info.IsDir() || path == root {
			return nil
		}
		if Depth(root, path) > maxDepth {
			return filepath.SkipDir
		}
		paths = append(paths, path)
		return nil
	})

	return paths, err
}
