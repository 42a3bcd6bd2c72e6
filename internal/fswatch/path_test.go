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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepth(t *testing.T) {
	root := filepath.FromSlash("/data/runs")
	tests := []struct {
		path string
		want int
	}{
		{"/data/runs", 0},
		{"/data/runs/exp", 1},
		{"/data/runs/exp/sample", 2},
		{"/data/runs/exp/sample/r1_logdata.json", 3},
		{"/data", -1},
		{"/data/other/x", -1},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Depth(root, filepath.FromSlash(tt.path)))
		})
	}
}

func TestNormalizePath(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := NormalizePath("")
		assert.Error(t, err)
	})

	t.Run("env expansion", func(t *testing.T) {
		t.Setenv("GRIDWATCH_TEST_DIR", t.TempDir())
		got, err := NormalizePath("$GRIDWATCH_TEST_DIR/missing")
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(got))
		assert.Equal(t, "missing", filepath.Base(got))
		assert.NotContains(t, got, "$")
	})

	t.Run("tilde", func(t *testing.T) {
		home, err := os.UserHomeDir()
		if err != nil {
			t.Skip("no home directory")
		}
		got, err := NormalizePath("~/gridwatch-nonexistent")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "gridwatch-nonexistent"), got)
	})
}

func TestWalkDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "exp", "sample", "deep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "exp", "file.txt"), nil, 0o644))

	dirs, err := WalkDirectory(root, 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		root,
		filepath.Join(root, "exp"),
		filepath.Join(root, "exp", "sample"),
	}, dirs)

	dirs, err = WalkDirectory(root, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{root}, dirs)
}
