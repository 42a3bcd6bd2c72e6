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
	"path/filepath"
	"time"
)

// Op is the kind of filesystem change reported by a Watcher.
type Op string

const (
	OpCreated  Op = "created"
	OpModified Op = "modified"
	OpDeleted  Op = "deleted"
	OpRenamed  Op = "renamed"
)

// AllOps lists every operation a Watcher can report.
var AllOps = []Op{OpCreated, OpModified, OpDeleted, OpRenamed}

// Event describes one filesystem change.
type Event struct {
	// Path is the absolute path of the file or directory
	Path string `json:"path"`

	// Name is the base name of Path
	Name string `json:"name"`

	// Dir is the directory containing Path
	Dir string `json:"dir"`

	// Ext is the file extension including the dot, empty if none
	Ext string `json:"ext"`

	// Op is the type of change
	Op Op `json:"op"`

	// Size is the file size in bytes, zero for deleted and renamed paths
	Size int64 `json:"size,omitempty"`

	// MTime is the modification time, zero for deleted and renamed paths
	MTime time.Time `json:"mtime,omitempty"`

	// IsDir is true for directories. For deletions it is only known for
	// directories the watcher was watching.
	IsDir bool `json:"is_dir"`
}

// NewEvent creates an Event, deriving the path components.
func NewEvent(path string, op Op, isDir bool, size int64, mtime time.Time) *Event {
	return &Event{
		Path:  path,
		Name:  filepath.Base(path),
		Dir:   filepath.Dir(path),
		Ext:   filepath.Ext(path),
		Op:    op,
		Size:  size,
		MTime: mtime,
		IsDir: isDir,
	}
}
