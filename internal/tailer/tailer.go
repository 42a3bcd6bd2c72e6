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

// Package tailer incrementally reads growing text files and delivers complete
// lines exactly once.
package tailer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/tombee/gridwatch/internal/log"
)

// readChunk is the size of a single read from a tailed file.
const readChunk = 32 * 1024

// ErrNotOpen is returned when draining a path that is not registered.
var ErrNotOpen = errors.New("file not open")

// Tailer manages a set of opened files. Incomplete trailing lines are held
// back until a later read completes them with a newline.
type Tailer struct {
	mu     sync.Mutex
	files  map[string]*tailedFile
	logger *slog.Logger
}

type tailedFile struct {
	f       *os.File
	partial []byte
}

// New creates an empty Tailer.
func New(logger *slog.Logger) *Tailer {
	if logger == nil {
		logger = log.Discard()
	}
	return &Tailer{
		files:  make(map[string]*tailedFile),
		logger: logger,
	}
}

// Open registers a file for tailing, starting at offset 0. Opening a path that
// is already open closes the previous handle first.
func (t *Tailer) Open(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.files[path]; ok {
		prev.f.Close()
	}
	t.files[path] = &tailedFile{f: f}
	t.logger.Info("opened file", log.PathKey, path)
	return nil
}

// IsOpen reports whether path is currently tailed.
func (t *Tailer) IsOpen(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.files[path]
	return ok
}

// Drain reads everything currently available from path and calls handler once
// per complete, non-empty line (trimmed of surrounding whitespace). A trailing
// fragment without newline is kept for the next call. It returns the number of
// lines delivered.
func (t *Tailer) Drain(path string, handler func(line string)) (int, error) {
	t.mu.Lock()
	tf, ok := t.files[path]
	t.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotOpen, path)
	}
	if tf.truncated() {
		t.logger.Info("file truncated, reading from start", log.PathKey, path)
		if _, err := tf.f.Seek(0, io.SeekStart); err != nil {
			return 0, fmt.Errorf("failed to rewind %s: %w", path, err)
		}
		tf.partial = nil
	}

	var (
		delivered int
		buf       = make([]byte, readChunk)
	)
	for {
		n, err := tf.f.Read(buf)
		if n > 0 {
			delivered += tf.feed(buf[:n], handler)
		}
		if err == io.EOF {
			return delivered, nil
		}
		if err != nil {
			return delivered, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
}

// truncated reports whether the file shrank below the read offset.
func (tf *tailedFile) truncated() bool {
	info, err := tf.f.Stat()
	if err != nil {
		return false
	}
	offset, err := tf.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return false
	}
	return info.Size() < offset
}

// feed appends data to the pending fragment and emits every completed line.
func (tf *tailedFile) feed(data []byte, handler func(line string)) int {
	delivered := 0
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			tf.partial = append(tf.partial, data...)
			return delivered
		}
		line := data[:i]
		if len(tf.partial) > 0 {
			line = append(tf.partial, line...)
			tf.partial = nil
		}
		if s := strings.TrimSpace(string(line)); s != "" {
			handler(s)
			delivered++
		}
		data = data[i+1:]
	}
}

// Close releases the handle for path. Closing an unknown or already closed
// path is a no-op.
func (t *Tailer) Close(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tf, ok := t.files[path]
	if !ok {
		t.logger.Debug("file is not open, nothing to close", log.PathKey, path)
		return
	}
	if err := tf.f.Close(); err != nil {
		t.logger.Debug("file handle could not be closed", log.PathKey, path, log.Error(err))
	}
	delete(t.files, path)
}

// CloseAll releases every open handle.
func (t *Tailer) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for path, tf := range t.files {
		tf.f.Close()
		delete(t.files, path)
	}
}
