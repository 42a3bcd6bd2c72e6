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

// Package logline defines timestamped log lines and the timestamp
// conventions of the instrument's log origins.
package logline

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Origin identifies which log stream a line was read from.
type Origin string

const (
	// OriginServer is the control server log. Its lines establish ground truth
	// for a channel and carry a fixed-width timestamp prefix.
	OriginServer Origin = "server"
	// OriginBream is the protocol (bream) log. Its timestamp is the second
	// " - " delimited field.
	OriginBream Origin = "bream"
)

// ServerTimestampWidth is the width of the timestamp prefix of server log lines.
const ServerTimestampWidth = 23

// ErrNoTimestamp is returned when a line does not carry a parseable timestamp.
var ErrNoTimestamp = errors.New("no parseable timestamp")

// Line is one complete log line tagged with its origin and parsed timestamp.
type Line struct {
	Timestamp time.Time
	Origin    Origin
	Raw       string
}

// Extractor returns the raw timestamp text of a line.
type Extractor func(line string) (string, error)

// ServerTimestamp returns the fixed-width timestamp prefix of a server log line.
func ServerTimestamp(line string) (string, error) {
	if len(line) < ServerTimestampWidth {
		return "", ErrNoTimestamp
	}
	return line[:ServerTimestampWidth], nil
}

// BreamTimestamp returns the second " - " delimited field of a bream log line.
func BreamTimestamp(line string) (string, error) {
	fields := strings.Split(line, " - ")
	if len(fields) < 2 {
		return "", ErrNoTimestamp
	}
	return fields[1], nil
}

// layouts accepted by ParseTimestamp. A fractional second separated by '.'
// or ',' is accepted after the seconds field by every layout.
var layouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
}

// ParseTimestamp parses the timestamp formats written by the instrument
// software. Timestamps without zone information are interpreted as local time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrNoTimestamp
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrNoTimestamp, s)
}

// Parse builds a Line from raw text using the extractor for its origin.
func Parse(origin Origin, extract Extractor, raw string) (Line, error) {
	text, err := extract(raw)
	if err != nil {
		return Line{}, err
	}
	ts, err := ParseTimestamp(text)
	if err != nil {
		return Line{}, err
	}
	return Line{Timestamp: ts, Origin: origin, Raw: raw}, nil
}

// Compare orders lines by timestamp, then origin, then raw text, so that
// identical inputs always yield the same order.
func Compare(a, b Line) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	if c := strings.Compare(string(a.Origin), string(b.Origin)); c != 0 {
		return c
	}
	return strings.Compare(a.Raw, b.Raw)
}
