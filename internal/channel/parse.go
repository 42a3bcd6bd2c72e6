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

package channel

import (
	"regexp"
	"strings"

	"github.com/tombee/gridwatch/internal/record"
)

// Event names a recognized protocol event.
type Event string

const (
	EventNone                   Event = ""
	EventProtocolStarted        Event = "protocol_started"
	EventProtocolFinished       Event = "protocol_finished"
	EventFlowcellDiscovered     Event = "flowcell_discovered"
	EventDataAcquisitionStarted Event = "data_acquisition_started"
	EventFlowcellDisconnected   Event = "flowcell_disconnected"
	EventMuxScan                Event = "mux_scan"

	EventAttributeSet    Event = "attribute_set"
	EventProtocolRequest Event = "protocol_requested"
	EventContextTags     Event = "context_tags"
	EventQCReport        Event = "qc_report"
	EventSequencingStart Event = "sequencing_start"
)

var (
	pairPattern       = regexp.MustCompile(`([^\s,]+) = ([^\s,]+)`)
	setToPattern      = regexp.MustCompile(`([^\s,]+) set to (.+)`)
	cliArgPattern     = regexp.MustCompile(`'--([^\s,]+)=([^\s,]+)'`)
	quotedPairPattern = regexp.MustCompile(`'([^\s,]+)'[:,] u?'([^\s,]+)'`)
	poresPattern      = regexp.MustCompile(`has ([0-9]+) pores available for sequencing`)
	inUsePattern      = regexp.MustCompile(`Starting sequencing with ([0-9]+) pores`)
)

// ClassifyServer returns the event a control server log line reports.
// Checks run in order; the first match wins.
func ClassifyServer(line string) Event {
	switch {
	case strings.Contains(line, "protocol_started"):
		return EventProtocolStarted
	case strings.Contains(line, "protocol_finished"):
		return EventProtocolFinished
	case strings.Contains(line, "[engine/info]: : flowcell_discovered"):
		return EventFlowcellDiscovered
	case strings.Contains(line, "[engine/info]: : data_acquisition_started"):
		return EventDataAcquisitionStarted
	case strings.Contains(line, "flowcell_disconnected"):
		return EventFlowcellDisconnected
	case strings.Contains(line, "pores available for sequencing"):
		return EventMuxScan
	}
	return EventNone
}

// ClassifyBream returns the event a protocol log line reports.
func ClassifyBream(line string) Event {
	switch {
	case strings.Contains(line, "INFO - Attribute"):
		return EventAttributeSet
	case strings.Contains(line, "INFO - Asked to start protocol"):
		return EventProtocolRequest
	case strings.Contains(line, "INFO - Updating context tags in MinKNOW with"):
		return EventContextTags
	case strings.Contains(line, "platform_qc.report"):
		return EventQCReport
	case strings.Contains(line, "sequencing.start"):
		return EventSequencingStart
	}
	return EventNone
}

func extract(re *regexp.Regexp, line string) []Attr {
	var attrs []Attr
	for _, m := range re.FindAllStringSubmatch(line, -1) {
		attrs = append(attrs, Attr{Key: m[1], Value: m[2]})
	}
	return attrs
}

// Pairs extracts "key = value" attributes.
func Pairs(line string) []Attr { return extract(pairPattern, line) }

// SetTo extracts "key set to value" attributes.
func SetTo(line string) []Attr { return extract(setToPattern, line) }

// CLIArgs extracts quoted '--key=value' arguments.
func CLIArgs(line string) []Attr { return extract(cliArgPattern, line) }

// ContextTags extracts quoted 'key': 'value' tags. The sequencing kit is
// upper-cased.
func ContextTags(line string) []Attr {
	attrs := extract(quotedPairPattern, line)
	for i := range attrs {
		if attrs[i].Key == record.KeySequencingKit {
			attrs[i].Value = strings.ToUpper(attrs[i].Value)
		}
	}
	return attrs
}

// MuxCounts returns the available and in-use pore counts of a mux scan line.
// The last occurrence of each wins; in-use is empty when not reported.
func MuxCounts(line string) (total, inUse string) {
	for _, m := range poresPattern.FindAllStringSubmatch(line, -1) {
		total = m[1]
	}
	for _, m := range inUsePattern.FindAllStringSubmatch(line, -1) {
		inUse = m[1]
	}
	return total, inUse
}

// RunLocation is what the output path of a protocol tells about the run.
type RunLocation struct {
	RelativePath string
	Experiment   string
	Sample       string
	FlowcellID   string
}

// Attrs returns the non-empty location fields as attributes.
func (l RunLocation) Attrs() []Attr {
	var attrs []Attr
	for _, a := range []Attr{
		{record.KeyRelativePath, l.RelativePath},
		{record.KeyExperiment, l.Experiment},
		{record.KeySample, l.Sample},
		{record.KeyFlowcellID, l.FlowcellID},
	} {
		if a.Value != "" {
			attrs = append(attrs, a)
		}
	}
	return attrs
}

// ParseOutputPath derives the run location from an output path of the form
// <base>/./<relative>. Three segments are experiment/sample/run directory of
// a sequencing run, a single segment is the run directory of a QC run. The
// flowcell id is the fourth underscore separated field of the run directory,
// or its last field when there are fewer.
func ParseOutputPath(outputPath string) (RunLocation, bool) {
	_, rel, ok := strings.Cut(outputPath, "/./")
	if !ok {
		return RunLocation{}, false
	}
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return RunLocation{}, false
	}
	loc := RunLocation{RelativePath: rel}
	segments := strings.Split(rel, "/")
	switch len(segments) {
	case 3:
		loc.Experiment = segments[0]
		loc.Sample = segments[1]
		loc.FlowcellID = flowcellFromDir(segments[2])
	case 1:
		loc.FlowcellID = flowcellFromDir(segments[0])
	}
	return loc, true
}

func flowcellFromDir(name string) string {
	fields := strings.Split(name, "_")
	if len(fields) >= 4 {
		return fields[3]
	}
	return fields[len(fields)-1]
}
