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

// Package templates holds the page templates rendered by gridwatch.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
)

// OverviewName is the template of the status overview page.
const OverviewName = "overview"

//go:embed *.html.tmpl
var embeddedFS embed.FS

// List returns the names of all embedded templates.
func List() ([]string, error) {
	entries, err := embeddedFS.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded templates: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".html.tmpl") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".html.tmpl"))
	}
	return names, nil
}

// Get returns the raw content of a template.
func Get(name string) ([]byte, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return nil, fmt.Errorf("invalid template name: %q", name)
	}
	content, err := embeddedFS.ReadFile(name + ".html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("template %q not found: %w", name, err)
	}
	return content, nil
}

// Parse parses a template.
func Parse(name string) (*template.Template, error) {
	content, err := Get(name)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %q: %w", name, err)
	}
	return tmpl, nil
}

// Render executes a parsed template into a buffer.
func Render(tmpl *template.Template, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render template %q: %w", tmpl.Name(), err)
	}
	return buf.Bytes(), nil
}
