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

package overview

import (
	"html/template"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/gridwatch/internal/log"
	"github.com/tombee/gridwatch/internal/rundb"
	"github.com/tombee/gridwatch/internal/templates"
)

// FileName returns the page file name for a host.
func FileName(host string) string {
	return host + "_overview.html"
}

// Renderer writes the overview page when it is out of date, at most once
// per minimum interval.
type Renderer struct {
	path    string
	flag    *Flag
	tmpl    *template.Template
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRenderer creates a renderer writing <outputDir>/<host>_overview.html.
// A non-positive minInterval disables rate limiting.
func NewRenderer(outputDir, host string, flag *Flag, minInterval time.Duration, logger *slog.Logger) (*Renderer, error) {
	tmpl, err := templates.Parse(templates.OverviewName)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Discard()
	}
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Renderer{
		path:    filepath.Join(outputDir, FileName(host)),
		flag:    flag,
		tmpl:    tmpl,
		limiter: rate.NewLimiter(limit, 1),
		logger:  log.WithComponent(logger, "overview"),
	}, nil
}

// Path returns the page location.
func (r *Renderer) Path() string {
	return r.path
}

// Update renders the page built by build if the flag is set and the rate
// limit allows it. A deferred update keeps the flag set. It reports whether
// the page was written.
func (r *Renderer) Update(build func() Page) (bool, error) {
	if !r.flag.IsSet() || !r.limiter.Allow() {
		return false, nil
	}
	r.flag.Take()
	if err := r.Render(build()); err != nil {
		renders.WithLabelValues("error").Inc()
		return false, err
	}
	return true, nil
}

// Render writes page unconditionally.
func (r *Renderer) Render(page Page) error {
	start := time.Now()
	out, err := templates.Render(r.tmpl, page)
	if err != nil {
		return err
	}
	if err := rundb.WriteFileAtomic(r.path, out, 0o644); err != nil {
		return err
	}
	renders.WithLabelValues("ok").Inc()
	renderDuration.Observe(time.Since(start).Seconds())
	log.Trace(r.logger, "overview written", slog.String(log.PathKey, r.path))
	return nil
}
