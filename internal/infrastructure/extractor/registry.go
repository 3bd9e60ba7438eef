// Package extractor hosts the format-specific extraction strategies and the
// static registry the worker dispatches through.
package extractor

import (
	"strings"

	"github.com/nkuznetsov/docpipe/internal/core/ports"
)

// Registry maps declared mime types to extraction strategies. It is built
// once at startup and read-only afterwards; unmatched lookups are how the
// dispatcher resolves the unsupported-format outcome.
type Registry struct {
	byMime map[string]ports.Extractor
}

func NewRegistry() *Registry {
	return &Registry{byMime: make(map[string]ports.Extractor)}
}

func (r *Registry) Register(mimeType string, e ports.Extractor) *Registry {
	r.byMime[normalizeMime(mimeType)] = e
	return r
}

func (r *Registry) Resolve(mimeType string) (ports.Extractor, bool) {
	e, ok := r.byMime[normalizeMime(mimeType)]
	return e, ok
}

func normalizeMime(mimeType string) string {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	// Declared types may carry parameters, e.g. "text/csv; charset=utf-8".
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	return m
}
