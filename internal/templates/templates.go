// Package templates provides the pure rendering capability the dispatch
// engine calls: (notification kind, language, data) -> {subject, body}.
// Concrete body styling is deliberately minimal; the contract is the mapping,
// not the markup.
package templates

import (
	"fmt"

	"relaypoint/internal/locale"
	"relaypoint/internal/types"
)

// Rendered holds the pre-rendered mail content ready for transmission.
type Rendered struct {
	Subject  string
	BodyHTML string
}

// Provider is the rendering capability consumed by the dispatch engine.
// Implementations must be pure: no I/O, no state, deterministic for a given
// (kind, language, data) triple.
type Provider interface {
	Render(kind types.NotificationKind, lang locale.Language, data map[string]string) (Rendered, error)
}

// renderFunc builds content for one kind in one language.
type renderFunc func(data map[string]string) Rendered

// Registry is the production Provider. It holds one renderFunc per
// (kind, language); lookups fall back to the default language before failing.
type Registry struct {
	entries map[types.NotificationKind]map[locale.Language]renderFunc
}

// NewRegistry constructs the Registry with all built-in mail kinds
// registered for every supported language.
func NewRegistry() *Registry {
	r := &Registry{
		entries: make(map[types.NotificationKind]map[locale.Language]renderFunc),
	}
	registerMailContent(r)
	return r
}

// register adds a renderFunc for a (kind, language) pair.
func (r *Registry) register(kind types.NotificationKind, lang locale.Language, fn renderFunc) {
	if r.entries[kind] == nil {
		r.entries[kind] = make(map[locale.Language]renderFunc)
	}
	r.entries[kind][lang] = fn
}

// Render returns the subject and body for the given kind and language.
// Unknown languages fall back to the default; an unknown kind is an error
// (the dispatch engine validates kinds at ingress, so this indicates a
// programming error, not bad input).
func (r *Registry) Render(kind types.NotificationKind, lang locale.Language, data map[string]string) (Rendered, error) {
	byLang, ok := r.entries[kind]
	if !ok {
		return Rendered{}, fmt.Errorf("templates: no content registered for kind %q", kind)
	}

	fn, ok := byLang[lang]
	if !ok {
		fn, ok = byLang[locale.Default]
		if !ok {
			return Rendered{}, fmt.Errorf("templates: kind %q has no default-language content", kind)
		}
	}

	if data == nil {
		data = map[string]string{}
	}
	return fn(data), nil
}

// Compile-time assertion that Registry implements Provider.
var _ Provider = (*Registry)(nil)

// field reads a data key with a fallback default.
func field(data map[string]string, key, def string) string {
	if v, ok := data[key]; ok && v != "" {
		return v
	}
	return def
}
