// Package command classifies inbound text as host-editor command traffic.
// Execution itself is external; this package only answers "is this a
// command?" for the dispatcher's fallback chain.
package command

import "strings"

// naturalPrefixes recognizes free-text command phrasing. The channel
// carries both structured registry names and natural-language control
// traffic, so prefix matching runs alongside the exact registry lookup.
var naturalPrefixes = []string{
	"type ",
	"go to line",
	"open file",
	"search",
	"replace",
	"agent ",
}

// Registry is the set of known command names. Matching is
// case-insensitive on the exact name.
type Registry struct {
	names map[string]struct{}
}

func NewRegistry(names ...string) *Registry {
	r := &Registry{names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		r.names[strings.ToLower(name)] = struct{}{}
	}
	return r
}

// DefaultRegistry lists the editor commands reachable over the channel.
func DefaultRegistry() *Registry {
	return NewRegistry(
		"save",
		"undo",
		"redo",
		"format document",
		"toggle terminal",
		"close editor",
		"next tab",
		"previous tab",
	)
}

// Add registers another command name.
func (r *Registry) Add(name string) {
	r.names[strings.ToLower(name)] = struct{}{}
}

// IsCommand reports whether text matches a registered command name
// exactly (case-insensitive) or starts with a natural-language command
// prefix.
func (r *Registry) IsCommand(text string) bool {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return false
	}
	if _, ok := r.names[lowered]; ok {
		return true
	}
	for _, prefix := range naturalPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			return true
		}
	}
	return false
}
