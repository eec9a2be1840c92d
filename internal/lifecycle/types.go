// Package lifecycle is the authoritative registry of loaded components: it
// orchestrates load/unload/grant/revoke under a per-component locking
// discipline, derives and caches tool schemas, and dispatches invocations
// through the policy compiler and sandbox instantiator.
package lifecycle

import (
	"time"

	"github.com/microsoft/wassette/internal/policy"
	"github.com/microsoft/wassette/internal/wasmtool"
)

// ComponentID uniquely identifies a loaded component within the registry.
type ComponentID string

// AutoloadMode controls what the Manager does with the plugin directory at
// construction time.
type AutoloadMode int

const (
	AutoloadEager AutoloadMode = iota
	AutoloadLazy
	AutoloadOff
)

// ParseAutoloadMode maps a config string to an AutoloadMode, defaulting to
// AutoloadLazy on an unrecognized or empty value.
func ParseAutoloadMode(s string) AutoloadMode {
	switch s {
	case "eager":
		return AutoloadEager
	case "off":
		return AutoloadOff
	default:
		return AutoloadLazy
	}
}

// ComponentEntry is one registry row: the component's source digest, its
// compiled artifact bytes (kept so a fresh sandbox.Session can be
// instantiated per invocation), its derived tool schema, and its attached
// policy document, if any.
type ComponentEntry struct {
	ID       ComponentID
	Source   string
	Digest   string
	Wasm     []byte
	Schema   []wasmtool.Descriptor
	Policy   *policy.Document
	LoadedAt time.Time
}

// LoadFailure records one component that failed to load during an autoload
// batch; the batch itself is never aborted by an individual failure.
type LoadFailure struct {
	Source string
	Err    error
}

// ComponentSummary is the externally-visible projection of a ComponentEntry
// used by list-components.
type ComponentSummary struct {
	ID        ComponentID
	Source    string
	Digest    string
	ToolNames []string
	LoadedAt  time.Time
}

func summarize(e *ComponentEntry) ComponentSummary {
	names := make([]string, len(e.Schema))
	for i, d := range e.Schema {
		names[i] = d.Name
	}
	return ComponentSummary{
		ID:        e.ID,
		Source:    e.Source,
		Digest:    e.Digest,
		ToolNames: names,
		LoadedAt:  e.LoadedAt,
	}
}
