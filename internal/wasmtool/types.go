// Package wasmtool derives a component's tool schema from its exported
// interface and provides the packed pointer+length ABI used to exchange
// JSON payloads with a guest instance.
package wasmtool

import "encoding/json"

// Descriptor is the dispatcher-visible description of one component-exported
// tool, derived deterministically from the component's interface types at
// load time.
type Descriptor struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	InputSchema     json.RawMessage `json:"input_schema"`
	OutputSchema    json.RawMessage `json:"output_schema,omitempty"`
	OwningComponent string          `json:"owning_component"`
}

// Schema is the raw shape a component's "describe" export returns: a list
// of tools without OwningComponent populated yet (the lifecycle manager
// stamps that in once the component id is known).
type Schema struct {
	Tools []Descriptor `json:"tools"`
}
