package wasmtool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tetratelabs/wazero/api"
)

// Describe calls the guest's "describe" export, which returns a JSON
// document enumerating the component's tools and their JSON-Schema input
// shapes. componentID is stamped onto every returned Descriptor.
func Describe(ctx context.Context, mod api.Module, componentID string) ([]Descriptor, error) {
	out, err := callJSONFunc(ctx, mod, "describe", []byte("{}"))
	if err != nil {
		return nil, fmt.Errorf("describe component: %w", err)
	}
	var schema Schema
	if err := json.Unmarshal(out, &schema); err != nil {
		return nil, fmt.Errorf("parse describe output: %w", err)
	}
	for i := range schema.Tools {
		schema.Tools[i].OwningComponent = componentID
	}
	return schema.Tools, nil
}

// CompileValidator compiles a tool's input_schema into a reusable
// validator, used to validate call_tool arguments before invoking the
// guest (SPEC_FULL.md §4.1). It returns a nil schema and no error when the
// tool has no input_schema.
func CompileValidator(d Descriptor) (*jsonschema.Schema, error) {
	if len(d.InputSchema) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	var doc any
	if err := json.Unmarshal(d.InputSchema, &doc); err != nil {
		return nil, fmt.Errorf("parse input schema for tool %q: %w", d.Name, err)
	}
	resourceName := "tool:" + d.Name
	if err := compiler.AddResource(resourceName, doc); err != nil {
		return nil, fmt.Errorf("add schema resource for tool %q: %w", d.Name, err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile schema for tool %q: %w", d.Name, err)
	}
	return schema, nil
}

// Invoke calls the guest export named tool.Name with argJSON and returns the
// raw JSON result, still wrapped in the guest's {ok: ...} / {error: ...}
// envelope per SPEC_FULL.md §4.4 step 5.
func Invoke(ctx context.Context, mod api.Module, tool Descriptor, argJSON []byte) ([]byte, error) {
	out, err := callJSONFunc(ctx, mod, tool.Name, argJSON)
	if err != nil {
		return nil, fmt.Errorf("invoke tool %q: %w", tool.Name, err)
	}
	return out, nil
}
