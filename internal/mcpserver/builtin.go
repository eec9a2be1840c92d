package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/microsoft/wassette/internal/lifecycle"
	"github.com/microsoft/wassette/internal/policy"
	"github.com/microsoft/wassette/internal/wassetteerr"
)

// builtinTool is one fixed admin tool: its MCP-visible schema plus the
// handler that executes it against the lifecycle manager and secret store.
type builtinTool struct {
	name        string
	description string
	inputSchema json.RawMessage
	handler     func(ctx context.Context, d *Dispatcher, args json.RawMessage) (any, error)
}

// builtinTools is the stable contract of §6: names, arguments, and effects
// never change shape across releases without a protocol version bump.
var builtinTools = []builtinTool{
	{
		name:        "load-component",
		description: "Load a Wasm component from a file://, https://, or OCI source URI and register its exported tools.",
		inputSchema: schemaObj(map[string]string{"source": "string", "id": "string"}, "source"),
		handler:     handleLoadComponent,
	},
	{
		name:        "unload-component",
		description: "Unload a previously loaded component and deregister its tools.",
		inputSchema: schemaObj(map[string]string{"id": "string"}, "id"),
		handler:     handleUnloadComponent,
	},
	{
		name:        "list-components",
		description: "List every currently loaded component and the tool names it exports.",
		inputSchema: json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`),
		handler:     handleListComponents,
	},
	{
		name:        "get-policy",
		description: "Return the permission policy currently attached to a component.",
		inputSchema: schemaObj(map[string]string{"id": "string"}, "id"),
		handler:     handleGetPolicy,
	},
	{
		name:        "grant-permission",
		description: "Grant a network, storage, or environment permission to a component's policy.",
		inputSchema: grantRevokeSchema(),
		handler:     handleGrantPermission,
	},
	{
		name:        "revoke-permission",
		description: "Revoke a previously granted network, storage, or environment permission from a component's policy.",
		inputSchema: grantRevokeSchema(),
		handler:     handleRevokePermission,
	},
	{
		name:        "set-secret",
		description: "Set a secret key/value pair that will be projected into a component's environment at invocation time.",
		inputSchema: schemaObj(map[string]string{"id": "string", "key": "string", "value": "string"}, "id", "key", "value"),
		handler:     handleSetSecret,
	},
	{
		name:        "delete-secret",
		description: "Delete a secret key previously set for a component.",
		inputSchema: schemaObj(map[string]string{"id": "string", "key": "string"}, "id", "key"),
		handler:     handleDeleteSecret,
	},
}

func schemaObj(props map[string]string, required ...string) json.RawMessage {
	properties := make(map[string]any, len(props))
	for k, t := range props {
		properties[k] = map[string]string{"type": t}
	}
	doc := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
	b, _ := json.Marshal(doc)
	return b
}

func grantRevokeSchema() json.RawMessage {
	doc := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":      map[string]string{"type": "string"},
			"kind":    map[string]any{"type": "string", "enum": []string{"network", "storage", "environment"}},
			"details": map[string]string{"type": "object"},
		},
		"required":             []string{"id", "kind", "details"},
		"additionalProperties": false,
	}
	b, _ := json.Marshal(doc)
	return b
}

func builtinByName(name string) (*builtinTool, bool) {
	for i := range builtinTools {
		if builtinTools[i].name == name {
			return &builtinTools[i], true
		}
	}
	return nil, false
}

func handleLoadComponent(ctx context.Context, d *Dispatcher, args json.RawMessage) (any, error) {
	var req struct {
		Source string `json:"source"`
		ID     string `json:"id"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, wassetteerr.Wrap(wassetteerr.InvalidInput, "parse load-component arguments", err)
	}
	if req.Source == "" {
		return nil, wassetteerr.New(wassetteerr.InvalidInput, "source is required")
	}
	id, schema, err := d.manager.Load(ctx, req.Source, req.ID)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(schema))
	for i, s := range schema {
		names[i] = s.Name
	}
	return map[string]any{"id": id, "tools": names}, nil
}

func handleUnloadComponent(ctx context.Context, d *Dispatcher, args json.RawMessage) (any, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, wassetteerr.Wrap(wassetteerr.InvalidInput, "parse unload-component arguments", err)
	}
	if req.ID == "" {
		return nil, wassetteerr.New(wassetteerr.InvalidInput, "id is required")
	}
	if err := d.manager.Unload(ctx, lifecycle.ComponentID(req.ID)); err != nil {
		return nil, err
	}
	return map[string]any{"id": req.ID, "unloaded": true}, nil
}

func handleListComponents(ctx context.Context, d *Dispatcher, args json.RawMessage) (any, error) {
	summaries := d.manager.ListComponents()
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	out := make([]map[string]any, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, map[string]any{"id": s.ID, "tools": s.ToolNames})
	}
	return out, nil
}

func handleGetPolicy(ctx context.Context, d *Dispatcher, args json.RawMessage) (any, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, wassetteerr.Wrap(wassetteerr.InvalidInput, "parse get-policy arguments", err)
	}
	doc, err := d.manager.GetPolicy(lifecycle.ComponentID(req.ID))
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = policy.Empty()
	}
	return doc, nil
}

func handleGrantPermission(ctx context.Context, d *Dispatcher, args json.RawMessage) (any, error) {
	return mutatePermission(ctx, d, args, true)
}

func handleRevokePermission(ctx context.Context, d *Dispatcher, args json.RawMessage) (any, error) {
	return mutatePermission(ctx, d, args, false)
}

func mutatePermission(ctx context.Context, d *Dispatcher, args json.RawMessage, grant bool) (any, error) {
	var req struct {
		ID      string          `json:"id"`
		Kind    string          `json:"kind"`
		Details json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, wassetteerr.Wrap(wassetteerr.InvalidInput, "parse permission arguments", err)
	}
	mutate, err := permissionMutator(req.Kind, req.Details, grant)
	if err != nil {
		return nil, err
	}
	id := lifecycle.ComponentID(req.ID)
	if grant {
		err = d.manager.Grant(ctx, id, mutate)
	} else {
		err = d.manager.Revoke(ctx, id, mutate)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": req.ID, "kind": req.Kind, "applied": true}, nil
}

func permissionMutator(kind string, details json.RawMessage, grant bool) (func(*policy.Document), error) {
	switch kind {
	case "network":
		var d struct {
			Host string `json:"host"`
		}
		if err := json.Unmarshal(details, &d); err != nil || d.Host == "" {
			return nil, wassetteerr.New(wassetteerr.InvalidInput, "network permission requires details.host")
		}
		if grant {
			return func(doc *policy.Document) { doc.GrantNetwork(d.Host) }, nil
		}
		return func(doc *policy.Document) { doc.RevokeNetwork(d.Host) }, nil
	case "storage":
		var d struct {
			URI    string          `json:"uri"`
			Access []policy.Access `json:"access"`
		}
		if err := json.Unmarshal(details, &d); err != nil || d.URI == "" {
			return nil, wassetteerr.New(wassetteerr.InvalidInput, "storage permission requires details.uri")
		}
		if grant {
			return func(doc *policy.Document) { doc.GrantStorage(d.URI, d.Access) }, nil
		}
		return func(doc *policy.Document) { doc.RevokeStorage(d.URI) }, nil
	case "environment":
		var d struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(details, &d); err != nil || d.Key == "" {
			return nil, wassetteerr.New(wassetteerr.InvalidInput, "environment permission requires details.key")
		}
		if grant {
			return func(doc *policy.Document) { doc.GrantEnvironment(d.Key) }, nil
		}
		return func(doc *policy.Document) { doc.RevokeEnvironment(d.Key) }, nil
	default:
		return nil, wassetteerr.New(wassetteerr.InvalidInput, fmt.Sprintf("unknown permission kind %q", kind))
	}
}

func handleSetSecret(ctx context.Context, d *Dispatcher, args json.RawMessage) (any, error) {
	var req struct {
		ID    string `json:"id"`
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, wassetteerr.Wrap(wassetteerr.InvalidInput, "parse set-secret arguments", err)
	}
	if req.ID == "" || req.Key == "" {
		return nil, wassetteerr.New(wassetteerr.InvalidInput, "id and key are required")
	}
	if d.secretStore == nil {
		return nil, wassetteerr.New(wassetteerr.RuntimeError, "no secret store configured")
	}
	if err := d.secretStore.Set(req.ID, req.Key, req.Value); err != nil {
		return nil, wassetteerr.Wrap(wassetteerr.IoError, "persist secret", err)
	}
	return map[string]any{"id": req.ID, "key": req.Key, "set": true}, nil
}

func handleDeleteSecret(ctx context.Context, d *Dispatcher, args json.RawMessage) (any, error) {
	var req struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, wassetteerr.Wrap(wassetteerr.InvalidInput, "parse delete-secret arguments", err)
	}
	if req.ID == "" || req.Key == "" {
		return nil, wassetteerr.New(wassetteerr.InvalidInput, "id and key are required")
	}
	if d.secretStore == nil {
		return nil, wassetteerr.New(wassetteerr.RuntimeError, "no secret store configured")
	}
	if err := d.secretStore.Delete(req.ID, req.Key); err != nil {
		return nil, wassetteerr.Wrap(wassetteerr.IoError, "delete secret", err)
	}
	return map[string]any{"id": req.ID, "key": req.Key, "deleted": true}, nil
}
