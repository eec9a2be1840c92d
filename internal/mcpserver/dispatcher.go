// Package mcpserver implements the Tool Dispatcher (SPEC_FULL.md §4.1): it
// classifies every incoming tool call, enforces input/output hygiene and
// per-client rate limiting, routes built-in admin calls directly against
// the lifecycle manager, and forwards component-exported calls to it for
// sandboxed invocation. Dispatcher is transport-agnostic; server.go wires
// it to the modelcontextprotocol/go-sdk MCP server.
package mcpserver

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/microsoft/wassette/internal/lifecycle"
	"github.com/microsoft/wassette/internal/secrets"
	"github.com/microsoft/wassette/internal/telemetry"
	"github.com/microsoft/wassette/internal/wasmtool"
	"github.com/microsoft/wassette/internal/wassetteerr"
)

// Dispatcher is the stateless (beyond the rate limiter) protocol-level
// executor described in §4.1.
type Dispatcher struct {
	manager     *lifecycle.Manager
	secretStore *secrets.Store
	limiter     *limiterSet
	strict      bool
	logger      telemetry.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(l telemetry.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithStrictValidation enables the injection-substring argument check of
// §4.1 step 1. Off by default so components whose arguments legitimately
// carry shell-like snippets (e.g. a "run this script" tool) are not broken.
func WithStrictValidation(strict bool) Option {
	return func(d *Dispatcher) { d.strict = strict }
}

// WithRateLimitCapacity overrides the default 100-token bucket capacity.
func WithRateLimitCapacity(capacity int) Option {
	return func(d *Dispatcher) { d.limiter = newLimiterSet(capacity) }
}

// New constructs a Dispatcher bound to manager and secretStore.
func New(manager *lifecycle.Manager, secretStore *secrets.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		manager:     manager,
		secretStore: secretStore,
		limiter:     newLimiterSet(100),
		logger:      telemetry.NewNoopLogger(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// ListTools returns every built-in admin tool plus every component-exported
// tool currently registered, sorted by name so repeated calls against
// identical registry state return an identical order (§4.1).
func (d *Dispatcher) ListTools() []wasmtool.Descriptor {
	out := make([]wasmtool.Descriptor, 0, len(builtinTools))
	for _, b := range builtinTools {
		out = append(out, wasmtool.Descriptor{
			Name:        b.name,
			Description: b.description,
			InputSchema: b.inputSchema,
		})
	}
	for _, s := range d.manager.ListComponents() {
		for _, name := range s.ToolNames {
			out = append(out, wasmtool.Descriptor{Name: name, OwningComponent: string(s.ID)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CallTool executes the four-step dispatch protocol of §4.1: input
// hygiene, rate limiting, classification/dispatch, and output hygiene.
// clientID identifies the caller for rate-limiting purposes; pass "" when
// the transport serves a single implicit client (e.g. stdio).
func (d *Dispatcher) CallTool(ctx context.Context, clientID, name string, rawArgs json.RawMessage) (json.RawMessage, error) {
	if err := ValidateToolName(name); err != nil {
		return nil, err
	}
	if err := ValidateArguments(rawArgs, d.strict); err != nil {
		return nil, err
	}
	if !d.limiter.Allow(clientID) {
		return nil, wassetteerr.New(wassetteerr.RateLimited, "client request rate exceeded")
	}

	out, err := d.dispatch(ctx, name, rawArgs)
	if err != nil {
		return nil, err
	}

	clean, err := SanitizeOutput(out)
	if err != nil {
		return nil, err
	}
	return clean, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, name string, rawArgs json.RawMessage) ([]byte, error) {
	if b, ok := builtinByName(name); ok {
		result, err := b.handler(ctx, d, rawArgs)
		if err != nil {
			return nil, err
		}
		out, merr := json.Marshal(result)
		if merr != nil {
			return nil, wassetteerr.Wrap(wassetteerr.RuntimeError, "marshal built-in tool result", merr)
		}
		return out, nil
	}

	id, descriptor, err := d.manager.ResolveToolDescriptor(name)
	if err != nil {
		return nil, wassetteerr.New(wassetteerr.NotFound, "unknown tool \""+name+"\"")
	}
	if len(rawArgs) == 0 {
		rawArgs = json.RawMessage("{}")
	}
	if err := validateAgainstSchema(descriptor, rawArgs); err != nil {
		return nil, err
	}
	return d.manager.Invoke(ctx, id, name, rawArgs)
}
