package mcpserver

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/microsoft/wassette/internal/lifecycle"
	"github.com/microsoft/wassette/internal/telemetry"
	"github.com/microsoft/wassette/internal/wasmtool"
)

// Server wires a Dispatcher to the modelcontextprotocol/go-sdk MCP server:
// it registers the fixed built-in tools at construction, and keeps the
// protocol-visible tool set in sync with the lifecycle manager's registry
// via OnLoad/OnUnload, which the caller attaches as lifecycle.Manager
// hooks (see cmd/wassette).
type Server struct {
	mcp *mcp.Server

	mu             sync.Mutex
	dispatcher     *Dispatcher
	componentTools map[lifecycle.ComponentID][]string

	activity *activityLogger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

func WithActivityLogger(l telemetry.Logger) ServerOption {
	return func(s *Server) { s.activity = newActivityLogger(l) }
}

// NewServer constructs a Server advertising name/version over MCP and
// registers the built-in admin tools. Component tools are registered later
// as the lifecycle manager loads them (OnLoad/OnUnload).
func NewServer(name, version string, opts ...ServerOption) *Server {
	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, &mcp.ServerOptions{
			HasTools: true,
		}),
		componentTools: make(map[lifecycle.ComponentID][]string),
		activity:       newActivityLogger(nil),
	}
	for _, o := range opts {
		o(s)
	}
	for _, b := range builtinTools {
		name := b.name
		s.mcp.AddTool(toMCPTool(wasmtool.Descriptor{Name: b.name, Description: b.description, InputSchema: b.inputSchema}),
			s.handlerFor(name))
	}
	return s
}

// SetDispatcher attaches the Dispatcher used to execute every tool call.
// It must be called before Run.
func (s *Server) SetDispatcher(d *Dispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatcher = d
}

// OnLoad registers one MCP tool per descriptor in schema, replacing
// whatever tool set was previously registered for id (so a reload that
// drops a tool deregisters it, per §4.2 "reloading an existing id replaces
// the entry in place").
func (s *Server) OnLoad(id lifecycle.ComponentID, schema []wasmtool.Descriptor) {
	s.mu.Lock()
	if stale, ok := s.componentTools[id]; ok {
		s.mcp.RemoveTools(stale...)
	}
	names := make([]string, 0, len(schema))
	for _, d := range schema {
		names = append(names, d.Name)
	}
	s.componentTools[id] = names
	s.mu.Unlock()

	for _, d := range schema {
		s.mcp.AddTool(toMCPTool(d), s.handlerFor(d.Name))
	}
	s.activity.Lifecycle(context.Background(), "component loaded", map[string]any{"component_id": string(id), "tools": names})
}

// OnUnload deregisters every MCP tool owned by id.
func (s *Server) OnUnload(id lifecycle.ComponentID) {
	s.mu.Lock()
	names := s.componentTools[id]
	delete(s.componentTools, id)
	s.mu.Unlock()

	if len(names) > 0 {
		s.mcp.RemoveTools(names...)
	}
	s.activity.Lifecycle(context.Background(), "component unloaded", map[string]any{"component_id": string(id)})
}

// handlerFor returns the go-sdk ToolHandler that forwards a call to the
// Dispatcher under name. The closure reads s.dispatcher at call time so
// construction order (Server before the lifecycle.Manager it is hooked
// into, Dispatcher after both) never races an actual invocation.
func (s *Server) handlerFor(name string) func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.mu.Lock()
		d := s.dispatcher
		s.mu.Unlock()
		if d == nil {
			return errorResult("dispatcher not ready"), nil
		}

		// Rate limiting is per client identity (§4.1 step 2). Every
		// transport this host currently serves (stdio) is single-client,
		// so all calls share one bucket; a multi-tenant transport would
		// derive clientID from its session/auth context instead.
		out, err := d.CallTool(ctx, "", name, req.Params.Arguments)
		if err != nil {
			s.activity.Execution(ctx, "tool call failed", map[string]any{"tool": name, "error": err.Error()})
			return errorResult(err.Error()), nil
		}
		return &mcp.CallToolResult{
			Content:           []mcp.Content{&mcp.TextContent{Text: string(out)}},
			StructuredContent: json.RawMessage(out),
		}, nil
	}
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
	}
}

// toMCPTool converts a wasmtool.Descriptor into the go-sdk's wire-level
// Tool shape, decoding the JSON-Schema documents the same way the rest of
// this pack's MCP servers populate mcp.Tool.InputSchema from a raw schema
// document.
func toMCPTool(d wasmtool.Descriptor) *mcp.Tool {
	t := &mcp.Tool{Name: d.Name, Description: d.Description}
	if len(d.InputSchema) > 0 {
		_ = json.Unmarshal(d.InputSchema, &t.InputSchema)
	}
	if len(d.OutputSchema) > 0 {
		_ = json.Unmarshal(d.OutputSchema, &t.OutputSchema)
	}
	return t
}

// Run serves the dispatcher over transport until ctx is cancelled or the
// transport closes.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcp.Run(ctx, transport)
}
