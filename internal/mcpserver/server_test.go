package mcpserver

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/wassette/internal/lifecycle"
	"github.com/microsoft/wassette/internal/wasmtool"
)

func TestToMCPTool_DecodesInputSchema(t *testing.T) {
	d := wasmtool.Descriptor{
		Name:        "convert",
		Description: "converts things",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"x":{"type":"string"}}}`),
	}
	tool := toMCPTool(d)
	assert.Equal(t, "convert", tool.Name)
	assert.Equal(t, "converts things", tool.Description)
	assert.NotNil(t, tool.InputSchema)
}

func TestServer_OnLoadThenOnUnload_TracksComponentTools(t *testing.T) {
	s := NewServer("wassette-test", "0.0.0")
	id := lifecycle.ComponentID("comp-a")

	s.OnLoad(id, []wasmtool.Descriptor{{Name: "convert"}, {Name: "explain"}})
	s.mu.Lock()
	names := append([]string{}, s.componentTools[id]...)
	s.mu.Unlock()
	assert.ElementsMatch(t, []string{"convert", "explain"}, names)

	s.OnUnload(id)
	s.mu.Lock()
	_, stillPresent := s.componentTools[id]
	s.mu.Unlock()
	assert.False(t, stillPresent)
}

func TestServer_OnLoad_ReplacesPreviousSchemaOnReload(t *testing.T) {
	s := NewServer("wassette-test", "0.0.0")
	id := lifecycle.ComponentID("comp-b")

	s.OnLoad(id, []wasmtool.Descriptor{{Name: "old-tool"}})
	s.OnLoad(id, []wasmtool.Descriptor{{Name: "new-tool"}})

	s.mu.Lock()
	names := append([]string{}, s.componentTools[id]...)
	s.mu.Unlock()
	require.Len(t, names, 1)
	assert.Equal(t, "new-tool", names[0])
}
