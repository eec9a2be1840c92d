package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/wassette/internal/fetch"
	"github.com/microsoft/wassette/internal/lifecycle"
	"github.com/microsoft/wassette/internal/policy"
	"github.com/microsoft/wassette/internal/sandbox"
	"github.com/microsoft/wassette/internal/secrets"
	"github.com/microsoft/wassette/internal/sigverify"
	"github.com/microsoft/wassette/internal/wassetteerr"
)

func newTestManager(t *testing.T) (*lifecycle.Manager, *secrets.Store) {
	t.Helper()
	dir := t.TempDir()

	verifier, err := sigverify.New(sigverify.Config{})
	require.NoError(t, err)
	inst, err := sandbox.New(dir + "/.cache")
	require.NoError(t, err)
	t.Cleanup(func() { inst.Close(context.Background()) })

	compiler := policy.NewCompiler(dir, nil)
	secretStore, err := secrets.NewStore(dir + "/secrets")
	require.NoError(t, err)

	mgr, err := lifecycle.New(context.Background(), dir, lifecycle.AutoloadOff, fetch.New(), verifier, inst, compiler, secretStore)
	require.NoError(t, err)
	return mgr, secretStore
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	mgr, secretStore := newTestManager(t)
	return New(mgr, secretStore)
}

func TestListTools_BuiltinsSortedByName(t *testing.T) {
	d := newTestDispatcher(t)
	tools := d.ListTools()
	require.Len(t, tools, len(builtinTools))
	for i := 1; i < len(tools); i++ {
		assert.LessOrEqual(t, tools[i-1].Name, tools[i].Name)
	}
}

func TestCallTool_UnknownToolIsNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.CallTool(context.Background(), "", "does-not-exist", json.RawMessage(`{}`))
	require.Error(t, err)
	kind, ok := wassetteerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, wassetteerr.NotFound, kind)
}

func TestCallTool_InvalidNameRejected(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.CallTool(context.Background(), "", "../etc/passwd", json.RawMessage(`{}`))
	require.Error(t, err)
	kind, _ := wassetteerr.KindOf(err)
	assert.Equal(t, wassetteerr.InvalidInput, kind)
}

func TestCallTool_ListComponentsEmpty(t *testing.T) {
	d := newTestDispatcher(t)
	out, err := d.CallTool(context.Background(), "", "list-components", json.RawMessage(`{}`))
	require.NoError(t, err)
	var got []map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Empty(t, got)
}

func TestCallTool_SetSecretPersistsToStore(t *testing.T) {
	d := newTestDispatcher(t)
	args, _ := json.Marshal(map[string]string{"id": "comp", "key": "API_KEY", "value": "v1"})
	_, err := d.CallTool(context.Background(), "", "set-secret", args)
	require.NoError(t, err)

	m, err := d.secretStore.Get("comp")
	require.NoError(t, err)
	assert.Equal(t, "v1", m["API_KEY"])
}

func TestCallTool_RateLimited(t *testing.T) {
	mgr, _ := newTestManager(t)
	d := New(mgr, nil, WithRateLimitCapacity(1))
	_, err := d.CallTool(context.Background(), "client", "list-components", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = d.CallTool(context.Background(), "client", "list-components", json.RawMessage(`{}`))
	require.Error(t, err)
	kind, _ := wassetteerr.KindOf(err)
	assert.Equal(t, wassetteerr.RateLimited, kind)
}

func TestCallTool_GrantNetworkPermissionUnknownComponentIsNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.manager.Load(context.Background(), "file:///does-not-exist.wasm", "ghost")
	assert.Error(t, err) // no real wasm bytes on disk; load is expected to fail here

	// Exercise grant argument parsing and error propagation against a
	// component id that was never registered.
	grantArgs, _ := json.Marshal(map[string]any{
		"id":      "ghost",
		"kind":    "network",
		"details": map[string]string{"host": "api.example.com"},
	})
	_, err = d.CallTool(context.Background(), "", "grant-permission", grantArgs)
	require.Error(t, err)
	kind, _ := wassetteerr.KindOf(err)
	assert.Equal(t, wassetteerr.NotFound, kind)
}
