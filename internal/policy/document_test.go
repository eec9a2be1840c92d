package policy

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDocument_YAMLRoundTrip(t *testing.T) {
	doc := Empty()
	doc.GrantNetwork("api.example.com")
	doc.GrantStorage("fs://data", []Access{AccessRead, AccessWrite})
	doc.GrantEnvironment("API_KEY")
	doc.Permissions.Resources.Limits.Memory = "512Mi"

	b, err := yaml.Marshal(doc)
	require.NoError(t, err)

	var reloaded Document
	require.NoError(t, yaml.Unmarshal(b, &reloaded))
	assert.Equal(t, *doc, reloaded)
}

func TestDocument_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "component.policy.yaml")

	doc := Empty()
	doc.GrantNetwork("example.com")

	require.NoError(t, Save(path, doc))
	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, doc, reloaded)
}

func TestDocument_GrantStorageUnionsAccessIdempotently(t *testing.T) {
	doc := Empty()
	doc.GrantStorage("fs://data", []Access{AccessRead})
	doc.GrantStorage("fs://data", []Access{AccessRead, AccessWrite})
	require.Len(t, doc.Permissions.Storage.Allow, 1)
	assert.ElementsMatch(t, []Access{AccessRead, AccessWrite}, doc.Permissions.Storage.Allow[0].Access)
}

func TestDocument_RevokeNetwork(t *testing.T) {
	doc := Empty()
	doc.GrantNetwork("a.example.com")
	doc.GrantNetwork("b.example.com")
	doc.RevokeNetwork("a.example.com")
	require.Len(t, doc.Permissions.Network.Allow, 1)
	assert.Equal(t, "b.example.com", doc.Permissions.Network.Allow[0].Host)
}
