package policy

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_DenyByDefault(t *testing.T) {
	c := NewCompiler("/plugins", map[string]string{"HOME": "/root"})
	tmpl, err := c.Compile(Empty())
	require.NoError(t, err)
	assert.True(t, tmpl.StdioInherit)
	assert.False(t, tmpl.Network.TCP)
	assert.False(t, tmpl.Network.UDP)
	assert.False(t, tmpl.Network.IPLookup)
	assert.Empty(t, tmpl.AllowedHosts)
	assert.Empty(t, tmpl.Preopens)
	assert.Empty(t, tmpl.Env)
	assert.Nil(t, tmpl.MemoryLimitBytes)
}

func TestCompile_Network(t *testing.T) {
	doc := Empty()
	doc.GrantNetwork("api.example.com")
	c := NewCompiler("/plugins", nil)
	tmpl, err := c.Compile(doc)
	require.NoError(t, err)
	assert.True(t, tmpl.Network.TCP)
	assert.True(t, tmpl.Network.UDP)
	assert.True(t, tmpl.Network.IPLookup)
	assert.True(t, MatchesAllowedHost(tmpl.AllowedHosts, "api.example.com"))
	assert.True(t, MatchesAllowedHost(tmpl.AllowedHosts, "API.EXAMPLE.COM:443"))
	assert.False(t, MatchesAllowedHost(tmpl.AllowedHosts, "evil.example.com"))
}

func TestCompile_Storage(t *testing.T) {
	doc := Empty()
	doc.GrantStorage("fs://data", []Access{AccessRead, AccessWrite})
	c := NewCompiler("/plugins", nil)
	tmpl, err := c.Compile(doc)
	require.NoError(t, err)
	require.Len(t, tmpl.Preopens, 1)
	p := tmpl.Preopens[0]
	assert.Equal(t, "/plugins/data", p.HostPath)
	assert.Equal(t, "data", p.GuestPath)
	assert.Equal(t, FileRead|FileWrite, p.FilePerms)
	assert.Equal(t, DirRead|DirMutate, p.DirPerms)
}

func TestCompile_NonFsURIIgnored(t *testing.T) {
	doc := Empty()
	doc.GrantStorage("https://example.com/x", []Access{AccessRead})
	c := NewCompiler("/plugins", nil)
	tmpl, err := c.Compile(doc)
	require.NoError(t, err)
	assert.Empty(t, tmpl.Preopens)
}

func TestCompile_Environment(t *testing.T) {
	doc := Empty()
	doc.GrantEnvironment("API_KEY")
	doc.GrantEnvironment("MISSING")
	c := NewCompiler("/plugins", map[string]string{"API_KEY": "secret"})
	tmpl, err := c.Compile(doc)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"API_KEY": "secret"}, tmpl.Env)
}

func TestCompile_Memory(t *testing.T) {
	doc := Empty()
	doc.Permissions.Resources.Limits.Memory = "512Mi"
	c := NewCompiler("/plugins", nil)
	tmpl, err := c.Compile(doc)
	require.NoError(t, err)
	require.NotNil(t, tmpl.MemoryLimitBytes)
	assert.Equal(t, uint64(512*1024*1024), *tmpl.MemoryLimitBytes)
}

func TestCompile_MemoryLegacyMiB(t *testing.T) {
	doc := Empty()
	legacy := uint64(256)
	doc.Permissions.Resources.Memory = &legacy
	c := NewCompiler("/plugins", nil)
	tmpl, err := c.Compile(doc)
	require.NoError(t, err)
	require.NotNil(t, tmpl.MemoryLimitBytes)
	assert.Equal(t, uint64(256*1024*1024), *tmpl.MemoryLimitBytes)
}

func TestCompile_Idempotent(t *testing.T) {
	doc := Empty()
	doc.GrantNetwork("a.example.com")
	doc.GrantStorage("fs://data", []Access{AccessRead})
	c := NewCompiler("/plugins", map[string]string{"X": "1"})
	first, err := c.Compile(doc)
	require.NoError(t, err)
	second, err := c.Compile(doc)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// TestCalculatePermissions_Properties mirrors the proptest suite in the
// reference implementation: calculate_permissions must be commutative and
// idempotent over arbitrary access-list permutations and duplication.
func TestCalculatePermissions_Properties(t *testing.T) {
	props := gopter.NewProperties(nil)

	accessGen := gen.OneConstOf(AccessRead, AccessWrite)
	listGen := gen.SliceOf(accessGen)

	props.Property("idempotent under self-concatenation", prop.ForAll(
		func(a []Access) bool {
			f1, d1 := calculatePermissions(a)
			f2, d2 := calculatePermissions(append(append([]Access{}, a...), a...))
			return f1 == f2 && d1 == d2
		},
		listGen,
	))

	props.Property("commutative under reversal", prop.ForAll(
		func(a []Access) bool {
			rev := make([]Access, len(a))
			for i, v := range a {
				rev[len(a)-1-i] = v
			}
			f1, d1 := calculatePermissions(a)
			f2, d2 := calculatePermissions(rev)
			return f1 == f2 && d1 == d2
		},
		listGen,
	))

	props.TestingRun(t)
}
