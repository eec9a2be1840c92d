package secrets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetGetDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Set("comp-a", "API_KEY", "v1"))
	m, err := s.Get("comp-a")
	require.NoError(t, err)
	assert.Equal(t, "v1", m["API_KEY"])

	require.NoError(t, s.Delete("comp-a", "API_KEY"))
	m, err = s.Get("comp-a")
	require.NoError(t, err)
	_, ok := m["API_KEY"]
	assert.False(t, ok)
}

func TestStore_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set("comp-a", "K", "V"))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	fi, err := os.Stat(filepath.Join(dir, "comp-a.yaml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestStore_CacheInvalidatedByExternalWrite(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set("comp-a", "K", "V1"))

	// Prime the cache.
	_, err = s.Get("comp-a")
	require.NoError(t, err)

	// Simulate an external process rewriting the file with a newer mtime.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "comp-a.yaml"), []byte("K: V2\n"), 0o600))
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "comp-a.yaml"), future, future))

	m, err := s.Get("comp-a")
	require.NoError(t, err)
	assert.Equal(t, "V2", m["K"])
}

func TestSanitizeComponentID(t *testing.T) {
	cases := []struct{ in, want string }{
		{"simple", "simple"},
		{"test/component:with@special#chars!", "test_component_with_special_chars_"},
		{"a..b", "a..b"}, // dots are kept verbatim, no collapsing of '.'
		{"---", "---"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, sanitizeComponentID(c.in), "input %q", c.in)
	}
}

func TestSanitizeComponentID_TruncatesOnUTF8Boundary(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "é" // 2-byte UTF-8 rune, forces a boundary check
	}
	got := sanitizeComponentID(long)
	assert.LessOrEqual(t, len(got), maxFilenameBytes)
	assert.True(t, len(got)%2 == 0)
}
