package mcpserver

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/microsoft/wassette/internal/wassetteerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateToolName(t *testing.T) {
	assert.NoError(t, ValidateToolName("load-component"))
	assert.NoError(t, ValidateToolName("fetch"))

	cases := []string{"", ".hidden", "/abs", "a/../b", "bad name", strings.Repeat("a", 257)}
	for _, name := range cases {
		err := ValidateToolName(name)
		require.Error(t, err, "expected error for %q", name)
		kind, ok := wassetteerr.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, wassetteerr.InvalidInput, kind)
	}
}

func TestValidateArguments_SizeBoundary(t *testing.T) {
	ok := json.RawMessage(`{"k":"` + strings.Repeat("a", maxInputBytes-10) + `"}`)
	require.LessOrEqual(t, len(ok), maxInputBytes)
	assert.NoError(t, ValidateArguments(ok, false))

	tooBig := json.RawMessage(strings.Repeat("a", maxInputBytes+1))
	err := ValidateArguments(tooBig, false)
	require.Error(t, err)
	kind, _ := wassetteerr.KindOf(err)
	assert.Equal(t, wassetteerr.InvalidInput, kind)
}

func TestValidateArguments_NestingDepthBoundary(t *testing.T) {
	assert.NoError(t, ValidateArguments(nestedJSON(maxNestingDepth), false))
	err := ValidateArguments(nestedJSON(maxNestingDepth+1), false)
	require.Error(t, err)
}

func nestedJSON(depth int) json.RawMessage {
	s := "0"
	for i := 0; i < depth; i++ {
		s = "[" + s + "]"
	}
	return json.RawMessage(s)
}

func TestValidateArguments_NUL(t *testing.T) {
	raw, _ := json.Marshal(map[string]string{"k": "bad\x00value"})
	err := ValidateArguments(raw, false)
	require.Error(t, err)
}

func TestValidateArguments_StrictInjectionMarkers(t *testing.T) {
	raw, _ := json.Marshal(map[string]string{"cmd": "echo $(whoami)"})
	assert.NoError(t, ValidateArguments(raw, false))
	assert.Error(t, ValidateArguments(raw, true))
}

func TestSanitizeOutput_StripsControlCharsKeepsWhitespace(t *testing.T) {
	out, err := SanitizeOutput([]byte("line1\nline2\ttab\x01bad\x00null"))
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\ttabbadnull", string(out))
}

func TestSanitizeOutput_SizeBoundary(t *testing.T) {
	ok := make([]byte, maxOutputBytes)
	_, err := SanitizeOutput(ok)
	assert.NoError(t, err)

	tooBig := make([]byte, maxOutputBytes+1)
	_, err = SanitizeOutput(tooBig)
	assert.Error(t, err)
}
