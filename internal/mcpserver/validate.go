package mcpserver

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/microsoft/wassette/internal/wasmtool"
	"github.com/microsoft/wassette/internal/wassetteerr"
)

const (
	maxToolNameBytes = 256
	maxInputBytes    = 1 << 20  // 1 MiB
	maxOutputBytes   = 10 << 20 // 10 MiB
	maxNestingDepth  = 32
)

var toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// injectionMarkers is the fixed set of substrings strict-mode argument
// validation rejects, per SPEC_FULL.md §4.1 step 1. These are patterns an
// argument string has no legitimate reason to carry verbatim; they exist to
// catch prompt/shell injection attempts riding along in tool arguments, not
// to substitute for the sandbox's own enforcement.
var injectionMarkers = []string{
	"$(", "`", "${", "\x1b[", "<script", "javascript:",
}

// ValidateToolName enforces the name-shape rule of §4.1 step 1.
func ValidateToolName(name string) error {
	if name == "" {
		return wassetteerr.New(wassetteerr.InvalidInput, "tool name must not be empty")
	}
	if len(name) > maxToolNameBytes {
		return wassetteerr.New(wassetteerr.InvalidInput, fmt.Sprintf("tool name exceeds %d bytes", maxToolNameBytes))
	}
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "/") {
		return wassetteerr.New(wassetteerr.InvalidInput, "tool name must not begin with '.' or '/'")
	}
	if strings.Contains(name, "..") {
		return wassetteerr.New(wassetteerr.InvalidInput, "tool name must not contain '..'")
	}
	if !toolNamePattern.MatchString(name) {
		return wassetteerr.New(wassetteerr.InvalidInput, "tool name contains characters outside [A-Za-z0-9._-]")
	}
	return nil
}

// ValidateArguments enforces the size, nesting-depth, and (in strict mode)
// injection-substring rules of §4.1 step 1 against the raw JSON payload.
func ValidateArguments(raw json.RawMessage, strict bool) error {
	if len(raw) > maxInputBytes {
		return wassetteerr.New(wassetteerr.InvalidInput, fmt.Sprintf("arguments exceed %d bytes", maxInputBytes))
	}
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return wassetteerr.Wrap(wassetteerr.InvalidInput, "arguments are not valid JSON", err)
	}
	if depth := jsonDepth(v, 0); depth > maxNestingDepth {
		return wassetteerr.New(wassetteerr.InvalidInput, fmt.Sprintf("arguments nesting depth %d exceeds %d", depth, maxNestingDepth))
	}
	if err := walkStrings(v, strict); err != nil {
		return err
	}
	return nil
}

func jsonDepth(v any, cur int) int {
	switch t := v.(type) {
	case map[string]any:
		max := cur
		for _, child := range t {
			if d := jsonDepth(child, cur+1); d > max {
				max = d
			}
		}
		return max
	case []any:
		max := cur
		for _, child := range t {
			if d := jsonDepth(child, cur+1); d > max {
				max = d
			}
		}
		return max
	default:
		return cur
	}
}

func walkStrings(v any, strict bool) error {
	switch t := v.(type) {
	case string:
		return validateString(t, strict)
	case map[string]any:
		for _, child := range t {
			if err := walkStrings(child, strict); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range t {
			if err := walkStrings(child, strict); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateString(s string, strict bool) error {
	if strings.ContainsRune(s, '\x00') {
		return wassetteerr.New(wassetteerr.InvalidInput, "argument string contains a NUL byte")
	}
	if !strict {
		return nil
	}
	lower := strings.ToLower(s)
	for _, marker := range injectionMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return wassetteerr.New(wassetteerr.InvalidInput, fmt.Sprintf("argument string contains disallowed substring %q", marker))
		}
	}
	return nil
}

// validateAgainstSchema compiles the tool's synthesized input_schema (if
// any) and checks rawArgs against it, per the §9 design note that call_tool
// arguments should be validated against the per-tool schema derived at load
// time rather than accepted as an untyped bag. A tool with no input_schema
// (or one whose schema fails to compile, e.g. an older component) is passed
// through unchecked rather than blocked.
func validateAgainstSchema(d wasmtool.Descriptor, rawArgs json.RawMessage) error {
	schema, err := wasmtool.CompileValidator(d)
	if err != nil || schema == nil {
		return nil
	}
	var doc any
	if err := json.Unmarshal(rawArgs, &doc); err != nil {
		return wassetteerr.Wrap(wassetteerr.InvalidInput, "arguments are not valid JSON", err)
	}
	if err := schema.Validate(doc); err != nil {
		return wassetteerr.Wrap(wassetteerr.InvalidInput, fmt.Sprintf("arguments for tool %q failed schema validation", d.Name), err)
	}
	return nil
}

// SanitizeOutput enforces the output-hygiene rule of §4.1 step 4: reject
// oversized output, and strip NUL plus any control character other than
// \n, \r, \t.
func SanitizeOutput(raw []byte) ([]byte, error) {
	if len(raw) > maxOutputBytes {
		return nil, wassetteerr.New(wassetteerr.InvalidInput, fmt.Sprintf("tool output exceeds %d bytes", maxOutputBytes))
	}
	out := make([]byte, 0, len(raw))
	for _, b := range raw {
		if b == '\n' || b == '\r' || b == '\t' {
			out = append(out, b)
			continue
		}
		if b < 0x20 || b == 0x7f {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
