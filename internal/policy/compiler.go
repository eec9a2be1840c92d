package policy

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	units "github.com/docker/go-units"
)

// FilePerms and DirPerms are bitwise-composable capability flags, folded
// across duplicate/overlapping access grants exactly as §4.3 specifies:
// the fold is commutative and idempotent, enabling the property tests in
// §8.
type FilePerms uint8

const (
	FileRead FilePerms = 1 << iota
	FileWrite
)

type DirPerms uint8

const (
	DirRead DirPerms = 1 << iota
	DirMutate
)

type (
	// NetworkPermissions mirrors the runtime capability flags the sandbox
	// instantiator configures the guest's network surface with.
	NetworkPermissions struct {
		TCP      bool
		UDP      bool
		IPLookup bool
	}

	// Preopen is one host directory mounted into the guest's filesystem
	// view at a fixed guest path with fixed permissions.
	Preopen struct {
		HostPath  string
		GuestPath string
		DirPerms  DirPerms
		FilePerms FilePerms
	}

	// Template is the immutable, per-call description of the allowed host
	// surface. It is deterministic from (Document, host env, plugin dir).
	Template struct {
		StdioInherit bool
		Network      NetworkPermissions
		AllowedHosts map[string]struct{}
		Preopens     []Preopen
		Env          map[string]string
		// MemoryLimitBytes is nil when no ceiling is configured.
		MemoryLimitBytes *uint64
	}
)

// Compiler is a pure PolicyDocument -> SandboxTemplate translator. It holds
// no mutable state; Compile is safe to call concurrently and is idempotent
// for identical inputs (§8).
type Compiler struct {
	pluginDir string
	hostEnv   map[string]string
}

// NewCompiler constructs a Compiler bound to a plugin directory (used to
// resolve fs:// storage URIs) and a snapshot of the host process
// environment (used for environment-variable projection).
func NewCompiler(pluginDir string, hostEnv map[string]string) *Compiler {
	return &Compiler{pluginDir: pluginDir, hostEnv: hostEnv}
}

// Compile derives a SandboxTemplate from doc. Stdio inheritance is always
// on, the only default that is not deny-by-default (§4.4).
func (c *Compiler) Compile(doc *Document) (*Template, error) {
	tmpl := &Template{
		StdioInherit: true,
		AllowedHosts: make(map[string]struct{}),
		Env:          make(map[string]string),
	}

	if doc == nil {
		return tmpl, nil
	}

	if len(doc.Permissions.Network.Allow) > 0 {
		tmpl.Network = NetworkPermissions{TCP: true, UDP: true, IPLookup: true}
		for _, h := range doc.Permissions.Network.Allow {
			tmpl.AllowedHosts[normalizeHost(h.Host)] = struct{}{}
		}
	}

	for _, grant := range doc.Permissions.Storage.Allow {
		rel, ok := strings.CutPrefix(grant.URI, "fs://")
		if !ok {
			continue // non-fs:// URIs are ignored silently per §4.3
		}
		filePerms, dirPerms := calculatePermissions(grant.Access)
		tmpl.Preopens = append(tmpl.Preopens, Preopen{
			HostPath:  filepath.Join(c.pluginDir, rel),
			GuestPath: rel,
			FilePerms: filePerms,
			DirPerms:  dirPerms,
		})
	}
	sort.Slice(tmpl.Preopens, func(i, j int) bool { return tmpl.Preopens[i].GuestPath < tmpl.Preopens[j].GuestPath })

	for _, envKey := range doc.Permissions.Environment.Allow {
		if v, ok := c.hostEnv[envKey.Key]; ok {
			tmpl.Env[envKey.Key] = v
		}
	}

	limit, err := memoryLimitBytes(doc.Permissions.Resources)
	if err != nil {
		return nil, fmt.Errorf("compile memory limit: %w", err)
	}
	tmpl.MemoryLimitBytes = limit

	return tmpl, nil
}

// calculatePermissions folds an access list into (FilePerms, DirPerms).
// The fold is a bitwise OR over the table in §4.3, so it is commutative and
// idempotent by construction: duplicate or reordered entries never change
// the result.
func calculatePermissions(access []Access) (FilePerms, DirPerms) {
	var files FilePerms
	var dirs DirPerms
	for _, a := range access {
		switch a {
		case AccessRead:
			files |= FileRead
			dirs |= DirRead
		case AccessWrite:
			files |= FileWrite
			dirs |= DirRead | DirMutate
		}
	}
	return files, dirs
}

// normalizeHost lower-cases a host string for case-insensitive exact
// matching. No glob or suffix matching is implemented (resolved Open
// Question, see SPEC_FULL.md §4.3 and DESIGN.md).
func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}

// MatchesAllowedHost reports whether authority (a request's Host header,
// optionally carrying a port) is present in allowedHosts.
func MatchesAllowedHost(allowedHosts map[string]struct{}, authority string) bool {
	host := authority
	if h, _, err := splitHostPort(authority); err == nil {
		host = h
	}
	_, ok := allowedHosts[normalizeHost(host)]
	return ok
}

func splitHostPort(authority string) (string, string, error) {
	idx := strings.LastIndex(authority, ":")
	if idx < 0 {
		return authority, "", fmt.Errorf("no port")
	}
	return authority[:idx], authority[idx+1:], nil
}

// memoryLimitBytes parses resources.limits.memory as an IEC size string
// (via github.com/docker/go-units), falling back to the legacy numeric-MiB
// field when present.
func memoryLimitBytes(r Resources) (*uint64, error) {
	if r.Limits.Memory != "" {
		n, err := units.RAMInBytes(r.Limits.Memory)
		if err != nil {
			return nil, fmt.Errorf("parse memory limit %q: %w", r.Limits.Memory, err)
		}
		v := uint64(n)
		return &v, nil
	}
	if r.Memory != nil {
		v := *r.Memory * 1024 * 1024
		return &v, nil
	}
	return nil, nil
}

// ParseMemoryLimit parses a single raw memory-limit string: a bare integer
// is read as MiB (the legacy numeric form), anything else as an IEC size
// string.
func ParseMemoryLimit(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty memory limit")
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n * 1024 * 1024, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}
