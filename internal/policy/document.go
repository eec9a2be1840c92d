// Package policy implements the PolicyDocument data model and the pure
// PolicyDocument -> SandboxTemplate compiler.
package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Access is a single filesystem capability.
type Access string

const (
	AccessRead  Access = "read"
	AccessWrite Access = "write"
)

type (
	// Document is the declarative permission grant attached to a component.
	// Field order and yaml tags mirror the normative schema in §6.
	Document struct {
		Version     string      `yaml:"version"`
		Description string      `yaml:"description,omitempty"`
		Permissions Permissions `yaml:"permissions"`
	}

	Permissions struct {
		Network     Network     `yaml:"network,omitempty"`
		Storage     Storage     `yaml:"storage,omitempty"`
		Environment Environment `yaml:"environment,omitempty"`
		Resources   Resources   `yaml:"resources,omitempty"`
	}

	Network struct {
		Allow []NetworkHost `yaml:"allow,omitempty"`
	}

	NetworkHost struct {
		Host string `yaml:"host"`
	}

	Storage struct {
		Allow []StorageGrant `yaml:"allow,omitempty"`
	}

	StorageGrant struct {
		URI    string   `yaml:"uri"`
		Access []Access `yaml:"access,omitempty"`
	}

	Environment struct {
		Allow []EnvKey `yaml:"allow,omitempty"`
	}

	EnvKey struct {
		Key string `yaml:"key"`
	}

	Resources struct {
		Limits Limits `yaml:"limits,omitempty"`
		// Memory is the legacy numeric-MiB field, kept alongside
		// Limits.Memory for backward compatibility per §4.3.
		Memory *uint64 `yaml:"memory,omitempty"`
	}

	Limits struct {
		// Memory is an IEC size string, e.g. "512Mi".
		Memory string `yaml:"memory,omitempty"`
	}
)

// Empty returns the zero-value policy: no network, no storage, no
// environment projection, no memory ceiling. This is the default attached
// to a component loaded without a sibling policy file, and it compiles to
// the fully deny-by-default SandboxTemplate.
func Empty() *Document {
	return &Document{Version: "1.0"}
}

// Load reads and parses a policy document from path.
func Load(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %q: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse policy %q: %w", path, err)
	}
	if doc.Version == "" {
		doc.Version = "1.0"
	}
	return &doc, nil
}

// Save writes doc to path atomically (write-temp then rename), matching the
// on-disk durability rule for grant/revoke in §4.2.
func Save(path string, doc *Document) error {
	b, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".policy-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("create temp policy file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp policy file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp policy file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp policy file into place: %w", err)
	}
	return nil
}

// GrantNetwork adds host to the network allow-list, idempotently.
func (d *Document) GrantNetwork(host string) {
	for _, h := range d.Permissions.Network.Allow {
		if h.Host == host {
			return
		}
	}
	d.Permissions.Network.Allow = append(d.Permissions.Network.Allow, NetworkHost{Host: host})
}

// RevokeNetwork removes host from the network allow-list.
func (d *Document) RevokeNetwork(host string) {
	out := d.Permissions.Network.Allow[:0]
	for _, h := range d.Permissions.Network.Allow {
		if h.Host != host {
			out = append(out, h)
		}
	}
	d.Permissions.Network.Allow = out
}

// GrantStorage adds or extends a storage grant for uri with access,
// unioning access sets per the idempotent-fold rule of §4.3.
func (d *Document) GrantStorage(uri string, access []Access) {
	for i := range d.Permissions.Storage.Allow {
		if d.Permissions.Storage.Allow[i].URI == uri {
			d.Permissions.Storage.Allow[i].Access = unionAccess(d.Permissions.Storage.Allow[i].Access, access)
			return
		}
	}
	d.Permissions.Storage.Allow = append(d.Permissions.Storage.Allow, StorageGrant{URI: uri, Access: access})
}

// RevokeStorage removes the storage grant for uri entirely.
func (d *Document) RevokeStorage(uri string) {
	out := d.Permissions.Storage.Allow[:0]
	for _, g := range d.Permissions.Storage.Allow {
		if g.URI != uri {
			out = append(out, g)
		}
	}
	d.Permissions.Storage.Allow = out
}

// GrantEnvironment adds key to the environment allow-list, idempotently.
func (d *Document) GrantEnvironment(key string) {
	for _, k := range d.Permissions.Environment.Allow {
		if k.Key == key {
			return
		}
	}
	d.Permissions.Environment.Allow = append(d.Permissions.Environment.Allow, EnvKey{Key: key})
}

// RevokeEnvironment removes key from the environment allow-list.
func (d *Document) RevokeEnvironment(key string) {
	out := d.Permissions.Environment.Allow[:0]
	for _, k := range d.Permissions.Environment.Allow {
		if k.Key != key {
			out = append(out, k)
		}
	}
	d.Permissions.Environment.Allow = out
}

func unionAccess(a, b []Access) []Access {
	seen := make(map[Access]struct{}, len(a)+len(b))
	out := make([]Access, 0, len(a)+len(b))
	for _, access := range append(append([]Access{}, a...), b...) {
		if _, ok := seen[access]; ok {
			continue
		}
		seen[access] = struct{}{}
		out = append(out, access)
	}
	return out
}
