// Package secrets implements the per-component SecretMap store: a
// YAML-persisted string->string map under a dedicated user-private
// directory, with an mtime-validated in-memory cache and a deterministic
// filename sanitization for the component id.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

const maxFilenameBytes = 128

// Map is a component's secret key-value store.
type Map map[string]string

// Store persists SecretMaps under dir, one YAML file per component, and
// caches the most recently read map per component id keyed by the file's
// observed mtime.
type Store struct {
	dir string

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	secrets Map
	mtime   time.Time
}

// NewStore constructs a Store rooted at dir, creating it (mode 0700) if
// absent.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create secrets dir %q: %w", dir, err)
	}
	return &Store{dir: dir, cache: make(map[string]cacheEntry)}, nil
}

// Get returns the SecretMap for componentID, reading from disk only when
// the cached copy is missing or the on-disk file's mtime has advanced past
// the cached observation.
func (s *Store) Get(componentID string) (Map, error) {
	path := s.path(componentID)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return Map{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat secrets file %q: %w", path, err)
	}

	s.mu.Lock()
	entry, ok := s.cache[componentID]
	s.mu.Unlock()
	if ok && !info.ModTime().After(entry.mtime) {
		return entry.secrets, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets file %q: %w", path, err)
	}
	var m Map
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse secrets file %q: %w", path, err)
	}
	if m == nil {
		m = Map{}
	}

	s.mu.Lock()
	s.cache[componentID] = cacheEntry{secrets: m, mtime: info.ModTime()}
	s.mu.Unlock()

	return m, nil
}

// Set writes key=value into componentID's SecretMap, creating the map if
// absent, and persists it atomically.
func (s *Store) Set(componentID, key, value string) error {
	m, err := s.Get(componentID)
	if err != nil {
		return err
	}
	next := Map{}
	for k, v := range m {
		next[k] = v
	}
	next[key] = value
	return s.save(componentID, next)
}

// Delete removes key from componentID's SecretMap. It is not an error to
// delete a key that does not exist.
func (s *Store) Delete(componentID, key string) error {
	m, err := s.Get(componentID)
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	next := Map{}
	for k, v := range m {
		if k != key {
			next[k] = v
		}
	}
	return s.save(componentID, next)
}

func (s *Store) save(componentID string, m Map) error {
	path := s.path(componentID)
	b, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".secrets-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("create temp secrets file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp secrets file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp secrets file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp secrets file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp secrets file into place: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat secrets file after write %q: %w", path, err)
	}
	s.mu.Lock()
	s.cache[componentID] = cacheEntry{secrets: m, mtime: info.ModTime()}
	s.mu.Unlock()
	return nil
}

func (s *Store) path(componentID string) string {
	return filepath.Join(s.dir, sanitizeComponentID(componentID)+".yaml")
}

// sanitizeComponentID derives a filesystem-safe filename stem from an
// arbitrary component id: alphanumerics, '.', '_', '-' are kept; every
// other rune collapses to '_'; consecutive '_' collapse to one; the result
// is truncated to maxFilenameBytes on a UTF-8 boundary.
func sanitizeComponentID(id string) string {
	var b strings.Builder
	lastWasUnderscore := false
	for _, r := range id {
		var keep rune
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r), r == '.', r == '_', r == '-':
			keep = r
		default:
			keep = '_'
		}
		if keep == '_' {
			if lastWasUnderscore {
				continue
			}
			lastWasUnderscore = true
		} else {
			lastWasUnderscore = false
		}
		b.WriteRune(keep)
	}
	return truncateUTF8(b.String(), maxFilenameBytes)
}

func truncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
