package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/microsoft/wassette/internal/fetch"
	"github.com/microsoft/wassette/internal/policy"
	"github.com/microsoft/wassette/internal/sandbox"
	"github.com/microsoft/wassette/internal/secrets"
	"github.com/microsoft/wassette/internal/sigverify"
	"github.com/microsoft/wassette/internal/telemetry"
	"github.com/microsoft/wassette/internal/wasmtool"
	"github.com/microsoft/wassette/internal/wassetteerr"
)

// Manager is the authoritative registry of loaded components. See the
// package doc for its overall responsibility.
type Manager struct {
	mu        sync.RWMutex
	registry  map[ComponentID]*ComponentEntry
	toolIndex map[string]ComponentID
	locks     *lockTable

	pluginDir          string
	autoloadMode       AutoloadMode
	startupParallelism int

	fetcher      fetch.Fetcher
	verifier     *sigverify.Verifier
	instantiator *sandbox.Instantiator
	compiler     *policy.Compiler
	secretStore  *secrets.Store

	logger telemetry.Logger
	tracer telemetry.Tracer

	readyMu   sync.Mutex
	readyErr  error
	readyDone chan struct{}

	onLoad   func(ComponentID, []wasmtool.Descriptor)
	onUnload func(ComponentID)
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l telemetry.Logger) Option { return func(m *Manager) { m.logger = l } }
func WithTracer(t telemetry.Tracer) Option { return func(m *Manager) { m.tracer = t } }
func WithStartupParallelism(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.startupParallelism = n
		}
	}
}

// WithOnLoad registers a hook invoked after a component is committed to the
// registry (explicit load, reload, or autoload), so a dispatcher can keep a
// protocol-level tool index in sync with the registry without polling it.
func WithOnLoad(fn func(ComponentID, []wasmtool.Descriptor)) Option {
	return func(m *Manager) { m.onLoad = fn }
}

// WithOnUnload registers a hook invoked after a component is removed from
// the registry.
func WithOnUnload(fn func(ComponentID)) Option {
	return func(m *Manager) { m.onUnload = fn }
}

// New constructs a Manager bound to pluginDir, wiring in the fetcher,
// signature verifier, sandbox instantiator, policy compiler, and secret
// store it needs to service load/unload/grant/revoke/invoke. Depending on
// mode, it synchronously loads (Eager), schedules a background load
// (Lazy), or does nothing (Off) with the contents of pluginDir.
func New(
	ctx context.Context,
	pluginDir string,
	mode AutoloadMode,
	fetcher fetch.Fetcher,
	verifier *sigverify.Verifier,
	instantiator *sandbox.Instantiator,
	compiler *policy.Compiler,
	secretStore *secrets.Store,
	opts ...Option,
) (*Manager, error) {
	m := &Manager{
		registry:           make(map[ComponentID]*ComponentEntry),
		toolIndex:          make(map[string]ComponentID),
		locks:              newLockTable(),
		pluginDir:          pluginDir,
		autoloadMode:       mode,
		startupParallelism: 4,
		fetcher:            fetcher,
		verifier:           verifier,
		instantiator:       instantiator,
		compiler:           compiler,
		secretStore:        secretStore,
		logger:             telemetry.NewNoopLogger(),
		tracer:             telemetry.NewNoopTracer(),
		readyDone:          make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}

	sources, err := discoverWasmFiles(m.pluginDir)
	if err != nil && mode != AutoloadOff {
		return nil, wassetteerr.Wrap(wassetteerr.IoError, "scan plugin directory", err)
	}

	switch mode {
	case AutoloadEager:
		m.loadBatch(ctx, sources)
		close(m.readyDone)
	case AutoloadLazy:
		go func() {
			m.loadBatch(context.Background(), sources)
			close(m.readyDone)
		}()
	case AutoloadOff:
		close(m.readyDone)
	}

	return m, nil
}

// Ready blocks until the background autoload batch (if any) finishes, or
// ctx is cancelled. It resolves the open question of how a Lazy-mode
// caller observes autoload completion.
func (m *Manager) Ready(ctx context.Context) error {
	select {
	case <-m.readyDone:
		m.readyMu.Lock()
		defer m.readyMu.Unlock()
		return m.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func discoverWasmFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var sources []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wasm") {
			continue
		}
		sources = append(sources, "file://"+filepath.Join(dir, e.Name()))
	}
	return sources, nil
}

// loadBatch loads each source using a bounded worker pool of size
// startupParallelism. Individual failures are logged, not fatal to the
// batch.
func (m *Manager) loadBatch(ctx context.Context, sources []string) {
	if len(sources) == 0 {
		return
	}
	sem := make(chan struct{}, m.startupParallelism)
	var wg sync.WaitGroup
	var failMu sync.Mutex
	var failures []LoadFailure

	for _, src := range sources {
		src := src
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if _, _, err := m.Load(ctx, src, ""); err != nil {
				failMu.Lock()
				failures = append(failures, LoadFailure{Source: src, Err: err})
				failMu.Unlock()
				m.logger.Warn(ctx, "autoload failed", "source", src, "error", err)
			}
		}()
	}
	wg.Wait()

	if len(failures) > 0 {
		m.readyMu.Lock()
		m.readyErr = fmt.Errorf("%d of %d components failed to autoload", len(failures), len(sources))
		m.readyMu.Unlock()
	}
}

// Load fetches, verifies, compiles, and registers a component from source.
// If explicitID is empty, the id is derived deterministically from source.
func (m *Manager) Load(ctx context.Context, source, explicitID string) (ComponentID, []wasmtool.Descriptor, error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.load")
	defer span.End()

	wasmBytes, err := m.fetcher.Fetch(ctx, source)
	if err != nil {
		span.RecordError(err)
		return "", nil, err
	}

	if m.verifier != nil {
		if err := m.verifier.Verify(wasmBytes, sigverify.Signature{}); err != nil {
			span.RecordError(err)
			return "", nil, err
		}
	}

	digest := sha256.Sum256(wasmBytes)
	digestHex := hex.EncodeToString(digest[:])

	id := ComponentID(explicitID)
	if id == "" {
		id = deriveComponentID(source)
	}

	var entry *ComponentEntry
	err = m.locks.withLock(id, func() error {
		doc := policy.Empty()
		tmpl, cerr := m.compiler.Compile(doc)
		if cerr != nil {
			return wassetteerr.Wrap(wassetteerr.PolicyViolation, "compile deny-by-default policy", cerr)
		}

		sess, ierr := m.instantiator.Instantiate(ctx, wasmBytes, tmpl, nil)
		if ierr != nil {
			return ierr
		}
		defer sess.Close(ctx)

		schema, derr := wasmtool.Describe(ctx, sess.Module, string(id))
		if derr != nil {
			return wassetteerr.Wrap(wassetteerr.ExecutionFailure, "derive tool schema", derr)
		}

		if path := m.policyPath(id); path != "" {
			loaded, perr := policy.Load(path)
			if perr == nil {
				doc = loaded
			} else if !errors.Is(perr, os.ErrNotExist) {
				return wassetteerr.Wrap(wassetteerr.IoError, "load sibling policy file", perr)
			}
		}

		m.mu.Lock()
		defer m.mu.Unlock()

		for _, d := range schema {
			if owner, ok := m.toolIndex[d.Name]; ok && owner != id {
				return wassetteerr.New(wassetteerr.ToolNameConflict,
					fmt.Sprintf("tool %q already registered by component %q", d.Name, owner))
			}
		}
		if existing, ok := m.registry[id]; ok {
			m.removeToolIndexLocked(existing)
		}

		entry = &ComponentEntry{
			ID:       id,
			Source:   source,
			Digest:   digestHex,
			Wasm:     wasmBytes,
			Schema:   schema,
			Policy:   doc,
			LoadedAt: time.Now(),
		}
		m.registry[id] = entry
		for _, d := range schema {
			m.toolIndex[d.Name] = id
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return "", nil, err
	}

	if m.onLoad != nil {
		m.onLoad(id, entry.Schema)
	}
	return id, entry.Schema, nil
}

// removeToolIndexLocked drops every tool-index row owned by e. Caller must
// hold m.mu for writing.
func (m *Manager) removeToolIndexLocked(e *ComponentEntry) {
	for _, d := range e.Schema {
		if m.toolIndex[d.Name] == e.ID {
			delete(m.toolIndex, d.Name)
		}
	}
}

// Unload removes a component and its tool-index rows. In-flight
// invocations already holding the entry are allowed to complete; any
// lookup that occurs after this commits sees ComponentNotFound (NotFound).
func (m *Manager) Unload(ctx context.Context, id ComponentID) error {
	return m.locks.withLock(id, func() error {
		m.mu.Lock()
		entry, ok := m.registry[id]
		if !ok {
			m.mu.Unlock()
			return wassetteerr.New(wassetteerr.NotFound, fmt.Sprintf("component %q not found", id))
		}
		m.removeToolIndexLocked(entry)
		delete(m.registry, id)
		m.mu.Unlock()

		if m.onUnload != nil {
			m.onUnload(id)
		}
		return nil
	})
}

// Grant mutates (creating if absent) the component's attached policy
// document via mutate, persists it atomically, and invalidates any cached
// sandbox template by virtue of the next Invoke recompiling from the
// updated document.
func (m *Manager) Grant(ctx context.Context, id ComponentID, mutate func(*policy.Document)) error {
	return m.mutatePolicy(ctx, id, mutate)
}

// Revoke is Grant's structural twin; callers pass a mutate func performing
// the revocation (e.g. doc.RevokeNetwork(host)).
func (m *Manager) Revoke(ctx context.Context, id ComponentID, mutate func(*policy.Document)) error {
	return m.mutatePolicy(ctx, id, mutate)
}

func (m *Manager) mutatePolicy(ctx context.Context, id ComponentID, mutate func(*policy.Document)) error {
	return m.locks.withLock(id, func() error {
		m.mu.Lock()
		entry, ok := m.registry[id]
		m.mu.Unlock()
		if !ok {
			return wassetteerr.New(wassetteerr.NotFound, fmt.Sprintf("component %q not found", id))
		}

		m.mu.Lock()
		if entry.Policy == nil {
			entry.Policy = policy.Empty()
		}
		mutate(entry.Policy)
		doc := entry.Policy
		m.mu.Unlock()

		if path := m.policyPath(id); path != "" {
			if err := policy.Save(path, doc); err != nil {
				return wassetteerr.Wrap(wassetteerr.IoError, "persist policy", err)
			}
		}

		return nil
	})
}

func (m *Manager) policyPath(id ComponentID) string {
	if m.pluginDir == "" {
		return ""
	}
	return filepath.Join(m.pluginDir, sanitizeFilename(string(id))+".policy.yaml")
}

// Invoke looks up the component owning tool, compiles a fresh sandbox
// template from its policy, merges secrets, instantiates a fresh guest
// module, and runs the call.
func (m *Manager) Invoke(ctx context.Context, id ComponentID, toolName string, argJSON []byte) ([]byte, error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.invoke")
	defer span.End()

	m.mu.RLock()
	entry, ok := m.registry[id]
	m.mu.RUnlock()
	if !ok {
		return nil, wassetteerr.New(wassetteerr.NotFound, fmt.Sprintf("component %q not found", id))
	}

	var tool *wasmtool.Descriptor
	for i := range entry.Schema {
		if entry.Schema[i].Name == toolName {
			tool = &entry.Schema[i]
			break
		}
	}
	if tool == nil {
		return nil, wassetteerr.New(wassetteerr.NotFound, fmt.Sprintf("tool %q does not belong to component %q", toolName, id))
	}

	doc := entry.Policy
	if doc == nil {
		doc = policy.Empty()
	}
	tmpl, err := m.compiler.Compile(doc)
	if err != nil {
		return nil, wassetteerr.Wrap(wassetteerr.PolicyViolation, "compile sandbox template", err)
	}

	var secretEnv map[string]string
	if m.secretStore != nil {
		secretMap, serr := m.secretStore.Get(string(id))
		if serr != nil {
			return nil, wassetteerr.Wrap(wassetteerr.IoError, "load secrets", serr)
		}
		secretEnv = map[string]string(secretMap)
	}

	sess, err := m.instantiator.Instantiate(ctx, entry.Wasm, tmpl, secretEnv)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer sess.Close(ctx)

	out, err := wasmtool.Invoke(ctx, sess.Module, *tool, argJSON)
	if err != nil {
		span.RecordError(err)
		return nil, wassetteerr.Wrap(wassetteerr.ExecutionFailure, "invoke tool", err)
	}
	return out, nil
}

// ListComponents returns a summary of every registered component, read
// straight from the registry so the result always reflects every loaded
// component (the registry, not a cache in front of it, is the source of
// truth for manager-owned data).
func (m *Manager) ListComponents() []ComponentSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ComponentSummary, 0, len(m.registry))
	for _, e := range m.registry {
		out = append(out, summarize(e))
	}
	return out
}

// GetPolicy returns the policy document currently attached to id, if any.
func (m *Manager) GetPolicy(id ComponentID) (*policy.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.registry[id]
	if !ok {
		return nil, wassetteerr.New(wassetteerr.NotFound, fmt.Sprintf("component %q not found", id))
	}
	return entry.Policy, nil
}

// ResolveToolDescriptor returns the owning ComponentID and the tool's
// Descriptor (carrying its synthesized input_schema), used by the dispatcher
// to validate call_tool arguments against the schema derived at load time
// (SPEC_FULL.md §9 design note) before an invocation reaches the guest.
func (m *Manager) ResolveToolDescriptor(toolName string) (ComponentID, wasmtool.Descriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.toolIndex[toolName]
	if !ok {
		return "", wasmtool.Descriptor{}, wassetteerr.New(wassetteerr.NotFound, fmt.Sprintf("unknown tool %q", toolName))
	}
	entry, ok := m.registry[id]
	if !ok {
		return "", wasmtool.Descriptor{}, wassetteerr.New(wassetteerr.NotFound, fmt.Sprintf("component %q not found", id))
	}
	for _, d := range entry.Schema {
		if d.Name == toolName {
			return id, d, nil
		}
	}
	return "", wasmtool.Descriptor{}, wassetteerr.New(wassetteerr.NotFound, fmt.Sprintf("tool %q does not belong to component %q", toolName, id))
}

// Close releases the sandbox instantiator's shared compilation cache.
func (m *Manager) Close(ctx context.Context) error {
	return m.instantiator.Close(ctx)
}

// deriveComponentID derives a stable id from a source URI: the file stem
// for file:// sources (so re-loading the same path reuses the same id),
// or a version-5 UUID namespaced on the source string for anything else.
func deriveComponentID(source string) ComponentID {
	if strings.HasPrefix(source, "file://") {
		base := filepath.Base(strings.TrimPrefix(source, "file://"))
		return ComponentID(strings.TrimSuffix(base, filepath.Ext(base)))
	}
	return ComponentID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(source)).String())
}

func sanitizeFilename(id string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	return b.String()
}
