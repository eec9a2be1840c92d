// Package sandbox builds, runs, and tears down a single guest invocation
// against a policy.Template: per-call wazero runtime construction, preopen
// wiring, environment projection, outbound-HTTP host allowlisting, and
// memory-ceiling enforcement.
package sandbox

import (
	"context"
	"crypto/rand"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/microsoft/wassette/internal/policy"
	"github.com/microsoft/wassette/internal/telemetry"
	"github.com/microsoft/wassette/internal/wassetteerr"
)

const wasmPageSize = 65536

// Instantiator builds fresh module instances for each invocation. It holds
// a shared wazero compilation cache so repeated invocations of the same
// compiled artifact do not pay recompilation cost, while still honoring the
// "fresh instance per call" isolation rule of SPEC_FULL.md §4.4.
type Instantiator struct {
	cache  wazero.CompilationCache
	logger telemetry.Logger
	tracer telemetry.Tracer
}

// Option configures an Instantiator.
type Option func(*Instantiator)

func WithLogger(l telemetry.Logger) Option { return func(i *Instantiator) { i.logger = l } }
func WithTracer(t telemetry.Tracer) Option { return func(i *Instantiator) { i.tracer = t } }

// New constructs an Instantiator backed by a persistent compilation cache
// directory (SPEC_FULL.md §6 on-disk layout: <plugin_dir>/.wassette_cache).
func New(cacheDir string, opts ...Option) (*Instantiator, error) {
	cache, err := wazero.NewCompilationCacheWithDir(cacheDir)
	if err != nil {
		return nil, wassetteerr.Wrap(wassetteerr.RuntimeError, "create compilation cache", err)
	}
	inst := &Instantiator{
		cache:  cache,
		logger: telemetry.NewNoopLogger(),
		tracer: telemetry.NewNoopTracer(),
	}
	for _, o := range opts {
		o(inst)
	}
	return inst, nil
}

// Close releases the shared compilation cache.
func (i *Instantiator) Close(ctx context.Context) error {
	return i.cache.Close(ctx)
}

// Session is a single guest invocation's runtime, module, and cleanup. The
// caller obtains a Session via Instantiate, uses Module to drive
// wasmtool.Describe/Invoke, and must call Close when done.
type Session struct {
	runtime wazero.Runtime
	Module  api.Module
}

// Close tears the instance and its dedicated runtime down. Guest state
// never outlives the call: nothing is pooled or reused.
func (s *Session) Close(ctx context.Context) error {
	var err error
	if s.Module != nil {
		err = s.Module.Close(ctx)
	}
	if s.runtime != nil {
		if rerr := s.runtime.Close(ctx); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

// Instantiate constructs a fresh sandboxed module instance from wasmBytes
// under tmpl, merging secretEnv over the policy's environment projection
// (secrets override same-named env-allow keys, per §4.4 step 3).
func (i *Instantiator) Instantiate(ctx context.Context, wasmBytes []byte, tmpl *policy.Template, secretEnv map[string]string) (*Session, error) {
	rtConfig := wazero.NewRuntimeConfig().WithCompilationCache(i.cache).WithCloseOnContextDone(true)
	if tmpl.MemoryLimitBytes != nil {
		pages := (*tmpl.MemoryLimitBytes + wasmPageSize - 1) / wasmPageSize
		rtConfig = rtConfig.WithMemoryLimitPages(uint32(pages))
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, rtConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, wassetteerr.Wrap(wassetteerr.RuntimeError, "instantiate WASI snapshot preview1", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		runtime.Close(ctx)
		return nil, wassetteerr.Wrap(wassetteerr.RuntimeError, "compile component module", err)
	}

	modConfig := buildModuleConfig(tmpl, secretEnv)

	mod, err := runtime.InstantiateModule(ctx, compiled, modConfig)
	if err != nil {
		runtime.Close(ctx)
		return nil, wassetteerr.Wrap(wassetteerr.ExecutionFailure, "instantiate component", err)
	}

	return &Session{runtime: runtime, Module: mod}, nil
}

func buildModuleConfig(tmpl *policy.Template, secretEnv map[string]string) wazero.ModuleConfig {
	cfg := wazero.NewModuleConfig().
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader)

	if tmpl.StdioInherit {
		cfg = cfg.WithStdout(os.Stdout).WithStderr(os.Stderr)
	}

	fsConfig := wazero.NewFSConfig()
	for _, p := range tmpl.Preopens {
		if p.FilePerms == 0 && p.DirPerms == 0 {
			continue // an empty access set grants nothing, so nothing is mounted
		}
		if p.FilePerms&policy.FileWrite != 0 {
			fsConfig = fsConfig.WithDirMount(p.HostPath, p.GuestPath)
		} else {
			fsConfig = fsConfig.WithReadOnlyDirMount(p.HostPath, p.GuestPath)
		}
	}
	cfg = cfg.WithFSConfig(fsConfig)

	env := make(map[string]string, len(tmpl.Env)+len(secretEnv))
	for k, v := range tmpl.Env {
		env[k] = v
	}
	for k, v := range secretEnv {
		env[k] = v // secrets override same-named env-allow keys
	}
	for k, v := range env {
		cfg = cfg.WithEnv(k, v)
	}

	return cfg
}

