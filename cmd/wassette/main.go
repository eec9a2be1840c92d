// Command wassette runs the Wasm component host: it loads the configured
// plugin directory, serves every component's exported functions plus the
// fixed admin tool set over MCP on stdio, and mediates every host-resource
// access a guest attempts through the per-component capability policy.
//
// Exit codes: 0 success, 1 bad arguments, 2 startup failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"goa.design/clue/log"

	"github.com/microsoft/wassette/internal/config"
	"github.com/microsoft/wassette/internal/fetch"
	"github.com/microsoft/wassette/internal/lifecycle"
	"github.com/microsoft/wassette/internal/mcpserver"
	"github.com/microsoft/wassette/internal/policy"
	"github.com/microsoft/wassette/internal/sandbox"
	"github.com/microsoft/wassette/internal/secrets"
	"github.com/microsoft/wassette/internal/sigverify"
	"github.com/microsoft/wassette/internal/telemetry"
)

const version = "0.1.0"

func main() {
	var (
		configF  = flag.String("config", "", "path to a YAML configuration file (overrides plugin-dir/autoload flags when set)")
		pluginF  = flag.String("plugin-dir", ".", "directory holding *.wasm components and their sibling *.policy.yaml files")
		autoload = flag.String("autoload", "lazy", "autoload mode: eager, lazy, or off")
		dbgF     = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	cfg := config.Default()
	if *configF != "" {
		loaded, err := config.Load(*configF)
		if err != nil {
			log.Error(ctx, err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg.PluginDir = *pluginF
		cfg.Autoload = config.AutoloadMode(*autoload)
		if cfg.SecretsDir == "" {
			dir, err := os.UserConfigDir()
			if err != nil {
				dir = "."
			}
			cfg.SecretsDir = dir + "/wassette/secrets"
		}
		if cfg.CacheDir == "" {
			cfg.CacheDir = cfg.PluginDir + "/.wassette_cache"
		}
	}

	if err := run(ctx, cfg); err != nil {
		log.Error(ctx, err)
		os.Exit(2)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewClueLogger()
	tracer := telemetry.NewClueTracer()

	secretStore, err := secrets.NewStore(cfg.SecretsDir)
	if err != nil {
		return fmt.Errorf("create secret store: %w", err)
	}

	verifier, err := sigverify.New(sigverify.Config{
		Enforce:      cfg.Signature.Enforce,
		TrustedKeys:  cfg.Signature.TrustedKeys,
		TrustedCerts: cfg.Signature.TrustedCerts,
		AllowFulcio:  cfg.Signature.AllowFulcio,
	})
	if err != nil {
		return fmt.Errorf("build signature verifier: %w", err)
	}

	instantiator, err := sandbox.New(cfg.CacheDir, sandbox.WithLogger(logger), sandbox.WithTracer(tracer))
	if err != nil {
		return fmt.Errorf("create sandbox instantiator: %w", err)
	}
	defer instantiator.Close(ctx)

	compiler := policy.NewCompiler(cfg.PluginDir, hostEnvMap())
	fetcher := fetch.New()

	mcpSrv := mcpserver.NewServer("wassette", version, mcpserver.WithActivityLogger(logger))

	manager, err := lifecycle.New(
		ctx,
		cfg.PluginDir,
		lifecycle.ParseAutoloadMode(string(cfg.Autoload)),
		fetcher,
		verifier,
		instantiator,
		compiler,
		secretStore,
		lifecycle.WithLogger(logger),
		lifecycle.WithTracer(tracer),
		lifecycle.WithStartupParallelism(cfg.StartupParallelism),
		lifecycle.WithOnLoad(mcpSrv.OnLoad),
		lifecycle.WithOnUnload(mcpSrv.OnUnload),
	)
	if err != nil {
		return fmt.Errorf("construct lifecycle manager: %w", err)
	}
	defer manager.Close(ctx)

	dispatcher := mcpserver.New(manager, secretStore,
		mcpserver.WithLogger(logger),
		mcpserver.WithRateLimitCapacity(int(cfg.RateLimitCapacity)),
	)
	mcpSrv.SetDispatcher(dispatcher)

	if cfg.Autoload != config.AutoloadOff {
		readyCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := manager.Ready(readyCtx); err != nil {
			log.Error(ctx, fmt.Errorf("autoload reported failures: %w", err))
		}
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Print(runCtx, log.KV{K: "plugin_dir", V: cfg.PluginDir}, log.KV{K: "autoload", V: string(cfg.Autoload)})
	return mcpSrv.Run(runCtx, &mcp.StdioTransport{})
}

func hostEnvMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
