// Package main is the entry point for the sessiond server: the duplex RPC
// gateway, health endpoint, and maintenance subcommands (migrate, gc).
//
// Grounded on cmd/agent/main.go's init()-time credential/env loading and
// cmd/agent/runtime.go's component-wiring shape, generalized from a
// one-shot workflow run into a long-lived server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/alecthomas/kong"
	"github.com/coder/websocket"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kilnlabs/sessiond/internal/blobstore"
	"github.com/kilnlabs/sessiond/internal/config"
	"github.com/kilnlabs/sessiond/internal/contextasm"
	"github.com/kilnlabs/sessiond/internal/eventstore"
	"github.com/kilnlabs/sessiond/internal/hooks"
	"github.com/kilnlabs/sessiond/internal/obslog"
	"github.com/kilnlabs/sessiond/internal/orchestrator"
	"github.com/kilnlabs/sessiond/internal/provider"
	"github.com/kilnlabs/sessiond/internal/reconstruct"
	"github.com/kilnlabs/sessiond/internal/rpc"
	"github.com/kilnlabs/sessiond/internal/sync"
	"github.com/kilnlabs/sessiond/internal/turn"
)

var (
	version = "dev"
	commit  = "unknown"
)

func init() {
	_ = godotenv.Load()
}

func main() {
	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		parser.FatalIfErrorf(err)
		return
	}
	parser.FatalIfErrorf(ctx.Run())
}

// Run dispatches on the parsed subcommand per kong's method-per-struct
// convention, mirroring cmd/agent/workflow.go's RunCmd.Run(...) shape.
func (c *ServeCmd) Run() error {
	cfg, err := loadOrDefault(c.Config)
	if err != nil {
		return err
	}
	return serve(cfg)
}

func (c *InitCmd) Run() error {
	if _, err := os.Stat(c.Config); err == nil {
		return fmt.Errorf("config file %s already exists", c.Config)
	}
	f, err := os.Create(c.Config)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(config.Default()); err != nil {
		return err
	}

	cfg := config.Default()
	log := obslog.New(obslog.Environment(cfg.Database.Environment))
	db, err := eventstore.OpenAndMigrate(config.ExpandPath(cfg.Database.Path), log)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Printf("wrote %s and initialized database at %s\n", c.Config, cfg.Database.Path)
	return nil
}

func (c *MigrateCmd) Run() error {
	cfg, err := loadOrDefault(c.Config)
	if err != nil {
		return err
	}
	log := obslog.New(obslog.Environment(cfg.Database.Environment))
	db, err := eventstore.OpenAndMigrate(config.ExpandPath(cfg.Database.Path), log)
	if err != nil {
		return err
	}
	defer db.Close()
	fmt.Println("migrations applied")
	return nil
}

func (c *GCCmd) Run() error {
	cfg, err := loadOrDefault(c.Config)
	if err != nil {
		return err
	}
	log := obslog.New(obslog.Environment(cfg.Database.Environment))
	db, err := eventstore.OpenAndMigrate(config.ExpandPath(cfg.Database.Path), log)
	if err != nil {
		return err
	}
	defer db.Close()

	blobs := blobstore.New(db, log)
	ctx := context.Background()
	candidates, err := blobs.GCCandidates(ctx)
	if err != nil {
		return err
	}
	reclaimed, err := blobs.Reclaim(ctx, candidates)
	if err != nil {
		return err
	}
	fmt.Printf("reclaimed %d of %d candidate blobs\n", reclaimed, len(candidates))
	return nil
}

func (c *VersionCmd) Run() error {
	fmt.Printf("sessiond version %s (commit: %s)\n", version, commit)
	return nil
}

func loadOrDefault(path string) (*config.Config, error) {
	cfg, err := config.LoadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		err = nil
	}
	return cfg, err
}

func serve(cfg *config.Config) error {
	log := obslog.New(obslog.Environment(cfg.Database.Environment))

	shutdownTracing, err := setupTracing(cfg, log)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	db, err := eventstore.OpenAndMigrate(config.ExpandPath(cfg.Database.Path), log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	blobs := blobstore.New(db, log)
	events := eventstore.New(db, blobs, log)
	recon := reconstruct.New(events)
	syncSvc := sync.New(events)

	hookTimeout := 5 * time.Second
	if cfg.Hooks.DefaultTimeout != "" {
		if d, err := time.ParseDuration(cfg.Hooks.DefaultTimeout); err == nil {
			hookTimeout = d
		}
	}
	hookRegistry := hooks.New(hookTimeout, cfg.Hooks.ForcedBlockingTypes, log)

	providers := provider.NewRegistry("")
	for name, pc := range cfg.Providers {
		apiKey := cfg.APIKey(name)
		switch name {
		case "anthropic":
			providers.Register(provider.NewAnthropic(apiKey))
		case "openai":
			providers.Register(provider.NewOpenAI(apiKey))
		default:
			log.Warn("unrecognized provider in config, skipping", "provider", name, "base_url", pc.BaseURL)
		}
	}
	if len(cfg.Providers) == 0 {
		providers.Register(provider.NewStub("stub"))
	}

	skills, err := contextasm.NewSkillRegistry(os.Getenv("SESSIOND_SKILLS_DIR"), log)
	if err != nil {
		log.Warn("skill registry unavailable", "error", err)
		skills = nil
	} else {
		defer skills.Close()
	}
	assembler := contextasm.NewAssembler(skills, blobs, nil)
	prompts := contextasm.NewTurnAdapter(assembler, events, os.Getenv("SESSIOND_GLOBAL_SYSTEM_PROMPT"))

	var orch *orchestrator.Orchestrator
	factory := func(sessionID string) orchestrator.RunnerHandle {
		return turn.NewRunner(sessionID, events, recon, prompts, providers, hookRegistry, noopToolExecutor{}, orch, log)
	}
	orch = orchestrator.New(events, factory, log)

	reg := rpc.NewRegistry(loggingMiddleware(log))
	rpc.RegisterMethods(reg, rpc.Deps{Orchestrator: orch, Events: events, Sync: syncSvc, Providers: providers})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": version})
	})

	duplexMux := http.NewServeMux()
	duplexMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.Warn("websocket accept failed", "error", err)
			return
		}
		conn := rpc.Accept(r.Context(), ws, reg, log)
		if err := conn.Serve(r.Context()); err != nil {
			log.Info("connection closed", "error", err)
		}
	})

	healthSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.HealthPort), Handler: mux}
	duplexSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.DuplexPort), Handler: duplexMux}

	errCh := make(chan error, 2)
	go func() { errCh <- healthSrv.ListenAndServe() }()
	go func() { errCh <- duplexSrv.ListenAndServe() }()

	log.Info("sessiond listening", "duplex_port", cfg.Server.DuplexPort, "health_port", cfg.Server.HealthPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = duplexSrv.Shutdown(shutdownCtx)
		_ = healthSrv.Shutdown(shutdownCtx)
		return nil
	}
}

// setupTracing installs a real TracerProvider when telemetry is enabled, so
// internal/orchestrator's spans go somewhere instead of the API's no-op
// default. Returns a shutdown func to flush and tear the provider down.
func setupTracing(cfg *config.Config, log *obslog.Logger) (func(context.Context), error) {
	if !cfg.Telemetry.Enabled {
		return func(context.Context) {}, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	log.Info("tracing enabled", "endpoint", cfg.Telemetry.Endpoint)
	return func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}, nil
}

func loggingMiddleware(log *obslog.Logger) rpc.Middleware {
	return func(next rpc.HandlerFunc) rpc.HandlerFunc {
		return func(ctx context.Context, params json.RawMessage) (any, error) {
			start := time.Now()
			result, err := next(ctx, params)
			log.Debug("rpc call", "duration_ms", time.Since(start).Milliseconds(), "error", err)
			return result, err
		}
	}
}
