// Command sauropod-serve is the main entry point for the sauropod-sub000
// voice AI server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sauropod-io/sauropod-sub000/internal/config"
	"github.com/sauropod-io/sauropod-sub000/internal/health"
	"github.com/sauropod-io/sauropod-sub000/internal/mcp"
	"github.com/sauropod-io/sauropod-sub000/internal/mcp/mcphost"
	"github.com/sauropod-io/sauropod-sub000/internal/mcp/tier"
	"github.com/sauropod-io/sauropod-sub000/internal/mcp/tools"
	"github.com/sauropod-io/sauropod-sub000/internal/mcp/tools/diceroller"
	"github.com/sauropod-io/sauropod-sub000/internal/mcp/tools/fileio"
	"github.com/sauropod-io/sauropod-sub000/internal/mcp/tools/ruleslookup"
	"github.com/sauropod-io/sauropod-sub000/internal/modelpool"
	"github.com/sauropod-io/sauropod-sub000/internal/observe"
	"github.com/sauropod-io/sauropod-sub000/internal/outputparser"
	"github.com/sauropod-io/sauropod-sub000/internal/resilience"
	"github.com/sauropod-io/sauropod-sub000/internal/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ───────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sauropod-serve: config file %q not found — pass -config with the path to a YAML configuration file\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sauropod-serve: %v\n", err)
		}
		return 1
	}

	// ── Logger ───────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("sauropod-serve starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "sauropod-serve",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	ps, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	sttFallback := resilience.NewSTTFallback(ps.STT, cfg.Providers.STT.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: "stt"},
	})
	ttsFallback := resilience.NewTTSFallback(ps.TTS, cfg.Providers.TTS.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: "tts"},
	})

	modelpool.Init(ps.LLM)

	// ── MCP tool host ────────────────────────────────────────────────────────
	mcpHost := mcphost.New()
	for _, tool := range diceroller.Tools() {
		registerBuiltin(mcpHost, tool)
	}
	for _, tool := range ruleslookup.Tools() {
		registerBuiltin(mcpHost, tool)
	}
	fileBase, err := filepath.Abs(".")
	if err != nil {
		slog.Error("failed to resolve file tool directory", "err", err)
		return 1
	}
	for _, tool := range fileio.NewTools(fileBase) {
		registerBuiltin(mcpHost, tool)
	}
	for _, srv := range cfg.MCP.Servers {
		if err := mcpHost.RegisterServer(ctx, mcp.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		}); err != nil {
			slog.Error("failed to register mcp server", "name", srv.Name, "err", err)
			return 1
		}
	}
	if err := mcpHost.Calibrate(ctx); err != nil {
		slog.Warn("mcp tool calibration failed — tiers fall back to declared latencies", "err", err)
	}
	defer func() {
		if err := mcpHost.Close(); err != nil {
			slog.Warn("mcp host close error", "err", err)
		}
	}()

	tierSelector := tier.NewSelector()

	// ── Startup summary ──────────────────────────────────────────────────────
	printStartupSummary(cfg)

	// ── HTTP wiring ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/realtime", transport.ServeRealtime(transport.RealtimeDeps{
		VADEngine:    ps.VAD,
		STT:          sttFallback,
		TTS:          ttsFallback,
		MCPHost:      mcpHost,
		TierSelector: tierSelector,
	}))
	mux.HandleFunc("/v1/responses", transport.ServeResponses(newModelLookup(cfg.Models)))

	healthHandler := health.New(health.Checker{
		Name: "providers",
		Check: func(context.Context) error {
			if ps.LLM == nil {
				return errors.New("no llm provider configured")
			}
			return nil
		},
	})
	healthHandler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serveErr:
		if err != nil {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltin converts a [tools.Tool] to an [mcphost.BuiltinTool] and
// registers it with host, logging (rather than failing startup) if
// registration is rejected.
func registerBuiltin(host *mcphost.Host, t tools.Tool) {
	err := host.RegisterBuiltin(mcphost.BuiltinTool{
		Definition:  t.Definition,
		Handler:     t.Handler,
		DeclaredP50: t.DeclaredP50,
		DeclaredMax: t.DeclaredMax,
	})
	if err != nil {
		slog.Error("failed to register builtin tool", "name", t.Definition.Name, "err", err)
	}
}

// ── Logger ───────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Startup summary ──────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      sauropod-serve — startup summary ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	fmt.Printf("║  models configured : %-16d ║\n", len(cfg.Models))
	fmt.Printf("║  voices configured : %-16d ║\n", len(cfg.Voices))
	fmt.Printf("║  MCP servers       : %-16d ║\n", len(cfg.MCP.Servers))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr       : %-16s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 16 {
		value = value[:13] + "…"
	}
	fmt.Printf("║  %-16s  : %-16s ║\n", kind, value)
}

// ── Model lookup ─────────────────────────────────────────────────────────────

// modelLookup implements [transport.ModelLookup] against the server's
// configured model registry.
type modelLookup struct {
	byName map[string]config.ModelConfig
}

func newModelLookup(models []config.ModelConfig) *modelLookup {
	byName := make(map[string]config.ModelConfig, len(models))
	for _, m := range models {
		byName[m.Name] = m
	}
	return &modelLookup{byName: byName}
}

// Lookup implements [transport.ModelLookup].
func (l *modelLookup) Lookup(name string) (family outputparser.Family, device string, ok bool) {
	m, found := l.byName[name]
	if !found {
		return outputparser.Unknown, "", false
	}
	return familyFromString(m.Family), m.Device, true
}

// familyFromString maps a [config.ModelConfig.Family] string to its
// [outputparser.Family] constant. Unrecognised values map to
// [outputparser.Unknown]; [config.Validate] already rejects configs with
// family values outside this set.
func familyFromString(s string) outputparser.Family {
	switch s {
	case "llama":
		return outputparser.LlamaLike
	case "qwen":
		return outputparser.QwenLike
	default:
		return outputparser.Unknown
	}
}
