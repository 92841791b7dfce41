// Command pontoon is the Pontoon voice-AI call gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"

	"github.com/pontoonlabs/pontoon/internal/call"
	"github.com/pontoonlabs/pontoon/internal/cdr"
	"github.com/pontoonlabs/pontoon/internal/config"
	"github.com/pontoonlabs/pontoon/internal/events"
	"github.com/pontoonlabs/pontoon/internal/gateway"
	"github.com/pontoonlabs/pontoon/internal/health"
	"github.com/pontoonlabs/pontoon/internal/observe"
	"github.com/pontoonlabs/pontoon/pkg/peer"
	"github.com/pontoonlabs/pontoon/pkg/peer/realtime"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "pontoon: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "pontoon: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can adjust it live.
	logLevel := &slog.LevelVar{}
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("pontoon starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "pontoon",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Call record store (optional) ──────────────────────────────────────────
	var (
		recorder cdr.Recorder = cdr.Nop{}
		checkers []health.Checker
	)
	if cfg.CDR.PostgresDSN != "" {
		store, err := cdr.NewStore(ctx, cfg.CDR.PostgresDSN)
		if err != nil {
			slog.Error("failed to open call record store", "err", err)
			return 1
		}
		defer store.Close()
		recorder = store
		checkers = append(checkers, health.Checker{Name: "cdr", Check: store.Healthy})
		slog.Info("call record store connected")
	}

	// ── Event publisher (optional) ────────────────────────────────────────────
	var publisher events.Publisher = events.Nop{}
	if cfg.Events.NATSURL != "" {
		nats, err := events.Connect(cfg.Events.NATSURL)
		if err != nil {
			slog.Error("failed to connect event broker", "err", err, "url", cfg.Events.NATSURL)
			return 1
		}
		defer nats.Close()
		publisher = nats
		checkers = append(checkers, health.Checker{Name: "events", Check: nats.Healthy})
		slog.Info("event broker connected", "url", cfg.Events.NATSURL)
	}

	// ── AI peer ───────────────────────────────────────────────────────────────
	peerOpts := []realtime.Option{
		realtime.WithSampleRates(cfg.Peer.InputSampleRate, cfg.Peer.OutputSampleRate),
	}
	if cfg.Peer.Model != "" {
		peerOpts = append(peerOpts, realtime.WithModel(cfg.Peer.Model))
	}
	if cfg.Peer.URL != "" {
		peerOpts = append(peerOpts, realtime.WithBaseURL(cfg.Peer.URL))
	}
	peerClient := realtime.New(cfg.Peer.APIKey, peerOpts...)

	// ── Call manager ──────────────────────────────────────────────────────────
	manager, err := call.NewManager(call.Config{
		Bridge: cfg.BridgeConfig(),
		Session: peer.SessionConfig{
			Voice:        cfg.Peer.Voice,
			Instructions: cfg.Peer.Instructions,
		},
		MaxConcurrent: cfg.Sessions.MaxConcurrent,
	}, peerClient,
		call.WithRecorder(recorder),
		call.WithEvents(publisher),
		call.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to create call manager", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(prev, next *config.Config) {
		applyReload(config.Diff(prev, next), logLevel, manager)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Control client (optional) ─────────────────────────────────────────────
	var control *gateway.ControlClient
	if cfg.Control.BaseURL != "" {
		control = gateway.NewControlClient(cfg.Control.BaseURL, cfg.Control.APIKey)
	}

	// ── Gateway ───────────────────────────────────────────────────────────────
	gwCfg := gateway.Config{
		ListenAddr: cfg.Server.ListenAddr,
		MediaURL:   cfg.Control.MediaURL,
		Version:    version,
	}
	if cfg.Server.TLS != nil {
		gwCfg.CertFile = cfg.Server.TLS.CertFile
		gwCfg.KeyFile = cfg.Server.TLS.KeyFile
	}
	server := gateway.New(gwCfg, manager, control, metrics, checkers...)

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	runErr := server.Run(ctx, cfg.Server.ShutdownTimeout)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down, hanging up active calls", "active", manager.Len())
	manager.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyReload applies the hot-reloadable subset of a config change.
func applyReload(d config.Changes, logLevel *slog.LevelVar, manager *call.Manager) {
	if !d.Any() {
		return
	}
	if d.LogLevelChanged {
		logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.InstructionsChanged {
		for _, sess := range manager.Active() {
			if err := sess.UpdateInstructions(d.NewInstructions); err != nil {
				slog.Warn("instructions not updated", "call_id", sess.CallID(), "err", err)
			}
		}
		slog.Info("agent instructions updated", "active_calls", manager.Len())
	}
	if d.MaxConcurrentChanged {
		manager.SetMaxConcurrent(d.NewMaxConcurrent)
		slog.Info("concurrent call limit changed", "max_concurrent", d.NewMaxConcurrent)
	}
	if d.VoiceChanged || d.ModelChanged {
		slog.Info("peer voice/model changed; applies to new calls after restart")
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Pontoon — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Media", fmt.Sprintf("%d Hz / %d spf", cfg.Media.SampleRate, cfg.Media.FrameSamples))
	printRow("Peer model", cfg.Peer.Model)
	printRow("Peer rates", fmt.Sprintf("%d in / %d out", cfg.Peer.InputSampleRate, cfg.Peer.OutputSampleRate))
	printRow("Call control", enabledLabel(cfg.Control.BaseURL != ""))
	printRow("Call records", enabledLabel(cfg.CDR.PostgresDSN != ""))
	printRow("Events", enabledLabel(cfg.Events.NATSURL != ""))
	if cfg.Sessions.MaxConcurrent > 0 {
		printRow("Max calls", fmt.Sprintf("%d", cfg.Sessions.MaxConcurrent))
	} else {
		printRow("Max calls", "unlimited")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

func enabledLabel(on bool) string {
	if on {
		return "enabled"
	}
	return "(disabled)"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
