package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sheerbytes/chunkcast/internal/config"
	"github.com/sheerbytes/chunkcast/internal/logging"
	"github.com/sheerbytes/chunkcast/internal/metrics"
	"github.com/sheerbytes/chunkcast/internal/server"
	"github.com/sheerbytes/chunkcast/internal/transfer"
	"github.com/sheerbytes/chunkcast/pkg/manifest"
)

const serverVersion = "v0.1.0"

func main() {
	if hasHelpFlag(os.Args[1:]) {
		printServerUsage()
		return
	}
	if hasVersionFlag(os.Args[1:]) {
		fmt.Fprintln(os.Stdout, serverVersion)
		return
	}
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chunkcastd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.ParseServerConfig()
	if err != nil {
		return err
	}
	logger := logging.New("chunkcastd", cfg.LogLevel)

	m, err := loadManifest(cfg)
	if err != nil {
		if m == nil {
			return err
		}
		logger.Warn("some files were skipped", "error", err)
	}
	weights, err := cfg.Weights()
	if err != nil {
		return err
	}
	logger.Info("manifest loaded", "root", m.Root(), "files", len(m.Items()), "priorities", weights.Classes())

	var obs *metrics.Metrics
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		obs = metrics.New(reg)
		obs.Register(weights.Classes())
	}

	srv := server.New(m, server.Options{
		Addr:        cfg.Addr,
		QUICAddr:    cfg.QUICAddr,
		WSAddr:      cfg.WSAddr,
		WSPath:      cfg.WSPath,
		MetricsAddr: cfg.MetricsAddr,
		Metrics:     obs,
		Logger:      logger,
		Session: transfer.Config{
			Codec:          cfg.Codec(),
			Weights:        weights,
			StrictPriority: cfg.StrictPriority,
			Logger:         logger,
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Info("starting server", "addr", cfg.Addr, "quic_addr", cfg.QUICAddr, "ws_addr", cfg.WSAddr, "metrics_addr", cfg.MetricsAddr)
	err = srv.Serve(ctx)
	logger.Info("server stopped")
	return err
}

func loadManifest(cfg config.ServerConfig) (*manifest.Manifest, error) {
	if cfg.Manifest != "" {
		root := cfg.Root
		if root == "." {
			// a listing file names files relative to its own directory
			root = ""
		}
		return manifest.Load(root, cfg.Manifest)
	}
	return manifest.Scan(cfg.Root)
}

func printServerUsage() {
	fmt.Fprintln(os.Stderr, "usage: chunkcastd [--addr ADDR] [--root DIR | --manifest FILE] [options]")
	fmt.Fprintln(os.Stderr, "  --config FILE           YAML configuration file (env CHUNKCAST_CONFIG)")
	fmt.Fprintln(os.Stderr, "  --addr ADDR             TCP listen address (default :9000, empty disables)")
	fmt.Fprintln(os.Stderr, "  --quic-addr ADDR        QUIC listen address (default disabled)")
	fmt.Fprintln(os.Stderr, "  --ws-addr ADDR          WebSocket listen address (default disabled)")
	fmt.Fprintln(os.Stderr, "  --ws-path PATH          WebSocket upgrade path (default /ws)")
	fmt.Fprintln(os.Stderr, "  --metrics-addr ADDR     Prometheus /metrics listen address (default disabled)")
	fmt.Fprintln(os.Stderr, "  --root DIR              directory to serve (default .)")
	fmt.Fprintln(os.Stderr, "  --manifest FILE         listing file of served names (default: scan --root)")
	fmt.Fprintln(os.Stderr, "  --priority CLASS=N      priority weight, repeatable (default NORMAL=1 HIGH=4 CRITICAL=10)")
	fmt.Fprintln(os.Stderr, "  --strict-priority BOOL  answer unknown priority classes with ERR (default true)")
	fmt.Fprintln(os.Stderr, "  --chunk-size N          file chunk size in bytes (default 1024)")
	fmt.Fprintln(os.Stderr, "  --header-size N         frame header width in bytes (default 64)")
	fmt.Fprintln(os.Stderr, "  --log-level LEVEL       debug, info, warn, error (default info)")
	fmt.Fprintln(os.Stderr, "every flag can also be set as CHUNKCAST_<NAME>, e.g. CHUNKCAST_QUIC_ADDR")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}
