package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sheerbytes/chunkcast/internal/client"
	"github.com/sheerbytes/chunkcast/internal/config"
	"github.com/sheerbytes/chunkcast/internal/logging"
	"github.com/sheerbytes/chunkcast/internal/progress"
)

const clientVersion = "v0.1.0"

func main() {
	if hasHelpFlag(os.Args[1:]) {
		printClientUsage()
		return
	}
	if hasVersionFlag(os.Args[1:]) {
		fmt.Fprintln(os.Stdout, clientVersion)
		return
	}
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chunkcast:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.ParseClientConfig()
	if err != nil {
		return err
	}
	logger := logging.New("chunkcast", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, client.DialTimeout)
	stream, err := client.Dial(dialCtx, cfg.Transport, cfg.Server, cfg.WSPath, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("connect %s over %s: %w", cfg.Server, cfg.Transport, err)
	}

	board := progress.NewBoard()
	c := client.New(stream, client.Options{
		Codec:     cfg.Codec(),
		OutputDir: cfg.OutputDir,
		Logger:    logger,
		Board:     board,
	})
	defer c.Close()

	if cfg.List {
		listing, err := c.Listing(ctx)
		if err != nil {
			return err
		}
		fmt.Fprint(os.Stdout, listing)
		return nil
	}

	stopRender := board.Live(os.Stdout, 200*time.Millisecond)
	res, err := c.Fetch(ctx, cfg.Requests)
	stopRender()
	if err != nil {
		return err
	}
	if len(res.Rejected) > 0 {
		return fmt.Errorf("%d of %d files rejected by server", len(res.Rejected), len(res.Rejected)+len(res.Completed))
	}
	return nil
}

func printClientUsage() {
	fmt.Fprintln(os.Stderr, "usage: chunkcast [options] FILE[:PRIORITY]...")
	fmt.Fprintln(os.Stderr, "  --config FILE       YAML configuration file (env CHUNKCAST_CONFIG)")
	fmt.Fprintln(os.Stderr, "  --server ADDR       server address (default localhost:9000)")
	fmt.Fprintln(os.Stderr, "  --transport NAME    tcp, quic or ws (default tcp)")
	fmt.Fprintln(os.Stderr, "  --ws-path PATH      WebSocket upgrade path (default /ws)")
	fmt.Fprintln(os.Stderr, "  --output DIR        directory to write files to (default .)")
	fmt.Fprintln(os.Stderr, "  --priority CLASS    priority for files given without one (default NORMAL)")
	fmt.Fprintln(os.Stderr, "  --list              print the server manifest and exit")
	fmt.Fprintln(os.Stderr, "  --log-level LEVEL   debug, info, warn, error (default info)")
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
