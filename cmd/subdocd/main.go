// Command subdocd is a thin reference daemon exercising the core
// library end to end: one bucket, one engine, one listener. It is
// deliberately not an interactive shell — see DESIGN.md for why the
// teacher's REPL/context-manager commands were dropped rather than
// adapted here.
//
// Usage:
//
//	subdocd [flags]
//
// Flags:
//
//	-addr       TCP listen address (default ":11311")
//	-bucket     default bucket name (default "default")
//	-maxdoc     maximum document size in bytes (default 20MiB)
//	-verbose    enable debug-level logging
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/yeqown/submemd/bucket"
	"github.com/yeqown/submemd/engine"
	"github.com/yeqown/submemd/engine/memengine"
	"github.com/yeqown/submemd/ioctl"
	"github.com/yeqown/submemd/server"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// config is the daemon's resolved configuration, bound to flags the
// same way eth2030's node.Config is (pkg/cmd/eth2030/main.go).
type config struct {
	Addr       string
	BucketName string
	MaxDocSize int
	Verbose    bool
}

func defaultConfig() config {
	return config{
		Addr:       ":11311",
		BucketName: "default",
		MaxDocSize: 20 * 1024 * 1024,
	}
}

// run is the actual entry point, returning an exit code; kept separate
// from main so it can be driven with explicit args in tests.
func run(args []string) int {
	cfg, exit, code := parseFlags(args)
	if exit {
		return code
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	logger.Info("subdocd starting",
		"addr", cfg.Addr,
		"bucket", cfg.BucketName,
		"max_doc_size", cfg.MaxDocSize,
	)

	registry := bucket.NewRegistry(16, func() engine.Engine { return memengine.New() })
	if err := registry.Create(cfg.BucketName); err != nil {
		logger.Error("failed to create default bucket", "error", err)
		return 1
	}
	b, err := registry.Select(cfg.BucketName)
	if err != nil {
		logger.Error("failed to select default bucket", "error", err)
		return 1
	}

	// Not wired onto any wire opcode (spec.md assigns none to ioctl) —
	// available for an operator to drive directly against the process,
	// e.g. from a future admin surface built on top of this daemon.
	_ = ioctl.NewSurface()

	dispatcher := server.NewDispatcher(logger)
	srv := server.NewServer(server.Config{
		ListenAddr:    cfg.Addr,
		DefaultBucket: b,
		MaxDocSize:    cfg.MaxDocSize,
		Logger:        logger,
	}, dispatcher)

	if err := srv.Start(); err != nil {
		logger.Error("failed to start listener", "error", err)
		return 1
	}
	logger.Info("listening", "addr", srv.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)

	srv.Stop()
	logger.Info("shutdown complete")
	return 0
}

func parseFlags(args []string) (config, bool, int) {
	cfg := defaultConfig()

	fs := flag.NewFlagSet("subdocd", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "TCP listen address")
	fs.StringVar(&cfg.BucketName, "bucket", cfg.BucketName, "default bucket name")
	fs.IntVar(&cfg.MaxDocSize, "maxdoc", cfg.MaxDocSize, "maximum document size in bytes")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable debug-level logging")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cfg, true, 2
	}

	if *showVersion {
		fmt.Println("subdocd")
		return cfg, true, 0
	}

	return cfg, false, 0
}
