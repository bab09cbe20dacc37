// Command raceboardd runs the Raceboard tracking server: one process, one
// bbolt file, two loopback listeners (REST on http_port, websockets on
// stream_port).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raceboard/server/internal/app"
	"github.com/raceboard/server/internal/config"
	"github.com/raceboard/server/internal/telemetry/logging"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		readOnly   = flag.Bool("read-only", false, "refuse all mutating requests")
		logLevel   = flag.String("log-level", "info", "debug, info, warn, or error")
	)
	flag.Parse()

	log := logging.New(parseLevel(*logLevel))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if *readOnly {
		cfg.Server.ReadOnly = true
	}

	a, err := app.New(cfg, log)
	if err != nil {
		log.Error("failed to construct server", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting raceboardd",
		"http_addr", fmt.Sprintf("%s:%d", cfg.Server.HTTPHost, cfg.Server.HTTPPort),
		"stream_addr", fmt.Sprintf("%s:%d", cfg.Server.HTTPHost, cfg.Server.StreamPort),
		"read_only", cfg.Server.ReadOnly,
	)

	startErr := make(chan error, 1)
	go func() { startErr <- a.Start(ctx) }()

	select {
	case err := <-startErr:
		if err != nil {
			log.Error("server exited with error", "err", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", "err", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
