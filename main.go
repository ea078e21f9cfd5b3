package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"duoplay/server/internal/config"
	"duoplay/server/internal/logging"

	"github.com/joho/godotenv"
)

func main() {
	//1.- A local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	logging.ReplaceGlobals(logger)
	defer func() { _ = logger.Sync() }()

	server, err := NewServer(cfg, logger)
	if err != nil {
		logger.Error("server construction failed", logging.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("game server starting",
		logging.String("control_addr", cfg.ControlAddr),
		logging.String("low_latency_addr", cfg.LowLatencyAddr),
		logging.String("admin_addr", cfg.AdminAddr))

	if err := server.Run(ctx); err != nil {
		logger.Error("game server exited with error", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("game server stopped")
}
