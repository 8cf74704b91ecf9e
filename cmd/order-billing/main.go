package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/GolangDeveloperAlmir/order-billing/internal/app"
	"github.com/GolangDeveloperAlmir/order-billing/internal/config"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger := log.New(log.Options{Env: cfg.AppEnv, Level: cfg.LogLevel, File: cfg.LogFile})
	defer func() {
		_ = logger.Sync()
	}()

	if err := app.Run(ctx, cfg, logger); err != nil {
		logger.Error("order-billing stopped", log.Err(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("order-billing stopped")
}
