package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"coachpay/internal/infrastructure"
)

func main() {
	if err := run(); err != nil {
		slog.Error("coachpay stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("coachpay stopped")
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := infrastructure.Bootstrap(ctx)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		return err
	}

	slog.Info("coachpay is starting")
	return app.Run(ctx)
}
