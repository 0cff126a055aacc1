package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/sarna320/scalp/internal/app"
)

func main() {
	// Secrets come from the environment; a local .env is a convenience
	// for development and optional everywhere else.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("DOTENV_LOAD_FAILED", slog.Any("err", err))
	}

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("BOOTSTRAP_FAILED", slog.Any("err", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go bootstrap.RunClock(ctx)

	slog.InfoContext(ctx, "ENGINE_RUNNING",
		slog.Int("markets", len(bootstrap.Config.Markets)),
		slog.String("mode", bootstrap.Config.Trading.Mode))

	bootstrap.Engine.Run(ctx)

	slog.Info("SHUTDOWN_COMPLETE")
}
