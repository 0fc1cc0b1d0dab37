package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hackgods/clinic-booking-agent/internal/app/bootstrap"
	"github.com/hackgods/clinic-booking-agent/internal/config"
	"github.com/hackgods/clinic-booking-agent/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).Component("reminder-worker")
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("reminder-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(rootCtx, cfg, "reminder-worker", logger)
	if err != nil {
		logger.Error().Err(err).Msg("bootstrap failed")
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := app.Close(ctx); err != nil {
			logger.Error().Err(err).Msg("error releasing resources")
		}
	}()

	app.Driver().Run(rootCtx)
	logger.Info().Msg("reminder-worker stopped")
}
