package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/VaultSign/internal/app"
	"github.com/dharsanguruparan/VaultSign/internal/config"
	"github.com/dharsanguruparan/VaultSign/internal/logging"
	"github.com/dharsanguruparan/VaultSign/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.Environment)
	if cfg.RedisAddr == "" {
		log.Fatal().Msg("worker requires VAULTSIGN_REDIS_ADDR")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("worker requires VAULTSIGN_DATABASE_URL")
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init services")
	}
	defer a.Close()

	server := asynq.NewServer(a.RedisOpt(), asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
	})
	processor := worker.NewProcessor(a.Extractor, a.Sender, log)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker started")
	if err := server.Run(mux); err != nil {
		log.Error().Err(err).Msg("worker stopped")
		_ = a.Close()
		os.Exit(1)
	}
}
