package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dharsanguruparan/VaultSign/internal/api"
	"github.com/dharsanguruparan/VaultSign/internal/app"
	"github.com/dharsanguruparan/VaultSign/internal/config"
	"github.com/dharsanguruparan/VaultSign/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init services")
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("shutdown")
		}
	}()
	a.Start(ctx)

	deps := api.Deps{
		Tasks:     a.Tasks,
		Positions: a.Positions,
		Signing:   a.Signing,
		Verifier:  a.Verifier,
	}
	if m, ok := a.Downloads(); ok {
		deps.Downloads = m
	}
	srv := api.New(cfg, deps, log)
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped")
		stop()
		_ = a.Close()
		os.Exit(1)
	}
}
