package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relayforge/relayforge/internal/config"
	"github.com/relayforge/relayforge/internal/database"
	"github.com/relayforge/relayforge/internal/observability"
	"github.com/relayforge/relayforge/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}

	if cfg.Primary.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nrApp, err := observability.NewApplication(cfg.Observability)
	if err != nil {
		log.Fatal().Err(err).Msg("could not start new relic agent")
	}

	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create database pool")
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("could not run migrations")
	}

	srv := server.New(cfg, pool, nrApp)

	go srv.Engine.Start(ctx)

	log.Info().Str("port", cfg.Server.Port).Msg("starting server")
	if err := srv.Start(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}
