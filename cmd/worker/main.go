package main

import (
	"fmt"
	"os"

	"ledger-service/internal/app"
	"ledger-service/internal/config"
	"ledger-service/internal/worker"
	"ledger-service/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewWithConfig(cfg.Log).With().Str("component", "worker").Logger()

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise ledger")
	}
	defer a.Close()

	redisOpt, err := worker.RedisOpt(cfg.Redis.Addr)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid redis address")
	}

	log.Info().Msg("Starting Asynq Worker...")
	if err := worker.StartWorker(redisOpt, worker.NewWorker(a.Earnings, a.Ledger, log)); err != nil {
		log.Error().Err(err).Msg("worker stopped")
	}
}
