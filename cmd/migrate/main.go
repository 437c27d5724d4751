package main

import (
	"fmt"
	"os"

	"ledger-service/internal/config"
	"ledger-service/internal/database"
	"ledger-service/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewWithConfig(cfg.Log)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close(db)

	log.Info().Str("driver", cfg.Database.Driver).Msg("Running database migrations...")
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msg("Migrations completed successfully!")
}
