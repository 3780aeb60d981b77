package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/safar/settlement-core/internal/config"
	"github.com/safar/settlement-core/internal/database"
	"github.com/safar/settlement-core/migrations"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) < 2 {
		log.Fatal().Msg("Usage: go run scripts/run_migrations.go [up|down]")
	}

	direction := migrations.Direction(os.Args[1])
	if direction != migrations.Up && direction != migrations.Down {
		log.Fatal().Str("direction", string(direction)).Msg("Direction must be 'up' or 'down'")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Load config")
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Connect to database")
	}
	defer db.Close()

	ran, err := migrations.Run(context.Background(), db, direction)
	if err != nil {
		log.Fatal().Err(err).Msg("Run migrations")
	}

	for _, name := range ran {
		log.Info().Str("file", name).Msg("Ran migration")
	}
	log.Info().Int("count", len(ran)).Str("direction", string(direction)).Msg("Migrations complete")
}
