// Database migration runner
package main

import (
	"context"
	"flag"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/zurychhh/alpha-machine-sub000/internal/config"
	"github.com/zurychhh/alpha-machine-sub000/internal/db"
)

func main() {
	command := flag.String("command", "migrate", "Command to run: migrate or status")
	configPath := flag.String("config", "", "Path to config file")
	migrationsDir := flag.String("migrations", "migrations", "Path to migrations directory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	migrator, err := db.OpenMigrator(cfg.Database.GetDSN(), *migrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer migrator.Close()

	ctx := context.Background()

	switch *command {
	case "migrate":
		if err := migrator.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("Migration failed")
		}
	case "status":
		if err := migrator.Status(ctx); err != nil {
			log.Fatal().Err(err).Msg("Status check failed")
		}
	default:
		log.Error().Str("command", *command).Msg("Unknown command (expected migrate or status)")
		os.Exit(1)
	}
}
