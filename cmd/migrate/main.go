package main

import (
	"errors"
	"flag"

	"github.com/golang-migrate/migrate/v4"
	"github.com/rs/zerolog/log"

	"guest_reviews/internal/adapters/observability"
	"guest_reviews/internal/shared"
	mysqlrepo "guest_reviews/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	var (
		command string
		steps   int
		dsn     string
	)
	flag.StringVar(&command, "command", "up", "Migration command: up, down, force, version")
	flag.IntVar(&steps, "steps", 0, "Number of migrations to run (0 = all); version for force")
	flag.StringVar(&dsn, "dsn", cfg.MySQLDSN, "MySQL DSN (overrides MYSQL_DSN)")
	flag.Parse()

	m, err := mysqlrepo.NewMigrator(dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create migrate instance")
	}
	defer m.Close()

	log.Info().Str("command", command).Int("steps", steps).Msg("starting migration")

	switch command {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "force":
		if steps == 0 {
			log.Fatal().Msg("force requires -steps with the version number")
		}
		err = m.Force(steps)
	case "version":
		version, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			log.Info().Msg("no migrations applied yet")
			return
		}
		if verr != nil {
			log.Fatal().Err(verr).Msg("failed to get version")
		}
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("current migration version")
		return
	default:
		log.Fatal().Str("command", command).Msg("unknown command")
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Info().Msg("no migrations to apply")
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msg("migration completed")
}
