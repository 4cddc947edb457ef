package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"go.uber.org/zap"

	"github.com/lalithlochan/contestpulse/internal/config"
	"github.com/lalithlochan/contestpulse/internal/db"
	"github.com/lalithlochan/contestpulse/internal/observ"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("migrator", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back with down")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cmd := "up"
	if fs.NArg() > 0 {
		cmd = fs.Arg(0)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	dbConfig := db.Config{
		URL:      cfg.DatabaseURL,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	m, err := db.NewMigrator(dbConfig.ConnString())
	if err != nil {
		return err
	}
	defer m.Close()

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		if *steps <= 0 {
			return fmt.Errorf("-steps must be positive, got %d", *steps)
		}
		err = m.Steps(-*steps)
	case "version":
	default:
		return fmt.Errorf("unknown command %q (want up, down or version)", cmd)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("schema already up to date")
	} else if err != nil {
		return fmt.Errorf("migrate %s: %w", cmd, err)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		logger.Info("no migrations applied")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	logger.Info("migrations complete",
		zap.String("command", cmd),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}
