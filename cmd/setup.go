package main

import (
	"context"
	"fmt"
	"os"

	"github.com/evanmccall/absync/internal/shared"
	"github.com/evanmccall/absync/internal/storage"
	"github.com/urfave/cli/v3"
)

// Setup initializes the config file, database schema, and tier roots.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	config := r.config
	if _, err := os.Stat(configPath); err == nil {
		if config, err = shared.LoadConfig(configPath); err != nil {
			r.logger.Warn("failed to load config, using defaults", "error", err)
			config = shared.DefaultConfig()
		}
	} else {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
		} else {
			r.logger.Info("config file created", "path", configPath)
			if config, err = shared.LoadConfig(configPath); err != nil {
				r.logger.Warn("failed to load created config, using defaults", "error", err)
				config = shared.DefaultConfig()
			}
		}
	}
	r.config = config

	r.logger.Info("initializing database", "path", config.Database.Path)

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	r.logger.Info("running database migrations")
	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	roots := storage.Roots{Hot: config.Storage.HotRoot, Cold: config.Storage.ColdRoot}
	if err := roots.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create storage roots: %w", err)
	}
	r.logger.Info("storage tiers ready", "hot", roots.Hot, "cold", roots.Cold)

	r.writePlain("✓ Setup complete\n")
	r.writePlain("Database: %s\n", config.Database.Path)
	r.writePlain("Hot tier: %s\n", roots.Hot)
	r.writePlain("Cold tier: %s\n", roots.Cold)
	if config.Server.BaseURL == "" || config.Server.Token == "" {
		r.writePlainln("Next: fill server.base_url, server.token, and server.user_id in %s", configPath)
	}
	return nil
}
