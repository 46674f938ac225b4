package main

import (
	"context"
	"fmt"

	"github.com/jonathan/session-runner/internal/config"
	"github.com/jonathan/session-runner/internal/db"
)

// resolveConfig layers flags over the config file, the environment and the
// built-in defaults, in that order of precedence.
func resolveConfig(flags config.Config) (config.Config, error) {
	cfg := flags
	cfg.Verbose = cfg.Verbose || verbose

	if configPath != "" {
		fileCfg, err := config.LoadConfig(configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = cfg.MergeWithDefaults(*fileCfg)
		cfg.Verbose = cfg.Verbose || fileCfg.Verbose
	}

	cfg = cfg.MergeWithDefaults(config.FromEnv())
	cfg = cfg.MergeWithDefaults(config.Defaults())

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// connectDB opens the database named by the resolved configuration
func connectDB(ctx context.Context, cfg config.Config) (*db.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required (flag --database-url, config file or environment)")
	}
	return db.Connect(ctx, cfg.DatabaseURL)
}
