// Package bootstrap provides application initialization for subsweep CLI
// commands: environment, configuration, logging, and the credential fleet.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/minhvu-dev/subsweep/internal/config"
	"github.com/minhvu-dev/subsweep/internal/keystore"
	"github.com/minhvu-dev/subsweep/internal/logging"
	log "github.com/minhvu-dev/subsweep/internal/logging"
	"github.com/minhvu-dev/subsweep/internal/rotation"
	"github.com/minhvu-dev/subsweep/internal/store"
)

// Result carries everything a command needs after initialization.
type Result struct {
	Config         *config.Config
	ConfigFilePath string
}

// Fleet bundles the opened credential store with its scheduler and
// recorder.
type Fleet struct {
	Store     *keystore.Store
	Scheduler *rotation.Scheduler
	Recorder  *rotation.Recorder
	Backup    *store.Backup
}

// Bootstrap loads .env, the config file, and configures logging. It does
// not open the credential fleet; commands that need it call OpenFleet.
func Bootstrap(configPath string) (*Result, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})

	return &Result{
		Config:         cfg,
		ConfigFilePath: configPath,
	}, nil
}

// OpenFleet validates the config, loads credentials, optionally restores
// state from the backup store, and opens the keystore.
func OpenFleet(ctx context.Context, cfg *config.Config) (*Fleet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seeds, err := config.LoadCredentials(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}

	var backup *store.Backup
	if cfg.Backup.Enabled {
		backup, err = store.NewBackup(ctx, cfg.Backup, cfg.StatePath)
		if err != nil {
			return nil, err
		}
		if err := backup.RestoreIfMissing(ctx); err != nil {
			log.Warnf("state restore failed, starting fresh: %v", err)
		}
	}

	st, err := keystore.Open(cfg.StatePath, seeds, cfg.Settings())
	if err != nil {
		return nil, fmt.Errorf("failed to open key store: %w", err)
	}

	return &Fleet{
		Store:     st,
		Scheduler: rotation.NewScheduler(st),
		Recorder:  rotation.NewRecorder(st),
		Backup:    backup,
	}, nil
}
