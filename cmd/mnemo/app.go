package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dan-solli/mnemo/pkg/config"
	"github.com/dan-solli/mnemo/pkg/engine"
	"github.com/dan-solli/mnemo/pkg/logging"
	"github.com/dan-solli/mnemo/pkg/store"
)

// app bundles what every subcommand needs.
type app struct {
	engine *engine.Engine
	config *config.Manager
	logger *slog.Logger
	db     *sql.DB // only set when --db was given
}

func defaultConfigPath() string {
	if p := os.Getenv(config.EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".mnemo", "config.yaml")
	}
	return filepath.Join(home, ".mnemo", "config.yaml")
}

// openApp loads configuration, builds the logger and opens the engine.
func openApp() (*app, error) {
	mgr, err := config.NewManager(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := mgr.Current()

	logger, levelVar, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, err
	}

	opts := engine.Options{
		Config:   mgr,
		Logger:   logger,
		LevelVar: levelVar,
	}

	a := &app{config: mgr, logger: logger}
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err := store.Open(dbPath)
		if err != nil {
			return nil, err
		}
		a.db = db
		opts.DB = db
	}

	eng, err := engine.New(opts)
	if err != nil {
		if a.db != nil {
			a.db.Close()
		}
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	a.engine = eng
	return a, nil
}

func (a *app) Close() error {
	err := a.engine.Close()
	if a.db != nil {
		if cerr := a.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func requireProjectFlag() error {
	if project == "" {
		return fmt.Errorf("--project is required")
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
