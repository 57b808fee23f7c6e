package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cfieandres/cyphr-tableau/internal/adapter/store"
	"github.com/cfieandres/cyphr-tableau/internal/infra/config"
	"github.com/cfieandres/cyphr-tableau/internal/infra/logger"
	"github.com/cfieandres/cyphr-tableau/internal/usecase/multiagent"
)

type rootOptions struct {
	configPath string
	envFile    string
}

// path resolves the config file: --config, then $CYPHR_CONFIG, then
// ./config.yaml.
func (o *rootOptions) path() string {
	if o.configPath != "" {
		return o.configPath
	}
	if p := os.Getenv("CYPHR_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func (o *rootOptions) load() (*config.Config, error) {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(o.path())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// app holds the pieces shared by every command that touches agents.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.SQLiteStore
	registry *multiagent.Registry
	closers  []func() error
}

// openApp opens the SQLite store and loads the agent registry, seeding the
// store from cfg.Agents when it is empty.
func openApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	st, err := store.NewSQLiteStore(ctx, cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	a := &app{cfg: cfg, logger: log, store: st, closers: []func() error{st.Close}}

	a.registry = multiagent.NewRegistry(log,
		multiagent.WithAgentStore(st),
		multiagent.WithTaskAliases(cfg.Routing.Aliases),
		multiagent.WithDefaultModel(cfg.LLM.DefaultModel),
	)
	if err := a.registry.Load(ctx, cfg.Agents); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("agents: %w", err)
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// cliLogger builds a logger for one-shot commands. Only warnings and
// errors are shown unless debug logging is configured.
func cliLogger(cfg *config.Config) (*slog.Logger, func() error, error) {
	lc := cfg.Logger
	if lc.Level != "debug" {
		lc.Level = "warn"
	}
	if lc.Format == "json" {
		lc.Format = "pretty"
	}
	return logger.New(lc)
}

// withApp loads config, opens the app and runs fn.
func withApp(ctx context.Context, opts *rootOptions, fn func(*app) error) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	log, closeLog, err := cliLogger(cfg)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closeLog()

	a, err := openApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
