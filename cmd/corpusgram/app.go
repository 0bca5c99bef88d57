package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cognicore/corpusgram/internal/logging"
	"github.com/cognicore/corpusgram/pkg/corpusgram"
	"github.com/cognicore/corpusgram/pkg/corpusgram/config"
	"github.com/cognicore/corpusgram/pkg/corpusgram/store"
	"github.com/cognicore/corpusgram/pkg/corpusgram/store/postgres"
	"github.com/cognicore/corpusgram/pkg/corpusgram/store/sqlite"
	"github.com/cognicore/corpusgram/pkg/corpusgram/store/sqlstore"
	"github.com/cognicore/corpusgram/pkg/corpusgram/vocab"
)

// app is what every command needs: settings, a logger and, once opened, the
// store with its label resolver. The resolver and the maintenance commands
// share one label cache.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    store.Store
	cache    *vocab.Cache
	resolver *vocab.Resolver
	out      io.Writer
}

// loadConfig reads the configuration sources and applies the flags the user
// set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := (&config.Loader{Path: configPath, EnvFile: envFile}).Load()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Store.DSN = dbDSN
	}
	if flags.Changed("driver") {
		cfg.Store.Driver = dbDriver
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("force") {
		cfg.Force = forceFlag
	}
	if flags.Changed("reverse") {
		cfg.Reverse = reverseFlag
	}
	if flags.Changed("workers") {
		cfg.Workers = workersFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newApp loads the configuration and builds the logger without touching the
// database.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log, out: cmd.OutOrStdout()}, nil
}

// open connects to the configured store.
func (a *app) open(ctx context.Context) error {
	opts := sqlstore.Options{MaxParams: a.cfg.Store.MaxParams}

	var err error
	switch a.cfg.Store.Driver {
	case "postgres":
		a.store, err = postgres.Open(ctx, a.cfg.Store.DSN, opts)
	default:
		a.store, err = sqlite.Open(ctx, a.cfg.Store.DSN, opts)
	}
	if err != nil {
		return fmt.Errorf("open %s store: %w", a.cfg.Store.Driver, err)
	}

	a.cache = vocab.NewCache()
	a.resolver = vocab.NewResolver(a.store,
		vocab.WithCache(a.cache),
		vocab.WithPreload(a.cfg.Cache.Preload),
		vocab.WithLogger(a.log))
	a.log.Debug().Str("driver", a.cfg.Store.Driver).Str("dsn", a.cfg.Store.DSN).Msg("store opened")
	return nil
}

func (a *app) close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close store")
	}
}

func (a *app) retry() corpusgram.RetryPolicy {
	return corpusgram.RetryPolicy{
		MaxAttempts: a.cfg.Retry.MaxAttempts,
		Backoff:     a.cfg.Retry.Backoff,
		MaxBackoff:  a.cfg.Retry.MaxBackoff,
	}
}

// withStore runs fn with an open store.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := a.open(ctx); err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}
