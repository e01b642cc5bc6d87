package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/runledger/internal/config"
	"github.com/roach88/runledger/internal/engine"
	"github.com/roach88/runledger/internal/logger"
	"github.com/roach88/runledger/internal/normalize"
	"github.com/roach88/runledger/internal/store"
	"github.com/roach88/runledger/internal/usage"
)

// loadConfig resolves the effective configuration. The config file and
// RUNLEDGER_* environment come first; a non-empty dsn flag wins over both.
func loadConfig(opts *RootOptions, dsn string) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, commandError(CodeConfig, "failed to load config", err)
	}
	if dsn != "" {
		cfg.Database.DSN = dsn
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, commandError(CodeConfig, "invalid config", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	l, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, commandError(CodeConfig, "failed to create logger", err)
	}
	return l, nil
}

// openEngine opens the configured store and builds an engine over it.
// The caller closes the store.
func openEngine(cfg config.Config, l *zap.Logger) (*engine.Engine, *store.Store, error) {
	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return nil, nil, commandError(CodeStore, "failed to open database", err)
	}

	n, err := normalize.New(normalize.WithUsage(usage.NewEstimator(usage.WithLogger(l))))
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("failed to build normalizer: %w", err)
	}

	eng, err := engine.New(st,
		engine.WithLogger(l),
		engine.WithNormalizer(n),
		engine.WithParentRetryDelay(cfg.Engine.ParentRetryDelay),
	)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return eng, st, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
