package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tickwise/presenced/internal/config"
	"github.com/tickwise/presenced/internal/ledger"
	ledgermemory "github.com/tickwise/presenced/internal/ledger/memory"
	ledgerredis "github.com/tickwise/presenced/internal/ledger/redis"
	ledgersheets "github.com/tickwise/presenced/internal/ledger/sheets"
)

// loadForCLI loads configuration and sets up logging for one-shot commands.
func loadForCLI() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger
	return cfg, logger, nil
}

// openTableCLI opens the configured ledger backend with its own connection
// and returns a cleanup func.
func openTableCLI(ctx context.Context, cfg *config.Config) (ledger.Table, func(), error) {
	switch cfg.Ledger.Backend {
	case "memory":
		// A fresh in-memory table is always empty; only useful for
		// exercising the CLI itself.
		return ledgermemory.New(), func() {}, nil
	case "redis":
		table, err := ledgerredis.Open(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return table, func() { _ = table.Close() }, nil
	case "sheets":
		table, err := ledgersheets.Open(ctx, cfg.Sheets)
		if err != nil {
			return nil, nil, err
		}
		return table, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend: %q", cfg.Ledger.Backend)
	}
}
