package db

import (
	"context"
	"fmt"

	"github.com/bloodlink/allocator/internal/config"
	"github.com/bloodlink/allocator/internal/ledger"
	"github.com/bloodlink/allocator/pkg/db/memory"
	"github.com/bloodlink/allocator/pkg/db/postgres"
	pgledger "github.com/bloodlink/allocator/pkg/db/postgres/ledger"
	"go.uber.org/zap"
)

// OpenLedger returns the ledger selected by cfg.LedgerDriver. Close on the
// returned store releases its connections.
func OpenLedger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ledger.Store, error) {
	switch cfg.LedgerDriver {
	case config.DriverMemory:
		logger.Warn("using in-memory ledger, data is lost on exit")
		return memory.New(), nil
	case config.DriverPostgres:
		pool, err := Connect(ctx, cfg.PostgresURL, PoolConfig{MinConns: cfg.DBMinConns, MaxConns: cfg.DBMaxConns})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		store, err := pgledger.New(ctx, postgres.NewClient(pool, logger), cfg.PostgresSchema)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("init ledger: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown ledger driver %q", cfg.LedgerDriver)
}
