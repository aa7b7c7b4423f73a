package di

import (
	"context"
	"fmt"

	"cvadapt/internal/billing/adapters"
	"cvadapt/internal/billing/ports"
	"cvadapt/internal/config"
)

// OpenStore resolves and opens the ledger backend. It returns the backend
// name alongside the store for logging and health reporting.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (ports.LedgerStore, string, error) {
	backend, err := cfg.ResolveBackend()
	if err != nil {
		return nil, "", err
	}

	var store ports.LedgerStore
	switch backend {
	case config.BackendRedis:
		url, urlErr := cfg.RedisConnectionURL()
		if urlErr != nil {
			return nil, "", urlErr
		}
		store, err = adapters.OpenRedisLedgerStore(ctx, url)
	case config.BackendPostgres:
		store, err = adapters.OpenPostgresLedgerStore(ctx, cfg.DatabaseURL)
	case config.BackendSQLite:
		store, err = adapters.OpenSQLiteLedgerStore(cfg.StorePath(backend))
	case config.BackendFile:
		store, err = adapters.NewFileLedgerStore(cfg.StorePath(backend))
	default:
		store = adapters.NewMemoryLedgerStore()
	}
	if err != nil {
		return nil, "", fmt.Errorf("open %s store: %w", backend, err)
	}
	return store, backend, nil
}
