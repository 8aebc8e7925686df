package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"jobeconomy.ai/internal/persistence/sqlstore"
	"jobeconomy.ai/internal/persistence/store"
)

type runtimeStores struct {
	progress store.ProgressStore
	balances store.BalanceStore
	close    func() error
}

func (s runtimeStores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// openStores picks the persistence backend from JOBECON_STORE_BACKEND:
// sqlite (default), postgres, or memory.
func openStores(ctx context.Context, dataDir string, logger *log.Logger) (runtimeStores, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("JOBECON_STORE_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}
	switch backend {
	case "memory":
		logger.Printf("store backend: memory (nothing persists across restarts)")
		m := store.NewMemory()
		return runtimeStores{progress: m, balances: m}, nil
	case "sqlite":
		path := strings.TrimSpace(os.Getenv("JOBECON_SQLITE_PATH"))
		if path == "" {
			path = filepath.Join(dataDir, "economy.sqlite")
		}
		s, err := sqlstore.OpenSQLite(path)
		if err != nil {
			return runtimeStores{}, err
		}
		logger.Printf("store backend: sqlite %s", path)
		return runtimeStores{progress: s, balances: s, close: s.Close}, nil
	case "postgres":
		dsn := strings.TrimSpace(os.Getenv("JOBECON_POSTGRES_DSN"))
		if dsn == "" {
			return runtimeStores{}, fmt.Errorf("JOBECON_STORE_BACKEND=postgres but JOBECON_POSTGRES_DSN is empty")
		}
		s, err := sqlstore.OpenPostgres(ctx, dsn)
		if err != nil {
			return runtimeStores{}, err
		}
		logger.Printf("store backend: postgres")
		return runtimeStores{progress: s, balances: s, close: s.Close}, nil
	default:
		return runtimeStores{}, fmt.Errorf("unsupported JOBECON_STORE_BACKEND: %s", backend)
	}
}
