package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"walkersim.dev/internal/persistence/indexdb"
)

// openIndex opens the optional checkpoint/transition index. A nil index
// with a nil error means indexing is disabled.
func openIndex(ctx context.Context, backend, dsn, dataDir string, log *zap.Logger) (*indexdb.Index, error) {
	backend = strings.ToLower(strings.TrimSpace(backend))
	if backend == "" {
		backend = strings.ToLower(strings.TrimSpace(os.Getenv("WALKERSIM_INDEX_BACKEND")))
	}
	if backend == "" {
		backend = "sqlite"
	}
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("WALKERSIM_INDEX_DSN"))
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		if dsn == "" {
			dsn = filepath.Join(dataDir, "index", "walkersim.sqlite")
		}
		return indexdb.OpenSQLite(ctx, dsn, log)
	case "postgres", "pgx":
		if dsn == "" {
			return nil, fmt.Errorf("index backend postgres needs -index_dsn or WALKERSIM_INDEX_DSN")
		}
		return indexdb.OpenPostgres(ctx, dsn, log)
	default:
		return nil, fmt.Errorf("unsupported index backend: %s", backend)
	}
}
