// Package backend opens the configured storage implementation.
package backend

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/nicktill/meshstats/pkg/config"
	"github.com/nicktill/meshstats/pkg/storage"
	"github.com/nicktill/meshstats/pkg/storage/badger"
	"github.com/nicktill/meshstats/pkg/storage/memory"
	"github.com/nicktill/meshstats/pkg/storage/sqlite"
)

// SQLiteFile is the database file name under the data directory
const SQLiteFile = "metrics.db"

// BadgerDir is the badger directory under the data directory
const BadgerDir = "badger"

// Open creates the data directory if needed and opens the store selected by
// cfg.StorageBackend
func Open(cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	if cfg.StorageBackend == config.BackendMemory {
		logger.Warn("using in-memory storage, samples are lost on exit")
		return memory.New(), nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	switch cfg.StorageBackend {
	case config.BackendBadger:
		path := filepath.Join(cfg.DataDir, BadgerDir)
		store, err := badger.New(badger.Config{Path: path, MaxMemoryMB: cfg.MaxMemoryMB})
		if err != nil {
			return nil, err
		}
		logger.Info("badger storage opened", zap.String("path", path), zap.Int64("max_memory_mb", cfg.MaxMemoryMB))
		return store, nil
	case config.BackendSQLite:
		path := filepath.Join(cfg.DataDir, SQLiteFile)
		store, err := sqlite.New(path)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite storage opened", zap.String("path", path))
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", config.ErrInvalid, cfg.StorageBackend)
	}
}
