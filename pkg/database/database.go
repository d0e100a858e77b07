// Package database opens the shared SQL handle: SQLite under the data
// directory in lite mode, Postgres when a database URL is configured.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver names the backing engine.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// LiteFile is the SQLite file name inside the data directory.
const LiteFile = "treasury.db"

// Initializer is anything owning a schema: custody store, outcome
// ledger, proposal reader.
type Initializer interface {
	Init(ctx context.Context) error
}

// Handle is an open database.
type Handle struct {
	DB     *sql.DB
	Driver Driver
	// Path is the SQLite file in lite mode.
	Path string
}

// Open connects to Postgres when databaseURL is set and otherwise creates
// dataDir and opens SQLite inside it. The connection is pinged before
// returning.
func Open(ctx context.Context, databaseURL, dataDir string, logger *slog.Logger) (*Handle, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if databaseURL != "" {
		db, err := sql.Open(string(DriverPostgres), databaseURL)
		if err != nil {
			return nil, fmt.Errorf("database: open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("database: ping postgres: %w", err)
		}
		logger.Info("database connected", "driver", DriverPostgres)
		return &Handle{DB: db, Driver: DriverPostgres}, nil
	}

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("database: create data dir: %w", err)
	}
	path := filepath.Join(dataDir, LiteFile)
	db, err := sql.Open(string(DriverSQLite), path)
	if err != nil {
		return nil, fmt.Errorf("database: open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY between
	// the ledger tracker and the coordinator.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database: ping sqlite: %w", err)
	}
	logger.Info("database lite mode", "driver", DriverSQLite, "path", path)
	return &Handle{DB: db, Driver: DriverSQLite, Path: path}, nil
}

// Init creates every schema in order and stops at the first failure.
func Init(ctx context.Context, stores ...Initializer) error {
	for i, s := range stores {
		if err := s.Init(ctx); err != nil {
			return fmt.Errorf("database: init schema %d (%T): %w", i, s, err)
		}
	}
	return nil
}

// Close closes the underlying handle.
func (h *Handle) Close() error {
	return h.DB.Close()
}
