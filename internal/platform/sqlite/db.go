// Package sqlite opens SQLite databases and runs units of work on them.
package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Config holds SQLite connection configuration.
type Config struct {
	Path string `env:"PATH" envDefault:"order-history.db"`
}

// DSN returns the driver connection string with the pragmas every store uses.
func (c Config) DSN() string {
	return filepath.Clean(c.Path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
}

// Open opens and pings the database. The pool holds a single connection so
// writers queue in the process instead of failing with SQLITE_BUSY.
// The caller is responsible for closing the handle.
func Open(cfg Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return db, nil
}
