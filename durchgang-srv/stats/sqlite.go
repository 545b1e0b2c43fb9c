package stats

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteCollector opens (or creates) a SQLite statistics database at path.
func NewSQLiteCollector(path string, flushInterval time.Duration) (Collector, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	// SQLite tolerates a single writer; the collector has exactly one.
	db.SetMaxOpenConns(1)

	collector, err := newSQLCollector(db, sqliteQueries, "sqlite", sqliteSchema, flushInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sqlite statistics: %w", err)
	}
	return collector, nil
}
