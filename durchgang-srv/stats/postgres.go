package stats

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// NewPostgreSQLCollector connects to a PostgreSQL statistics database.
func NewPostgreSQLCollector(dsn string, flushInterval time.Duration) (Collector, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	collector, err := newSQLCollector(db, postgresQueries, "postgres", postgresSchema, flushInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres statistics: %w", err)
	}
	return collector, nil
}
