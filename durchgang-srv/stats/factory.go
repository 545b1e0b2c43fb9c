package stats

import (
	"fmt"
	"time"

	"github.com/codefionn/durchgang/durchgang-srv/config"
)

// NewCollector builds the statistics collector selected by configuration.
func NewCollector(cfg config.StatisticsConfig) (Collector, error) {
	if !cfg.Enabled {
		return NewDummyCollector(), nil
	}

	flushInterval := time.Duration(cfg.FlushInterval) * time.Second

	switch cfg.Backend {
	case "sqlite", "":
		path := cfg.SQLitePath
		if path == "" {
			path = "durchgang_stats.db"
		}
		return NewSQLiteCollector(path, flushInterval)
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres-dsn is required for the postgres backend")
		}
		return NewPostgreSQLCollector(cfg.PostgresDSN, flushInterval)
	case "dummy":
		return NewDummyCollector(), nil
	default:
		return nil, fmt.Errorf("unsupported statistics backend: %s", cfg.Backend)
	}
}
