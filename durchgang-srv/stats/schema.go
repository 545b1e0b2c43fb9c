package stats

// Schema statements per backend. IDs for connections are assigned by the
// collector, not the database, so recording can return without a round trip.

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS connections (
	id INTEGER PRIMARY KEY,
	client_ip TEXT NOT NULL,
	target TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMP NOT NULL,
	ended_at TIMESTAMP,
	bytes_sent INTEGER NOT NULL DEFAULT 0,
	bytes_received INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	close_reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_connections_started_at ON connections(started_at);

CREATE TABLE IF NOT EXISTS security_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	client_ip TEXT NOT NULL,
	event_type TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS errors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	error_type TEXT NOT NULL,
	message TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_errors_type ON errors(error_type);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS connections (
	id BIGINT PRIMARY KEY,
	client_ip TEXT NOT NULL,
	target TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ,
	bytes_sent BIGINT NOT NULL DEFAULT 0,
	bytes_received BIGINT NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	close_reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_connections_started_at ON connections(started_at);

CREATE TABLE IF NOT EXISTS security_events (
	id BIGSERIAL PRIMARY KEY,
	client_ip TEXT NOT NULL,
	event_type TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS errors (
	id BIGSERIAL PRIMARY KEY,
	error_type TEXT NOT NULL,
	message TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_errors_type ON errors(error_type);
`

// sqlQueries holds the per-dialect statement set used by the SQL collector.
type sqlQueries struct {
	insertConnection string
	updateRequest    string
	updateEnd        string
	insertSecurity   string
	insertError      string
	selectOverview   string
	selectRecent     string
	selectErrors     string
}

var sqliteQueries = sqlQueries{
	insertConnection: `INSERT INTO connections (id, client_ip, started_at) VALUES (?, ?, ?)`,
	updateRequest:    `UPDATE connections SET target = ?, kind = ? WHERE id = ?`,
	updateEnd: `UPDATE connections SET ended_at = ?, bytes_sent = ?, bytes_received = ?,
		duration_ms = ?, close_reason = ? WHERE id = ?`,
	insertSecurity: `INSERT INTO security_events (client_ip, event_type, created_at) VALUES (?, ?, ?)`,
	insertError:    `INSERT INTO errors (error_type, message, created_at) VALUES (?, ?, ?)`,
	selectOverview: `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN kind = 'connect' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN kind = 'forward' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(bytes_sent), 0),
		COALESCE(SUM(bytes_received), 0)
		FROM connections`,
	selectRecent: `SELECT id, client_ip, target, kind, started_at, ended_at,
		bytes_sent, bytes_received, close_reason
		FROM connections ORDER BY started_at DESC LIMIT ?`,
	selectErrors: `SELECT error_type, COUNT(*), MAX(message), MAX(created_at)
		FROM errors GROUP BY error_type ORDER BY MAX(created_at) DESC LIMIT ?`,
}

var postgresQueries = sqlQueries{
	insertConnection: `INSERT INTO connections (id, client_ip, started_at) VALUES ($1, $2, $3)`,
	updateRequest:    `UPDATE connections SET target = $1, kind = $2 WHERE id = $3`,
	updateEnd: `UPDATE connections SET ended_at = $1, bytes_sent = $2, bytes_received = $3,
		duration_ms = $4, close_reason = $5 WHERE id = $6`,
	insertSecurity: `INSERT INTO security_events (client_ip, event_type, created_at) VALUES ($1, $2, $3)`,
	insertError:    `INSERT INTO errors (error_type, message, created_at) VALUES ($1, $2, $3)`,
	selectOverview: `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN kind = 'connect' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN kind = 'forward' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(bytes_sent), 0),
		COALESCE(SUM(bytes_received), 0)
		FROM connections`,
	selectRecent: `SELECT id, client_ip, target, kind, started_at, ended_at,
		bytes_sent, bytes_received, close_reason
		FROM connections ORDER BY started_at DESC LIMIT $1`,
	selectErrors: `SELECT error_type, COUNT(*), MAX(message), MAX(created_at)
		FROM errors GROUP BY error_type ORDER BY MAX(created_at) DESC LIMIT $1`,
}
