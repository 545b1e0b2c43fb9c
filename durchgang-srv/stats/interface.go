package stats

import (
	"context"
	"time"
)

// Collector records proxy traffic events. Recording methods are
// fire-and-forget so the connection path never blocks on storage; query
// methods back the dashboard.
type Collector interface {
	// StartConnection registers an accepted client connection and returns
	// its tracking ID.
	StartConnection(clientIP string) int64
	// RecordRequest attaches the parsed target to a connection. Kind is
	// "connect" for tunnels and "forward" for absolute-URI requests.
	RecordRequest(connectionID int64, target, kind string)
	// EndConnection finalizes a connection record.
	EndConnection(connectionID, bytesSent, bytesReceived int64, duration time.Duration, closeReason string)

	// Security events.
	RecordBlocked(clientIP string)
	RecordAuthFailure(clientIP string)

	// RecordError notes a failure outside normal connection teardown.
	RecordError(errorType, message string)

	// Dashboard queries.
	Overview(ctx context.Context) (*Overview, error)
	RecentConnections(ctx context.Context, limit int) ([]ConnectionEvent, error)
	RecentErrors(ctx context.Context, limit int) ([]ErrorSummary, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// Overview provides high-level statistics for the dashboard.
type Overview struct {
	TotalConnections   int64  `json:"total_connections"`
	ActiveConnections  int64  `json:"active_connections"`
	TunnelRequests     int64  `json:"tunnel_requests"`
	ForwardRequests    int64  `json:"forward_requests"`
	BlockedConnections int64  `json:"blocked_connections"`
	AuthFailures       int64  `json:"auth_failures"`
	TotalErrors        int64  `json:"total_errors"`
	BytesSent          int64  `json:"bytes_sent"`
	BytesReceived      int64  `json:"bytes_received"`
	Uptime             string `json:"uptime"`
}

// ConnectionEvent is one finished or in-flight connection.
type ConnectionEvent struct {
	ID            int64      `json:"id"`
	ClientIP      string     `json:"client_ip"`
	Target        string     `json:"target"`
	Kind          string     `json:"kind"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	BytesSent     int64      `json:"bytes_sent"`
	BytesReceived int64      `json:"bytes_received"`
	CloseReason   string     `json:"close_reason,omitempty"`
}

// ErrorSummary aggregates errors by type.
type ErrorSummary struct {
	ErrorType    string    `json:"error_type"`
	Count        int64     `json:"count"`
	LastMessage  string    `json:"last_message"`
	LastOccurred time.Time `json:"last_occurred"`
}
