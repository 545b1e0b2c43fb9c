package stats

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/durchgang/durchgang-srv/logger"
)

// eventKind tags entries in the collector's write queue.
type eventKind int

const (
	eventConnStart eventKind = iota
	eventConnRequest
	eventConnEnd
	eventSecurity
	eventError
)

type event struct {
	kind         eventKind
	connectionID int64
	clientIP     string
	target       string
	requestKind  string
	bytesSent    int64
	bytesRecv    int64
	duration     time.Duration
	closeReason  string
	eventType    string
	message      string
	at           time.Time
}

const eventQueueSize = 1024

// sqlCollector persists events through a single writer goroutine. Recording
// never blocks the connection path: when the queue is full the event is
// dropped and counted, not waited for.
type sqlCollector struct {
	db            *sql.DB
	queries       sqlQueries
	backend       string
	startTime     time.Time
	flushInterval time.Duration

	nextID    atomic.Int64
	active    atomic.Int64
	blocked   atomic.Int64
	authFails atomic.Int64
	dropped   atomic.Int64

	events    chan event
	done      chan struct{}
	writerWG  sync.WaitGroup
	closeOnce sync.Once
}

func newSQLCollector(db *sql.DB, queries sqlQueries, backend, schema string, flushInterval time.Duration) (*sqlCollector, error) {
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	c := &sqlCollector{
		db:            db,
		queries:       queries,
		backend:       backend,
		startTime:     time.Now(),
		flushInterval: flushInterval,
		events:        make(chan event, eventQueueSize),
		done:          make(chan struct{}),
	}

	// Connection IDs continue past rows from earlier runs.
	var maxID sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(id) FROM connections`).Scan(&maxID); err == nil && maxID.Valid {
		c.nextID.Store(maxID.Int64)
	}

	c.writerWG.Add(1)
	go c.writeLoop()
	return c, nil
}

// enqueue never blocks and never panics: events arriving after Close are
// discarded, and a full queue drops the event rather than waiting.
func (c *sqlCollector) enqueue(ev event) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.events <- ev:
	case <-c.done:
	default:
		if c.dropped.Add(1)%1000 == 1 {
			logger.Warn("Statistics queue full, dropping events (%d dropped so far)", c.dropped.Load())
		}
	}
}

// writeLoop batches queued events into one transaction per flush interval.
// The final partial batch is flushed when the queue closes.
func (c *sqlCollector) writeLoop() {
	defer c.writerWG.Done()

	const maxBatch = 128
	batch := make([]event, 0, maxBatch)
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := c.writeBatch(batch); err != nil {
			logger.Error("Statistics write (%s) failed: %v", c.backend, err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-c.events:
			batch = append(batch, ev)
			if len(batch) >= maxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-c.done:
			// Drain whatever is still queued, then write the final batch.
			for {
				select {
				case ev := <-c.events:
					batch = append(batch, ev)
					if len(batch) >= maxBatch {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (c *sqlCollector) writeBatch(batch []event) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	for _, ev := range batch {
		switch ev.kind {
		case eventConnStart:
			_, err = tx.Exec(c.queries.insertConnection, ev.connectionID, ev.clientIP, ev.at)
		case eventConnRequest:
			_, err = tx.Exec(c.queries.updateRequest, ev.target, ev.requestKind, ev.connectionID)
		case eventConnEnd:
			_, err = tx.Exec(c.queries.updateEnd, ev.at, ev.bytesSent, ev.bytesRecv,
				ev.duration.Milliseconds(), ev.closeReason, ev.connectionID)
		case eventSecurity:
			_, err = tx.Exec(c.queries.insertSecurity, ev.clientIP, ev.eventType, ev.at)
		case eventError:
			_, err = tx.Exec(c.queries.insertError, ev.eventType, ev.message, ev.at)
		}
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *sqlCollector) StartConnection(clientIP string) int64 {
	id := c.nextID.Add(1)
	c.active.Add(1)
	c.enqueue(event{kind: eventConnStart, connectionID: id, clientIP: clientIP, at: time.Now()})
	return id
}

func (c *sqlCollector) RecordRequest(connectionID int64, target, kind string) {
	c.enqueue(event{kind: eventConnRequest, connectionID: connectionID, target: target, requestKind: kind})
}

func (c *sqlCollector) EndConnection(connectionID, bytesSent, bytesReceived int64, duration time.Duration, closeReason string) {
	c.active.Add(-1)
	c.enqueue(event{
		kind:         eventConnEnd,
		connectionID: connectionID,
		bytesSent:    bytesSent,
		bytesRecv:    bytesReceived,
		duration:     duration,
		closeReason:  closeReason,
		at:           time.Now(),
	})
}

func (c *sqlCollector) RecordBlocked(clientIP string) {
	c.blocked.Add(1)
	c.enqueue(event{kind: eventSecurity, clientIP: clientIP, eventType: "blocked", at: time.Now()})
}

func (c *sqlCollector) RecordAuthFailure(clientIP string) {
	c.authFails.Add(1)
	c.enqueue(event{kind: eventSecurity, clientIP: clientIP, eventType: "auth-failure", at: time.Now()})
}

func (c *sqlCollector) RecordError(errorType, message string) {
	c.enqueue(event{kind: eventError, eventType: errorType, message: message, at: time.Now()})
}

func (c *sqlCollector) Overview(ctx context.Context) (*Overview, error) {
	ov := &Overview{
		ActiveConnections:  c.active.Load(),
		BlockedConnections: c.blocked.Load(),
		AuthFailures:       c.authFails.Load(),
		Uptime:             time.Since(c.startTime).Round(time.Second).String(),
	}

	row := c.db.QueryRowContext(ctx, c.queries.selectOverview)
	if err := row.Scan(&ov.TotalConnections, &ov.TunnelRequests, &ov.ForwardRequests,
		&ov.BytesSent, &ov.BytesReceived); err != nil {
		return nil, err
	}

	row = c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM errors`)
	if err := row.Scan(&ov.TotalErrors); err != nil {
		return nil, err
	}
	return ov, nil
}

func (c *sqlCollector) RecentConnections(ctx context.Context, limit int) ([]ConnectionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.QueryContext(ctx, c.queries.selectRecent, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var events []ConnectionEvent
	for rows.Next() {
		var ev ConnectionEvent
		var endedAt sql.NullTime
		if err := rows.Scan(&ev.ID, &ev.ClientIP, &ev.Target, &ev.Kind, &ev.StartedAt,
			&endedAt, &ev.BytesSent, &ev.BytesReceived, &ev.CloseReason); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			ev.EndedAt = &endedAt.Time
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (c *sqlCollector) RecentErrors(ctx context.Context, limit int) ([]ErrorSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.QueryContext(ctx, c.queries.selectErrors, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var summaries []ErrorSummary
	for rows.Next() {
		var s ErrorSummary
		if err := rows.Scan(&s.ErrorType, &s.Count, &s.LastMessage, &s.LastOccurred); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (c *sqlCollector) HealthCheck(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close drains the write queue and closes the database. The events channel
// itself stays open so late recording calls are dropped instead of panicking.
func (c *sqlCollector) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writerWG.Wait()
		err = c.db.Close()
	})
	return err
}
