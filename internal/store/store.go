// Package store is the durable, append-only event log and the user-account
// repository, backed by a single SQLite database. Writes are serialized
// through one logical writer; reads may proceed concurrently with other
// reads. All access goes through the long-lived Store handle.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint is violated.
	ErrConflict = errors.New("conflict")
	// ErrWriteFailed wraps storage write failures; callers surface it to
	// clients as a queued-for-retry condition rather than dropping data.
	ErrWriteFailed = errors.New("storage write failed")
)

// Direction of a persisted event relative to the server.
const (
	DirectionInbound  = "INBOUND"
	DirectionOutbound = "OUTBOUND"
)

// EventRecord is one row of the event log.
type EventRecord struct {
	ID        int64           `json:"id"`
	TraceID   string          `json:"trace_id"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Direction string          `json:"direction"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Meta      json.RawMessage `json:"meta,omitempty"`
	AgentID   string          `json:"agent_id,omitempty"`
	CreatedAt float64         `json:"created_at"`
}

// Filter narrows a history query. Zero-value fields are not applied;
// filters are conjunctive.
type Filter struct {
	TraceID string
	AgentID string
	Type    string
	Limit   int
}

// DefaultHistoryLimit applies when Filter.Limit is zero or negative.
const DefaultHistoryLimit = 100

// AgentStatus summarizes one agent's recent ping activity.
type AgentStatus struct {
	AgentID   string  `json:"agent_id"`
	LastPing  float64 `json:"last_ping"`
	Status    string  `json:"status"` // ONLINE or OFFLINE
	PingCount int64   `json:"ping_count"`
}

// Stats reports aggregate event-log metrics.
type Stats struct {
	TotalEvents  int64            `json:"total_events"`
	UniqueTraces int64            `json:"unique_traces"`
	EventTypes   map[string]int64 `json:"event_types"`
	Path         string           `json:"db_path"`
}

// Store is the single long-lived handle to the backing database.
type Store struct {
	db   *sql.DB
	path string

	// writeMu serializes all writers; each write runs in its own
	// transaction and never holds the lock longer than that operation.
	writeMu sync.Mutex

	log zerolog.Logger
}

// Open opens (or creates) the database at path, enables WAL mode and
// applies the embedded schema. ":memory:" opens a shared in-memory
// database, used by tests and the CLI dry-run path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	var dsn string
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// A second connection to :memory: would see a different database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, path: path, log: log.With().Str("component", "store").Logger()}
	if err := s.applySchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) applySchema() error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database connection is alive.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the configured database location.
func (s *Store) Path() string { return s.path }

// AppendEvent persists one event record and returns its id. Inbound
// records are idempotent on the (trace_id, type, payload) triple: a
// duplicate returns the existing id with duplicate=true and writes
// nothing. The check and insert run in one exclusive transaction.
func (s *Store) AppendEvent(ctx context.Context, rec EventRecord) (id int64, duplicate bool, err error) {
	if rec.AgentID == "" {
		rec.AgentID = extractAgentID(rec.Payload)
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = nowUnix()
	}
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	if rec.Direction == DirectionInbound {
		var existing int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM events
			 WHERE trace_id = ? AND type = ? AND direction = ?
			   AND COALESCE(payload, '') = COALESCE(?, '')
			 LIMIT 1`,
			rec.TraceID, rec.Type, DirectionInbound, nullableJSON(rec.Payload),
		).Scan(&existing)
		switch {
		case err == nil:
			return existing, true, nil
		case !errors.Is(err, sql.ErrNoRows):
			return 0, false, fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (trace_id, type, timestamp, direction, payload, meta, agent_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID, rec.Type, rec.Timestamp, rec.Direction,
		nullableJSON(rec.Payload), nullableJSON(rec.Meta), nullableString(rec.AgentID), rec.CreatedAt,
	)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	s.log.Debug().
		Str("direction", rec.Direction).
		Str("type", rec.Type).
		Str("trace_id", rec.TraceID).
		Int64("id", id).
		Msg("event persisted")
	return id, false, nil
}

// History returns event records matching the filter, newest first.
func (s *Store) History(ctx context.Context, f Filter) ([]EventRecord, error) {
	query := `SELECT id, trace_id, type, timestamp, direction, payload, meta, agent_id, created_at
	          FROM events WHERE 1=1`
	var args []any

	if f.TraceID != "" {
		query += " AND trace_id = ?"
		args = append(args, f.TraceID)
	}
	if f.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, f.AgentID)
	}
	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, f.Type)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []EventRecord
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ResponseFor returns the earliest OUTBOUND record of respType on the trace
// written after the inbound row inboundID. It pairs a duplicate inbound with
// the response to its own original, not to a later request of the same type.
// Returns ErrNotFound when no such response exists.
func (s *Store) ResponseFor(ctx context.Context, traceID, respType string, inboundID int64) (EventRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, trace_id, type, timestamp, direction, payload, meta, agent_id, created_at
		 FROM events
		 WHERE trace_id = ? AND type = ? AND direction = ? AND id > ?
		 ORDER BY id ASC LIMIT 1`,
		traceID, respType, DirectionOutbound, inboundID,
	)
	rec, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return EventRecord{}, ErrNotFound
	}
	return rec, err
}

// RecentAgents lists agents that have pinged, with ONLINE status for those
// whose latest ping falls within the window.
func (s *Store) RecentAgents(ctx context.Context, window time.Duration) ([]AgentStatus, error) {
	cutoff := nowUnix() - window.Seconds()

	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, MAX(created_at) AS last_ping, COUNT(*) AS ping_count
		 FROM events
		 WHERE type = 'system_ping' AND agent_id IS NOT NULL
		 GROUP BY agent_id`,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []AgentStatus
	for rows.Next() {
		var a AgentStatus
		if err := rows.Scan(&a.AgentID, &a.LastPing, &a.PingCount); err != nil {
			return nil, err
		}
		a.Status = "OFFLINE"
		if a.LastPing >= cutoff {
			a.Status = "ONLINE"
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetStats returns aggregate metrics over the event log.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	st := &Stats{EventTypes: map[string]int64{}, Path: s.path}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&st.TotalEvents); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT trace_id) FROM events`).Scan(&st.UniqueTraces); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM events GROUP BY type ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		st.EventTypes[typ] = n
	}
	return st, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (EventRecord, error) {
	var rec EventRecord
	var payload, meta, agentID sql.NullString
	if err := r.Scan(&rec.ID, &rec.TraceID, &rec.Type, &rec.Timestamp, &rec.Direction,
		&payload, &meta, &agentID, &rec.CreatedAt); err != nil {
		return EventRecord{}, err
	}
	if payload.Valid {
		rec.Payload = json.RawMessage(payload.String)
	}
	if meta.Valid {
		rec.Meta = json.RawMessage(meta.String)
	}
	rec.AgentID = agentID.String
	return rec, nil
}

// extractAgentID pulls the agent identifier out of a payload object so it
// can be indexed as a column.
func extractAgentID(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var v struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return ""
	}
	return v.AgentID
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
