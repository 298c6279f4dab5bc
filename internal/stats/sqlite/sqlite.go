// Package sqlite persists request outcome events to a local SQLite database.
// It is the durable Stats Sink implementation; callers treat logging as
// fire-and-forget and must not fail a request when this store errors.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"promptd/internal/stats"
	"promptd/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS request_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	fingerprint   TEXT    NOT NULL,
	request_id    TEXT,
	success       INTEGER NOT NULL,
	elapsed_ms    INTEGER NOT NULL,
	tokens_used   INTEGER NOT NULL,
	source        TEXT    NOT NULL,
	priority      TEXT    NOT NULL,
	user_id       TEXT,
	error_message TEXT,
	model         TEXT,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_request_log_created ON request_log(created_at);
CREATE INDEX IF NOT EXISTS idx_request_log_source  ON request_log(source);
`

// Store is a Sink backed by SQLite in WAL mode with a single writer.
type Store struct {
	db *sql.DB
	// Rows older than this are removed by Cleanup.
	retention time.Duration
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db, retention: 30 * 24 * time.Hour}, nil
}

// Log inserts one outcome row.
func (s *Store) Log(ctx context.Context, ev stats.Event) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_log
			(fingerprint, request_id, success, elapsed_ms, tokens_used, source, priority, user_id, error_message, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Fingerprint, ev.RequestID, boolToInt(ev.Success), ev.Elapsed.Milliseconds(), ev.TokensUsed,
		ev.Source, string(ev.Priority), ev.UserID, ev.ErrorMessage, ev.Model, ts.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}
	return nil
}

// Aggregates computes the all-time summary used by GET /ai/stats.
func (s *Store) Aggregates(ctx context.Context) (stats.Aggregates, error) {
	var agg stats.Aggregates
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(success), 0),
		       COALESCE(SUM(tokens_used), 0),
		       COALESCE(AVG(elapsed_ms), 0)
		FROM request_log`)
	var avgMS float64
	if err := row.Scan(&agg.TotalRequests, &agg.Successful, &agg.TotalTokensUsed, &avgMS); err != nil {
		return agg, fmt.Errorf("aggregate request log: %w", err)
	}
	agg.Failed = agg.TotalRequests - agg.Successful
	agg.AvgResponseTime = avgMS / 1000.0
	agg.RecordsStored = agg.TotalRequests

	agg.BySource = make(map[string]uint64)
	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM request_log GROUP BY source`)
	if err != nil {
		return agg, fmt.Errorf("aggregate sources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var n uint64
		if err := rows.Scan(&source, &n); err != nil {
			return agg, err
		}
		agg.BySource[source] = n
	}
	return agg, rows.Err()
}

// Recent returns the latest events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]stats.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, COALESCE(request_id, ''), success, elapsed_ms, tokens_used, source, priority,
		       COALESCE(user_id, ''), COALESCE(error_message, ''), COALESCE(model, ''), created_at
		FROM request_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []stats.Event
	for rows.Next() {
		var ev stats.Event
		var success, elapsedMS int64
		var priority string
		var createdAt int64
		if err := rows.Scan(&ev.Fingerprint, &ev.RequestID, &success, &elapsedMS, &ev.TokensUsed, &ev.Source,
			&priority, &ev.UserID, &ev.ErrorMessage, &ev.Model, &createdAt); err != nil {
			return nil, err
		}
		ev.Success = success != 0
		ev.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		ev.Priority = types.Priority(priority)
		ev.Timestamp = time.Unix(createdAt, 0)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Analytics returns per-day aggregates for the last days calendar days (UTC),
// newest first. Days without traffic produce no row.
func (s *Store) Analytics(ctx context.Context, days int) ([]stats.DailyUsage, error) {
	if days <= 0 || days > 90 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days).Unix()
	rows, err := s.db.QueryContext(ctx, `
		SELECT date(created_at, 'unixepoch'),
		       COUNT(*),
		       COALESCE(SUM(success), 0),
		       COALESCE(SUM(tokens_used), 0),
		       COALESCE(AVG(elapsed_ms), 0)
		FROM request_log
		WHERE created_at >= ?
		GROUP BY date(created_at, 'unixepoch')
		ORDER BY date(created_at, 'unixepoch') DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("query analytics: %w", err)
	}
	defer rows.Close()

	var out []stats.DailyUsage
	for rows.Next() {
		var day stats.DailyUsage
		var avgMS float64
		if err := rows.Scan(&day.Date, &day.TotalRequests, &day.Successful, &day.TokensUsed, &avgMS); err != nil {
			return nil, err
		}
		day.Failed = day.TotalRequests - day.Successful
		day.AvgResponseTime = avgMS / 1000.0
		out = append(out, day)
	}
	return out, rows.Err()
}

// Cleanup removes rows older than the retention window and reports how many
// were deleted.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.retention).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM request_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup request log: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
