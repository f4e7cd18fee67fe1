package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// RunOrigin identifies what triggered a CLI execution.
type RunOrigin string

const (
	RunOriginMessage   RunOrigin = "message"
	RunOriginHeartbeat RunOrigin = "heartbeat"
	RunOriginCron      RunOrigin = "cron"
	RunOriginWebhook   RunOrigin = "webhook"
)

// RunRecord is one row of the run-history log.
type RunRecord struct {
	ID         string
	Origin     RunOrigin
	ChatID     int64
	Provider   string
	Model      string
	Status     string
	CostUSD    float64
	Tokens     int
	DurationMs int64
	StartedAt  time.Time
}

// RunLog records every CLI execution in a local sqlite database. It is
// best-effort telemetry: callers log and continue on error.
type RunLog struct {
	db *sql.DB
}

const runLogSchema = `
CREATE TABLE IF NOT EXISTS run_log (
	id TEXT PRIMARY KEY,
	origin TEXT NOT NULL,
	chat_id INTEGER NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	status TEXT NOT NULL,
	cost_usd REAL NOT NULL,
	tokens INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	started_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_log_started_at ON run_log (started_at);
`

// OpenRunLog opens (and migrates) the run log at the given path.
func OpenRunLog(path string) (*RunLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open run log %s", path)
	}
	if _, err := db.Exec(runLogSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate run log schema")
	}
	return &RunLog{db: db}, nil
}

// Record inserts one run record. The id is generated when empty.
func (l *RunLog) Record(ctx context.Context, rec *RunRecord) error {
	if rec.ID == "" {
		rec.ID = shortuuid.New()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO run_log
		(id, origin, chat_id, provider, model, status, cost_usd, tokens, duration_ms, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, string(rec.Origin), rec.ChatID, rec.Provider, rec.Model,
		rec.Status, rec.CostUSD, rec.Tokens, rec.DurationMs, rec.StartedAt.Unix(),
	)
	return errors.Wrap(err, "failed to insert run record")
}

// Recent returns the most recent records, newest first.
func (l *RunLog) Recent(ctx context.Context, limit int) ([]*RunRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, origin, chat_id, provider, model, status, cost_usd, tokens, duration_ms, started_at
		FROM run_log ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query run records")
	}
	defer rows.Close()

	var out []*RunRecord
	for rows.Next() {
		rec := &RunRecord{}
		var origin string
		var startedAt int64
		if err := rows.Scan(&rec.ID, &origin, &rec.ChatID, &rec.Provider, &rec.Model,
			&rec.Status, &rec.CostUSD, &rec.Tokens, &rec.DurationMs, &startedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan run record")
		}
		rec.Origin = RunOrigin(origin)
		rec.StartedAt = time.Unix(startedAt, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (l *RunLog) Close() error {
	return l.db.Close()
}
