package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/go-go-golems/ruminate/pkg/reasoning"
)

const defaultLimit = 50

type SQLiteRunStore struct {
	db *sql.DB
}

var _ RunStore = &SQLiteRunStore{}

func NewSQLiteRunStore(dsn string) (*SQLiteRunStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite run store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	s := &SQLiteRunStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DSNForFile returns a WAL-mode sqlite DSN for path.
func DSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite run store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func (s *SQLiteRunStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteRunStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			requester_id TEXT NOT NULL,
			status TEXT NOT NULL,
			total_steps INTEGER NOT NULL,
			steps_done INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at_ms INTEGER NOT NULL,
			finished_at_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS runs_by_requester ON runs(requester_id, started_at_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS runs_by_started ON runs(started_at_ms DESC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite run store: migrate")
		}
	}
	return nil
}

func (s *SQLiteRunStore) RunStarted(ctx context.Context, rec reasoning.RunRecord) error {
	if rec.RunID == "" {
		return errors.New("sqlite run store: empty run id")
	}
	status := rec.Status
	if status == "" {
		status = reasoning.RunStatusRunning
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs(run_id, requester_id, status, total_steps, started_at_ms)
		VALUES(?,?,?,?,?)
		ON CONFLICT(run_id) DO UPDATE SET status=excluded.status`,
		rec.RunID, rec.RequesterID, string(status), rec.TotalSteps, toMs(rec.StartedAt))
	return errors.Wrap(err, "insert run")
}

func (s *SQLiteRunStore) RunFinished(ctx context.Context, rec reasoning.RunRecord) error {
	if rec.RunID == "" {
		return errors.New("sqlite run store: empty run id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs(run_id, requester_id, status, total_steps, steps_done, error, started_at_ms, finished_at_ms)
		VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT(run_id) DO UPDATE SET
			status=excluded.status,
			steps_done=excluded.steps_done,
			error=excluded.error,
			finished_at_ms=excluded.finished_at_ms`,
		rec.RunID, rec.RequesterID, string(rec.Status), rec.TotalSteps, rec.StepsDone,
		rec.Error, toMs(rec.StartedAt), toMs(rec.FinishedAt))
	return errors.Wrap(err, "update run")
}

func (s *SQLiteRunStore) List(ctx context.Context, limit int) ([]reasoning.RunRecord, error) {
	return s.Query(ctx, RunQuery{Limit: limit})
}

func (s *SQLiteRunStore) Query(ctx context.Context, q RunQuery) ([]reasoning.RunRecord, error) {
	var where []string
	var args []any
	if q.RequesterID != "" {
		where = append(where, "requester_id = ?")
		args = append(args, q.RequesterID)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	query := `SELECT run_id, requester_id, status, total_steps, steps_done, error, started_at_ms, finished_at_ms FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at_ms DESC, run_id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer func() { _ = rows.Close() }()

	var out []reasoning.RunRecord
	for rows.Next() {
		var (
			rec                 reasoning.RunRecord
			status              string
			startedMs, finished int64
		)
		if err := rows.Scan(&rec.RunID, &rec.RequesterID, &status, &rec.TotalSteps, &rec.StepsDone, &rec.Error, &startedMs, &finished); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		rec.Status = reasoning.RunStatus(status)
		rec.StartedAt = fromMs(startedMs)
		rec.FinishedAt = fromMs(finished)
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "iterate runs")
}

func toMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
