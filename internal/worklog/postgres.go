package worklog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the journal in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initWorklogSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initWorklogSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS work_log (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_work_log_task_created ON work_log (task_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_work_log_device_created ON work_log (device_id, created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init worklog schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO work_log (id, task_id, device_id, user_id, kind, text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.TaskID, entry.DeviceID, entry.UserID, string(entry.Kind), entry.Text, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append worklog entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByTask(ctx context.Context, taskID string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, device_id, user_id, kind, text, created_at
		 FROM work_log WHERE task_id=$1 ORDER BY created_at`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query worklog by task: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows.Next, rows.Scan, rows.Err)
}

func (s *PostgresStore) ListByDevice(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, device_id, user_id, kind, text, created_at
		 FROM work_log WHERE device_id=$1 ORDER BY created_at DESC LIMIT $2`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query worklog by device: %w", err)
	}
	defer rows.Close()

	items, err := scanEntries(rows.Next, rows.Scan, rows.Err)
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func scanEntries(next func() bool, scan func(...any) error, rowsErr func() error) ([]Entry, error) {
	var items []Entry
	for next() {
		var e Entry
		var kind string
		if err := scan(&e.ID, &e.TaskID, &e.DeviceID, &e.UserID, &kind, &e.Text, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan worklog row: %w", err)
		}
		e.Kind = Kind(kind)
		items = append(items, e)
	}
	if err := rowsErr(); err != nil {
		return nil, fmt.Errorf("iterate worklog rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
