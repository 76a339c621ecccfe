package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

const taskColumns = `id, owner_id, task_description, fire_at, created_at, is_sent, sent_at`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migrationsSQL)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Insert(ctx context.Context, ownerID, description string, fireAt time.Time) (reminder.Task, error) {
	if s == nil || s.db == nil {
		return reminder.Task{}, ErrClosed
	}
	created := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(owner_id, task_description, fire_at, fire_at_ns, created_at, is_sent)
		 VALUES(?,?,?,?,?,0)`,
		ownerID, description, formatTime(fireAt), fireAt.UnixNano(), formatTime(created),
	)
	if err != nil {
		return reminder.Task{}, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return reminder.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return reminder.Task{
		ID:              id,
		OwnerID:         ownerID,
		TaskDescription: description,
		FireAt:          fireAt,
		CreatedAt:       created,
	}, nil
}

func (s *sqliteStore) Due(ctx context.Context, now time.Time) ([]reminder.Task, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE is_sent = 0 AND fire_at_ns <= ?
		 ORDER BY fire_at_ns, id`,
		now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("due scan: %w", err)
	}
	return scanTasks(rows)
}

// MarkSent flips is_sent once. It reports whether the task exists; a task
// already marked keeps its original sent_at.
func (s *sqliteStore) MarkSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET is_sent = 1, sent_at = ? WHERE id = ? AND is_sent = 0`,
		formatTime(at), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mark sent: %w", err)
	}
	return true, nil
}

func (s *sqliteStore) ForOwner(ctx context.Context, ownerID string, includeSent bool) ([]reminder.Task, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE owner_id = ?`
	if !includeSent {
		q += ` AND is_sent = 0`
	}
	q += ` ORDER BY fire_at_ns, id`
	rows, err := s.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return scanTasks(rows)
}

func (s *sqliteStore) CountPending(ctx context.Context, ownerID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE owner_id = ? AND is_sent = 0`, ownerID,
	).Scan(&n)
	return n, err
}

func scanTasks(rows *sql.Rows) ([]reminder.Task, error) {
	defer rows.Close()
	var out []reminder.Task
	for rows.Next() {
		var (
			t               reminder.Task
			fireAt, created string
			sent            int
			sentAt          sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.TaskDescription, &fireAt, &created, &sent, &sentAt); err != nil {
			return nil, err
		}
		var err error
		if t.FireAt, err = parseTime(fireAt); err != nil {
			return nil, fmt.Errorf("task %d fire_at: %w", t.ID, err)
		}
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("task %d created_at: %w", t.ID, err)
		}
		t.IsSent = sent != 0
		if sentAt.Valid {
			at, err := parseTime(sentAt.String)
			if err != nil {
				return nil, fmt.Errorf("task %d sent_at: %w", t.ID, err)
			}
			t.SentAt = &at
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Times keep their UTC offset so a round trip returns the instant and the
// zone it was written with.
func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }
