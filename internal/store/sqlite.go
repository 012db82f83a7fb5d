package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/stoker/internal/model"

	_ "modernc.org/sqlite"
)

const createTasksTable = `
CREATE TABLE IF NOT EXISTS keepalive_tasks (
    key             TEXT PRIMARY KEY,
    account_name    TEXT NOT NULL,
    cs_name         TEXT NOT NULL,
    start_time      DATETIME NOT NULL,
    keepalive_hours REAL NOT NULL,
    last_used_at    DATETIME,
    next_check_time DATETIME,
    created_by      TEXT,
    created_at      DATETIME NOT NULL
)`

const createAccountsTable = `
CREATE TABLE IF NOT EXISTS accounts (
    name  TEXT PRIMARY KEY,
    token TEXT NOT NULL
)`

// Compile-time interface satisfaction checks.
var (
	_ TaskStore    = (*SQLiteStore)(nil)
	_ AccountStore = (*SQLiteStore)(nil)
)

// SQLiteStore implements TaskStore and AccountStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createTasksTable, createAccountsTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migration: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadTasks returns all persisted tasks that are still within their keepalive
// window.
func (s *SQLiteStore) LoadTasks(ctx context.Context) (map[string]*model.KeepaliveTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, account_name, cs_name, start_time, keepalive_hours,
			last_used_at, next_check_time, created_by, created_at
		FROM keepalive_tasks`,
	)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	tasks := make(map[string]*model.KeepaliveTask)
	for rows.Next() {
		var key string
		t := &model.KeepaliveTask{}
		if err := rows.Scan(
			&key, &t.AccountName, &t.CodespaceName, &t.StartTime, &t.KeepaliveHours,
			&t.LastUsedAt, &t.NextCheckAt, &t.CreatedBy, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks[key] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return filterExpired(tasks, time.Now()), nil
}

// SaveTasks replaces the persisted task set with the given one.
func (s *SQLiteStore) SaveTasks(ctx context.Context, tasks map[string]*model.KeepaliveTask) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM keepalive_tasks"); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}
	for key, t := range tasks {
		if err := insertTask(ctx, tx, key, t); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tasks: %w", err)
	}
	return nil
}

// PutTask upserts a single task under its key.
func (s *SQLiteStore) PutTask(ctx context.Context, task *model.KeepaliveTask) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO keepalive_tasks (
			key, account_name, cs_name, start_time, keepalive_hours,
			last_used_at, next_check_time, created_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.Key(), task.AccountName, task.CodespaceName, task.StartTime, task.KeepaliveHours,
		task.LastUsedAt, task.NextCheckAt, task.CreatedBy, task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("put task: %w", err)
	}
	return nil
}

// DeleteTask removes the task under key. Missing keys are a no-op.
func (s *SQLiteStore) DeleteTask(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM keepalive_tasks WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// LoadAccounts returns all persisted accounts.
func (s *SQLiteStore) LoadAccounts(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, token FROM accounts")
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	defer rows.Close()

	accounts := make(map[string]string)
	for rows.Next() {
		var name, token string
		if err := rows.Scan(&name, &token); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts[name] = token
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

// SaveAccounts replaces the persisted account set with the given one.
func (s *SQLiteStore) SaveAccounts(ctx context.Context, accounts map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM accounts"); err != nil {
		return fmt.Errorf("clear accounts: %w", err)
	}
	for name, token := range accounts {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO accounts (name, token) VALUES (?, ?)", name, token); err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit accounts: %w", err)
	}
	return nil
}

func insertTask(ctx context.Context, tx *sql.Tx, key string, t *model.KeepaliveTask) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO keepalive_tasks (
			key, account_name, cs_name, start_time, keepalive_hours,
			last_used_at, next_check_time, created_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key, t.AccountName, t.CodespaceName, t.StartTime, t.KeepaliveHours,
		t.LastUsedAt, t.NextCheckAt, t.CreatedBy, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask fetches one task by key, mainly for tests and diagnostics.
func (s *SQLiteStore) GetTask(ctx context.Context, key string) (*model.KeepaliveTask, error) {
	t := &model.KeepaliveTask{}
	err := s.db.QueryRowContext(ctx,
		`SELECT account_name, cs_name, start_time, keepalive_hours,
			last_used_at, next_check_time, created_by, created_at
		FROM keepalive_tasks WHERE key = ?`, key,
	).Scan(
		&t.AccountName, &t.CodespaceName, &t.StartTime, &t.KeepaliveHours,
		&t.LastUsedAt, &t.NextCheckAt, &t.CreatedBy, &t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}
