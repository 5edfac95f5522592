// Package activity journals ingestion and maintenance outcomes for the logs page.
package activity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Level classifies an entry.
type Level string

// Entry levels.
const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("activity journal is closed")

// Entry is one journaled event.
type Entry struct {
	Time    time.Time
	ID      int64
	Level   Level
	Action  string
	Subject string
	Message string
}

// Journal is an append-only event log in a SQLite database.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the journal at path. ":memory:" keeps it in memory.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating activity dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening activity db: %w", err)
	}

	db.SetMaxOpenConns(1)

	j := &Journal{db: db, now: time.Now}
	if err := j.init(); err != nil {
		_ = db.Close()

		return nil, err
	}

	return j, nil
}

func (j *Journal) init() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS activity (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at INTEGER NOT NULL,
			level      TEXT NOT NULL,
			action     TEXT NOT NULL,
			subject    TEXT NOT NULL DEFAULT '',
			message    TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_activity_created ON activity(created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}

	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}

	err := j.db.Close()
	j.db = nil

	return err
}

// Record appends an entry stamped with the current time.
func (j *Journal) Record(ctx context.Context, level Level, action, subject, message string) error {
	if j == nil || j.db == nil {
		return ErrClosed
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO activity (created_at, level, action, subject, message) VALUES (?, ?, ?, ?, ?)`,
		j.now().UnixNano(), string(level), action, subject, message)
	if err != nil {
		return fmt.Errorf("recording activity: %w", err)
	}

	return nil
}

// Recent returns up to limit entries, newest first. limit <= 0 returns everything.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, ErrClosed
	}

	if limit <= 0 {
		limit = -1
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, created_at, level, action, subject, message FROM activity ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry

	for rows.Next() {
		var (
			e     Entry
			nanos int64
			level string
		)

		if err := rows.Scan(&e.ID, &nanos, &level, &e.Action, &e.Subject, &e.Message); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}

		e.Time = time.Unix(0, nanos)
		e.Level = Level(level)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Clear deletes every entry and returns how many were removed.
func (j *Journal) Clear(ctx context.Context) (int64, error) {
	if j == nil || j.db == nil {
		return 0, ErrClosed
	}

	res, err := j.db.ExecContext(ctx, `DELETE FROM activity`)
	if err != nil {
		return 0, fmt.Errorf("clearing activity: %w", err)
	}

	return res.RowsAffected()
}
