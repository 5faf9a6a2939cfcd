// Package db is the SQLite ledger of deployments and bot runs.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the ledger database.
type Store struct {
	db *sql.DB
}

// Open creates the database file and its tables if needed. Use ":memory:"
// for a throwaway ledger.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init tables: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initTables() error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS deployment (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			bot_id       TEXT NOT NULL,
			revision     TEXT DEFAULT '',
			language     TEXT DEFAULT '',
			startup_file TEXT DEFAULT '',
			user_id      TEXT DEFAULT '',
			file_count   INTEGER DEFAULT 0,
			success      INTEGER DEFAULT 0,
			phase        TEXT DEFAULT '',
			deployed_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deployment_bot_id ON deployment(bot_id, id)`,

		`CREATE TABLE IF NOT EXISTS bot_run (
			run_id     TEXT PRIMARY KEY,
			bot_id     TEXT NOT NULL,
			pid        INTEGER NOT NULL,
			language   TEXT DEFAULT '',
			started_at INTEGER NOT NULL,
			ended_at   INTEGER,
			exit_code  INTEGER,
			reason     TEXT DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bot_run_bot_id ON bot_run(bot_id, started_at)`,
	}

	for _, schema := range schemas {
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("failed to exec schema: %s, error: %w", schema, err)
		}
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
