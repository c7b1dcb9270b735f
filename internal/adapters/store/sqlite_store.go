package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var sqliteSchema = []string{`
	CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		status TEXT NOT NULL,
		title TEXT NOT NULL,
		subject TEXT NOT NULL,
		body TEXT NOT NULL,
		classification TEXT,
		scan TEXT,
		verdict TEXT,
		narrative TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	)`, `
	CREATE INDEX IF NOT EXISTS idx_analyses_owner ON analyses(owner_id)`, `
	CREATE INDEX IF NOT EXISTS idx_analyses_status_updated ON analyses(status, updated_at)`, `
	CREATE TABLE IF NOT EXISTS attachments (
		id TEXT PRIMARY KEY,
		analysis_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		filename TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		sha256 TEXT NOT NULL,
		content BLOB,
		scan_status TEXT NOT NULL,
		scan_provider TEXT,
		scan_score INTEGER,
		scan_evidence TEXT,
		scan_report TEXT
	)`, `
	CREATE INDEX IF NOT EXISTS idx_attachments_analysis ON attachments(analysis_id)`,
}

// NewSQLiteStore opens (and if needed creates) a SQLite database at dbPath
func NewSQLiteStore(dbPath string, logger *zap.Logger, retention, cleanupFreq time.Duration) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// One connection: SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	return newSQLStore(db, "sqlite3", sqliteSchema, logger, retention, cleanupFreq)
}
