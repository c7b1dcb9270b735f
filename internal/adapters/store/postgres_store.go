package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

var postgresSchema = []string{`
	CREATE TABLE IF NOT EXISTS analyses (
		id VARCHAR(36) PRIMARY KEY,
		owner_id VARCHAR(255) NOT NULL,
		status VARCHAR(16) NOT NULL,
		title TEXT NOT NULL,
		subject TEXT NOT NULL,
		body TEXT NOT NULL,
		classification TEXT,
		scan TEXT,
		verdict TEXT,
		narrative TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		completed_at BIGINT
	)`, `
	CREATE INDEX IF NOT EXISTS idx_analyses_owner ON analyses(owner_id)`, `
	CREATE INDEX IF NOT EXISTS idx_analyses_status_updated ON analyses(status, updated_at)`, `
	CREATE TABLE IF NOT EXISTS attachments (
		id VARCHAR(36) PRIMARY KEY,
		analysis_id VARCHAR(36) NOT NULL,
		position INTEGER NOT NULL,
		filename TEXT NOT NULL,
		mime_type VARCHAR(255) NOT NULL,
		size_bytes BIGINT NOT NULL,
		sha256 CHAR(64) NOT NULL,
		content BYTEA,
		scan_status VARCHAR(16) NOT NULL,
		scan_provider VARCHAR(64),
		scan_score INTEGER,
		scan_evidence TEXT,
		scan_report TEXT
	)`, `
	CREATE INDEX IF NOT EXISTS idx_attachments_analysis ON attachments(analysis_id)`,
}

// NewPostgresStore connects to PostgreSQL and creates the tables if they do not exist
func NewPostgresStore(dsn string, logger *zap.Logger, retention, cleanupFreq time.Duration) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	return newSQLStore(db, "postgres", postgresSchema, logger, retention, cleanupFreq)
}
