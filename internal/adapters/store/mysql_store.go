package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

var mysqlSchema = []string{`
	CREATE TABLE IF NOT EXISTS analyses (
		id VARCHAR(36) PRIMARY KEY,
		owner_id VARCHAR(255) NOT NULL,
		status VARCHAR(16) NOT NULL,
		title TEXT NOT NULL,
		subject TEXT NOT NULL,
		body LONGTEXT NOT NULL,
		classification TEXT,
		scan TEXT,
		verdict TEXT,
		narrative LONGTEXT NOT NULL,
		failure_reason TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		completed_at BIGINT NULL,
		INDEX idx_analyses_owner (owner_id),
		INDEX idx_analyses_status_updated (status, updated_at)
	)`, `
	CREATE TABLE IF NOT EXISTS attachments (
		id VARCHAR(36) PRIMARY KEY,
		analysis_id VARCHAR(36) NOT NULL,
		position INT NOT NULL,
		filename VARCHAR(1024) NOT NULL,
		mime_type VARCHAR(255) NOT NULL,
		size_bytes BIGINT NOT NULL,
		sha256 CHAR(64) NOT NULL,
		content LONGBLOB,
		scan_status VARCHAR(16) NOT NULL,
		scan_provider VARCHAR(64) NULL,
		scan_score INT NULL,
		scan_evidence TEXT NULL,
		scan_report LONGTEXT NULL,
		INDEX idx_attachments_analysis (analysis_id)
	)`,
}

// NewMySQLStore connects to MySQL and creates the tables if they do not exist
func NewMySQLStore(dsn string, logger *zap.Logger, retention, cleanupFreq time.Duration) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	return newSQLStore(db, "mysql", mysqlSchema, logger, retention, cleanupFreq)
}
