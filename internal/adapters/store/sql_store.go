package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mikey/mail-risk/internal/core"
	"go.uber.org/zap"
)

// SQLStore implements core.AnalysisRepository on database/sql.
// SQLite, MySQL and PostgreSQL share the queries and differ only in schema and bind style.
type SQLStore struct {
	db      *sqlx.DB
	logger  *zap.Logger
	driver  string
	cleaner *cleaner
}

func newSQLStore(db *sql.DB, driver string, schema []string, logger *zap.Logger, retention, cleanupFreq time.Duration) (*SQLStore, error) {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	s := &SQLStore{db: sqlx.NewDb(db, driver), logger: logger, driver: driver}
	s.cleaner = startCleaner(s, logger, retention, cleanupFreq)
	return s, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// encodeJSON returns NULL for nil values
func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(data) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeJSON(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}

// Create stores a new record together with its attachments
func (s *SQLStore) Create(ctx context.Context, rec *core.AnalysisRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO analyses (id, owner_id, status, title, subject, body, narrative, failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), rec.ID, rec.OwnerID, string(rec.Status), rec.Title, rec.Subject, rec.Body, rec.Narrative, rec.FailureReason,
		toMillis(rec.CreatedAt), toMillis(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}

	for i, att := range rec.Attachments {
		_, err = tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO attachments (id, analysis_id, position, filename, mime_type, size_bytes, sha256, content, scan_status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), att.ID, rec.ID, i, att.Filename, att.MimeType, att.SizeBytes, att.SHA256, att.Content, string(att.ScanStatus))
		if err != nil {
			return fmt.Errorf("failed to insert attachment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit analysis: %w", err)
	}
	return nil
}

// Get returns the record owned by ownerID
func (s *SQLStore) Get(ctx context.Context, ownerID, id string) (*core.AnalysisRecord, error) {
	var (
		rec                           core.AnalysisRecord
		status                        string
		classification, scan, verdict sql.NullString
		createdAt, updatedAt          int64
		completedAt                   sql.NullInt64
	)

	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT id, owner_id, status, title, subject, body, classification, scan, verdict,
			narrative, failure_reason, created_at, updated_at, completed_at
		FROM analyses
		WHERE id = ? AND owner_id = ?
	`), id, ownerID).Scan(&rec.ID, &rec.OwnerID, &status, &rec.Title, &rec.Subject, &rec.Body,
		&classification, &scan, &verdict, &rec.Narrative, &rec.FailureReason, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query analysis: %w", err)
	}

	rec.Status = core.AnalysisStatus(status)
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		rec.CompletedAt = &t
	}
	if classification.Valid {
		rec.Classification = &core.ClassificationResult{}
		if err := decodeJSON(classification, rec.Classification); err != nil {
			return nil, fmt.Errorf("failed to decode classification: %w", err)
		}
	}
	if scan.Valid {
		rec.Scan = &core.ScanAggregate{}
		if err := decodeJSON(scan, rec.Scan); err != nil {
			return nil, fmt.Errorf("failed to decode scan aggregate: %w", err)
		}
	}
	if verdict.Valid {
		rec.Verdict = &core.Verdict{}
		if err := decodeJSON(verdict, rec.Verdict); err != nil {
			return nil, fmt.Errorf("failed to decode verdict: %w", err)
		}
	}

	attachments, err := s.attachments(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	rec.Attachments = attachments
	return &rec, nil
}

func (s *SQLStore) attachments(ctx context.Context, analysisID string) ([]*core.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, filename, mime_type, size_bytes, sha256, content, scan_status, scan_provider,
			scan_score, scan_evidence, scan_report
		FROM attachments
		WHERE analysis_id = ?
		ORDER BY position
	`), analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	var out []*core.Attachment
	for rows.Next() {
		var (
			att              core.Attachment
			status           string
			provider         sql.NullString
			score            sql.NullInt64
			evidence, report sql.NullString
		)
		if err := rows.Scan(&att.ID, &att.Filename, &att.MimeType, &att.SizeBytes, &att.SHA256, &att.Content,
			&status, &provider, &score, &evidence, &report); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		att.AnalysisID = analysisID
		att.ScanStatus = core.ScanStatus(status)
		att.ScanProvider = provider.String
		if score.Valid {
			v := int(score.Int64)
			att.ScanScore = &v
		}
		if err := decodeJSON(evidence, &att.ScanEvidence); err != nil {
			return nil, fmt.Errorf("failed to decode scan evidence: %w", err)
		}
		if report.Valid && report.String != "" {
			att.ScanReport = json.RawMessage(report.String)
		}
		out = append(out, &att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read attachments: %w", err)
	}
	return out, nil
}

// Delete removes the record owned by ownerID
func (s *SQLStore) Delete(ctx context.Context, ownerID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM analyses WHERE id = ? AND owner_id = ?`), id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete analysis: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM attachments WHERE analysis_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete attachments: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// TransitionStatus moves the record from one status to another with a conditional update
func (s *SQLStore) TransitionStatus(ctx context.Context, id string, from, to core.AnalysisStatus) (bool, error) {
	query := `UPDATE analyses SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	if to == core.StatusScanning {
		query = `UPDATE analyses SET status = ?, narrative = '', updated_at = ? WHERE id = ? AND status = ?`
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), string(to), toMillis(time.Now()), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (s *SQLStore) exec(ctx context.Context, what, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to store %s: %w", what, err)
	}
	return nil
}

// SaveClassification stores the classifier output
func (s *SQLStore) SaveClassification(ctx context.Context, id string, result *core.ClassificationResult) error {
	data, err := encodeJSON(result)
	if err != nil {
		return fmt.Errorf("failed to encode classification: %w", err)
	}
	return s.exec(ctx, "classification",
		`UPDATE analyses SET classification = ?, updated_at = ? WHERE id = ?`, data, toMillis(time.Now()), id)
}

// SaveAttachmentScan stores the scan state of one attachment
func (s *SQLStore) SaveAttachmentScan(ctx context.Context, att *core.Attachment) error {
	evidence, err := encodeJSON(att.ScanEvidence)
	if err != nil {
		return fmt.Errorf("failed to encode scan evidence: %w", err)
	}
	var score sql.NullInt64
	if att.ScanScore != nil {
		score = sql.NullInt64{Int64: int64(*att.ScanScore), Valid: true}
	}
	var report sql.NullString
	if len(att.ScanReport) > 0 {
		report = sql.NullString{String: string(att.ScanReport), Valid: true}
	}
	return s.exec(ctx, "attachment scan", `
		UPDATE attachments
		SET scan_status = ?, scan_provider = ?, scan_score = ?, scan_evidence = ?, scan_report = ?
		WHERE id = ?
	`, string(att.ScanStatus), att.ScanProvider, score, evidence, report, att.ID)
}

// SaveScanAggregate stores the summary of all scans
func (s *SQLStore) SaveScanAggregate(ctx context.Context, id string, agg *core.ScanAggregate) error {
	data, err := encodeJSON(agg)
	if err != nil {
		return fmt.Errorf("failed to encode scan aggregate: %w", err)
	}
	return s.exec(ctx, "scan aggregate",
		`UPDATE analyses SET scan = ?, updated_at = ? WHERE id = ?`, data, toMillis(time.Now()), id)
}

// SaveNarrative stores the narrative text so far
func (s *SQLStore) SaveNarrative(ctx context.Context, id, narrative string) error {
	return s.exec(ctx, "narrative",
		`UPDATE analyses SET narrative = ?, updated_at = ? WHERE id = ?`, narrative, toMillis(time.Now()), id)
}

// Complete marks the record COMPLETED
func (s *SQLStore) Complete(ctx context.Context, id string, verdict *core.Verdict, narrative string, completedAt time.Time) error {
	data, err := encodeJSON(verdict)
	if err != nil {
		return fmt.Errorf("failed to encode verdict: %w", err)
	}
	return s.exec(ctx, "completion", `
		UPDATE analyses
		SET status = ?, verdict = ?, narrative = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`, string(core.StatusCompleted), data, narrative, toMillis(completedAt), toMillis(time.Now()), id)
}

// Fail marks the record FAILED
func (s *SQLStore) Fail(ctx context.Context, id, narrative, reason string) error {
	return s.exec(ctx, "failure", `
		UPDATE analyses
		SET status = ?, narrative = ?, failure_reason = ?, updated_at = ?
		WHERE id = ?
	`, string(core.StatusFailed), narrative, reason, toMillis(time.Now()), id)
}

// Cleanup removes terminal records last updated before the cutoff
func (s *SQLStore) Cleanup(ctx context.Context, before time.Time) (int, error) {
	cutoff := toMillis(before)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM attachments
		WHERE analysis_id IN (
			SELECT id FROM analyses WHERE status IN (?, ?) AND updated_at < ?
		)
	`), string(core.StatusCompleted), string(core.StatusFailed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up attachments: %w", err)
	}

	res, err := tx.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM analyses WHERE status IN (?, ?) AND updated_at < ?
	`), string(core.StatusCompleted), string(core.StatusFailed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up analyses: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Failed to get rows affected during cleanup", zap.Error(err))
		return 0, nil
	}
	return int(n), nil
}

// Stop stops the background cleanup task and closes the database connection
func (s *SQLStore) Stop() {
	s.cleaner.stop()
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", zap.String("driver", s.driver), zap.Error(err))
	}
}
