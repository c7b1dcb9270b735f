package store

import (
	"context"
	"sync"
	"time"

	"github.com/mikey/mail-risk/internal/core"
	"go.uber.org/zap"
)

// MemoryStore is an in-memory implementation of core.AnalysisRepository
type MemoryStore struct {
	records map[string]*core.AnalysisRecord
	mu      sync.RWMutex
	logger  *zap.Logger
	cleaner *cleaner
}

// NewMemoryStore creates a new in-memory store. A positive retention starts the cleanup task.
func NewMemoryStore(logger *zap.Logger, retention, cleanupFreq time.Duration) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]*core.AnalysisRecord),
		logger:  logger,
	}
	s.cleaner = startCleaner(s, logger, retention, cleanupFreq)
	return s
}

// Create stores a new record
func (s *MemoryStore) Create(ctx context.Context, rec *core.AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ID] = rec.Clone()
	return nil
}

// Get returns a copy of the record owned by ownerID
func (s *MemoryStore) Get(ctx context.Context, ownerID, id string) (*core.AnalysisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok || rec.OwnerID != ownerID {
		return nil, core.ErrNotFound
	}
	return rec.Clone(), nil
}

// Delete removes the record owned by ownerID
func (s *MemoryStore) Delete(ctx context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.OwnerID != ownerID {
		return core.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// TransitionStatus moves a record from one status to another atomically
func (s *MemoryStore) TransitionStatus(ctx context.Context, id string, from, to core.AnalysisStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false, core.ErrNotFound
	}
	if rec.Status != from {
		return false, nil
	}
	rec.Status = to
	if to == core.StatusScanning {
		rec.Narrative = ""
	}
	rec.UpdatedAt = time.Now().UTC()
	return true, nil
}

// update applies fn to the stored record under the write lock
func (s *MemoryStore) update(id string, fn func(rec *core.AnalysisRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return core.ErrNotFound
	}
	fn(rec)
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// SaveClassification stores the classifier output
func (s *MemoryStore) SaveClassification(ctx context.Context, id string, result *core.ClassificationResult) error {
	return s.update(id, func(rec *core.AnalysisRecord) {
		c := *result
		c.Evidence = append([]string(nil), result.Evidence...)
		rec.Classification = &c
	})
}

// SaveAttachmentScan stores the scan state of one attachment
func (s *MemoryStore) SaveAttachmentScan(ctx context.Context, att *core.Attachment) error {
	return s.update(att.AnalysisID, func(rec *core.AnalysisRecord) {
		for i, a := range rec.Attachments {
			if a.ID == att.ID {
				rec.Attachments[i] = att.Clone()
				return
			}
		}
	})
}

// SaveScanAggregate stores the summary of all scans
func (s *MemoryStore) SaveScanAggregate(ctx context.Context, id string, agg *core.ScanAggregate) error {
	return s.update(id, func(rec *core.AnalysisRecord) {
		a := *agg
		a.Evidence = append([]string(nil), agg.Evidence...)
		rec.Scan = &a
	})
}

// SaveNarrative stores the narrative text so far
func (s *MemoryStore) SaveNarrative(ctx context.Context, id, narrative string) error {
	return s.update(id, func(rec *core.AnalysisRecord) {
		rec.Narrative = narrative
	})
}

// Complete marks the record COMPLETED
func (s *MemoryStore) Complete(ctx context.Context, id string, verdict *core.Verdict, narrative string, completedAt time.Time) error {
	return s.update(id, func(rec *core.AnalysisRecord) {
		v := *verdict
		rec.Status = core.StatusCompleted
		rec.Verdict = &v
		rec.Narrative = narrative
		rec.CompletedAt = &completedAt
	})
}

// Fail marks the record FAILED
func (s *MemoryStore) Fail(ctx context.Context, id, narrative, reason string) error {
	return s.update(id, func(rec *core.AnalysisRecord) {
		rec.Status = core.StatusFailed
		rec.Narrative = narrative
		rec.FailureReason = reason
	})
}

// Cleanup removes terminal records not updated since before
func (s *MemoryStore) Cleanup(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.records {
		if rec.Status.Terminal() && rec.UpdatedAt.Before(before) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

// Stop stops the background cleanup task
func (s *MemoryStore) Stop() {
	s.cleaner.stop()
}
