package core

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when an analysis does not exist for the owner
	ErrNotFound = errors.New("analysis not found")

	// ErrAnalysisFailed is returned when the pipeline ended in FAILED
	ErrAnalysisFailed = errors.New("analysis failed")

	// ErrInvalidInput is returned when a new analysis is rejected
	ErrInvalidInput = errors.New("invalid analysis input")
)

// Classifier scores the text of an email
type Classifier interface {
	Classify(ctx context.Context, subject, body string) (*ClassificationResult, error)
}

// MalwareScanner checks a single file against an external scanning service
type MalwareScanner interface {
	// Name identifies the provider; results are reused only for the same provider
	Name() string

	Scan(ctx context.Context, file *Attachment) (*ScanResult, error)
}

// TokenStream yields narrative fragments in order. Recv returns io.EOF once exhausted.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// NarrativeGenerator produces a streamed explanation of a verdict
type NarrativeGenerator interface {
	StreamNarrative(ctx context.Context, prompt NarrativePrompt) (TokenStream, error)
}

// VerdictPolicy decides scan hits and fuses them with the classifier output
type VerdictPolicy interface {
	IsMalwareHit(scanScore int) bool
	Combine(label Label, score float64, hits int) Verdict
}

// BodyTruncator bounds the email body handed to the narrative generator
type BodyTruncator interface {
	ProcessText(text string, maxSize int) string
}

// NarrativeSink receives narrative chunks as they are produced
type NarrativeSink interface {
	WriteChunk(chunk string) error
}

// AnalysisRepository persists analysis records and their attachments
type AnalysisRepository interface {
	// Create stores a new record together with its attachments
	Create(ctx context.Context, rec *AnalysisRecord) error

	// Get returns the record owned by ownerID, or ErrNotFound
	Get(ctx context.Context, ownerID, id string) (*AnalysisRecord, error)

	// Delete removes the record owned by ownerID, or returns ErrNotFound
	Delete(ctx context.Context, ownerID, id string) error

	// TransitionStatus moves the record to "to" only if its status is "from".
	// Entering SCANNING clears the narrative. It reports whether the transition happened.
	TransitionStatus(ctx context.Context, id string, from, to AnalysisStatus) (bool, error)

	SaveClassification(ctx context.Context, id string, result *ClassificationResult) error
	SaveAttachmentScan(ctx context.Context, att *Attachment) error
	SaveScanAggregate(ctx context.Context, id string, agg *ScanAggregate) error
	SaveNarrative(ctx context.Context, id, narrative string) error
	Complete(ctx context.Context, id string, verdict *Verdict, narrative string, completedAt time.Time) error
	Fail(ctx context.Context, id, narrative, reason string) error

	// Cleanup removes terminal records last updated before the cutoff
	Cleanup(ctx context.Context, before time.Time) (int, error)
}
