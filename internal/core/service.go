package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// MaxAttachments is the number of files accepted per analysis
	MaxAttachments = 5
	// MaxAttachmentBytes is the size limit of a single file
	MaxAttachmentBytes = 500 << 20

	// DefaultFlushInterval bounds how often the partial narrative is persisted
	DefaultFlushInterval = time.Second
)

// StreamOutcome describes how a stream request was served
type StreamOutcome string

const (
	OutcomeCompleted  StreamOutcome = "completed"
	OutcomeReplayed   StreamOutcome = "replayed"
	OutcomeInProgress StreamOutcome = "in_progress"
	OutcomeFailed     StreamOutcome = "failed"
	OutcomeCancelled  StreamOutcome = "cancelled"
)

// NewAttachment is a file submitted with a new analysis
type NewAttachment struct {
	Filename string
	MimeType string
	Content  []byte
}

// NewAnalysis is the input of AnalysisService.Create
type NewAnalysis struct {
	Title       string
	Subject     string
	Body        string
	Attachments []NewAttachment
}

// ServiceConfig tunes the analysis pipeline
type ServiceConfig struct {
	FlushInterval time.Duration
}

// AnalysisService runs the analysis pipeline and serves narrative streams
type AnalysisService struct {
	repo       AnalysisRepository
	classifier Classifier
	scanner    MalwareScanner
	narrator   NarrativeGenerator
	policy     VerdictPolicy
	prompts    *PromptBuilder
	logger     *zap.Logger

	flushInterval time.Duration
	now           func() time.Time

	mu   sync.Mutex
	live map[string]*liveNarrative
}

// NewAnalysisService creates a new analysis service
func NewAnalysisService(
	repo AnalysisRepository,
	classifier Classifier,
	scanner MalwareScanner,
	narrator NarrativeGenerator,
	policy VerdictPolicy,
	prompts *PromptBuilder,
	logger *zap.Logger,
	cfg ServiceConfig,
) *AnalysisService {
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = DefaultFlushInterval
	}
	return &AnalysisService{
		repo:          repo,
		classifier:    classifier,
		scanner:       scanner,
		narrator:      narrator,
		policy:        policy,
		prompts:       prompts,
		logger:        logger,
		flushInterval: flush,
		now:           time.Now,
		live:          make(map[string]*liveNarrative),
	}
}

// SetClock replaces the time source
func (s *AnalysisService) SetClock(now func() time.Time) {
	s.now = now
}

// liveNarrative is the in-process buffer of a running pipeline
type liveNarrative struct {
	mu sync.Mutex
	b  strings.Builder
}

func (l *liveNarrative) append(s string) {
	l.mu.Lock()
	l.b.WriteString(s)
	l.mu.Unlock()
}

func (l *liveNarrative) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

// acquireLive registers a pipeline for id; it returns false if one is already running here
func (s *AnalysisService) acquireLive(id string) (*liveNarrative, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lv, ok := s.live[id]; ok {
		return lv, false
	}
	lv := &liveNarrative{}
	s.live[id] = lv
	return lv, true
}

func (s *AnalysisService) releaseLive(id string) {
	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
}

func (s *AnalysisService) snapshot(id string) (string, bool) {
	s.mu.Lock()
	lv, ok := s.live[id]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	return lv.String(), true
}

// Create validates and stores a new PENDING analysis
func (s *AnalysisService) Create(ctx context.Context, ownerID string, in NewAnalysis) (*AnalysisRecord, error) {
	switch {
	case strings.TrimSpace(ownerID) == "":
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	case strings.TrimSpace(in.Title) == "":
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	case strings.TrimSpace(in.Subject) == "":
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	case strings.TrimSpace(in.Body) == "":
		return nil, fmt.Errorf("%w: body is required", ErrInvalidInput)
	case len(in.Attachments) > MaxAttachments:
		return nil, fmt.Errorf("%w: at most %d attachments", ErrInvalidInput, MaxAttachments)
	}

	now := s.now().UTC()
	rec := &AnalysisRecord{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Status:    StatusPending,
		Title:     strings.TrimSpace(in.Title),
		Subject:   strings.TrimSpace(in.Subject),
		Body:      in.Body,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, f := range in.Attachments {
		if len(f.Content) > MaxAttachmentBytes {
			return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidInput, f.Filename, MaxAttachmentBytes)
		}
		sum := sha256.Sum256(f.Content)
		mime := f.MimeType
		if mime == "" {
			mime = "application/octet-stream"
		}
		rec.Attachments = append(rec.Attachments, &Attachment{
			ID:         uuid.NewString(),
			AnalysisID: rec.ID,
			Filename:   f.Filename,
			MimeType:   mime,
			SizeBytes:  int64(len(f.Content)),
			SHA256:     hex.EncodeToString(sum[:]),
			Content:    f.Content,
			ScanStatus: ScanPending,
		})
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store analysis: %w", err)
	}

	s.logger.Info("Created analysis",
		zap.String("analysis_id", rec.ID),
		zap.String("owner", ownerID),
		zap.Int("attachments", len(rec.Attachments)))

	return rec, nil
}

// Get returns an analysis owned by ownerID
func (s *AnalysisService) Get(ctx context.Context, ownerID, id string) (*AnalysisRecord, error) {
	return s.repo.Get(ctx, ownerID, id)
}

// Delete removes an analysis owned by ownerID
func (s *AnalysisService) Delete(ctx context.Context, ownerID, id string) error {
	return s.repo.Delete(ctx, ownerID, id)
}

// Stream serves the narrative of an analysis to sink.
// A PENDING analysis is run by this call; any other state is answered from stored or live state.
func (s *AnalysisService) Stream(ctx context.Context, ownerID, id string, sink NarrativeSink) (StreamOutcome, error) {
	rec, err := s.repo.Get(ctx, ownerID, id)
	if err != nil {
		return "", err
	}

	if rec.Status == StatusPending {
		lv, fresh := s.acquireLive(id)
		if fresh {
			started, err := s.repo.TransitionStatus(ctx, id, StatusPending, StatusScanning)
			if err != nil {
				s.releaseLive(id)
				return "", fmt.Errorf("failed to start analysis: %w", err)
			}
			if started {
				defer s.releaseLive(id)
				rec.Status = StatusScanning
				rec.Narrative = ""
				return s.run(ctx, rec, lv, sink)
			}
			s.releaseLive(id)
		}

		if rec, err = s.repo.Get(ctx, ownerID, id); err != nil {
			return "", err
		}
	}

	return s.replay(rec, sink)
}

// replay answers a request without running any computation
func (s *AnalysisService) replay(rec *AnalysisRecord, sink NarrativeSink) (StreamOutcome, error) {
	switch rec.Status {
	case StatusCompleted:
		if err := writeIfAny(sink, rec.Narrative); err != nil {
			return OutcomeCancelled, err
		}
		return OutcomeReplayed, nil
	case StatusFailed:
		text := rec.Narrative
		if notice := failureNotice(rec.FailureReason); !strings.HasSuffix(text, notice) {
			text += notice
		}
		if err := writeIfAny(sink, text); err != nil {
			return OutcomeCancelled, err
		}
		return OutcomeFailed, fmt.Errorf("%w: %s", ErrAnalysisFailed, rec.FailureReason)
	default:
		text := rec.Narrative
		if live, ok := s.snapshot(rec.ID); ok {
			text = live
		}
		if err := writeIfAny(sink, text); err != nil {
			return OutcomeCancelled, err
		}
		return OutcomeInProgress, nil
	}
}

// failureNotice is the text a client reads when an analysis fails
func failureNotice(reason string) string {
	return "\n\n[Erro] " + reason
}

func writeIfAny(sink NarrativeSink, text string) error {
	if text == "" {
		return nil
	}
	return sink.WriteChunk(text)
}

func (s *AnalysisService) run(ctx context.Context, rec *AnalysisRecord, lv *liveNarrative, sink NarrativeSink) (StreamOutcome, error) {
	log := s.logger.With(zap.String("analysis_id", rec.ID))
	log.Info("Starting analysis pipeline")

	clf, err := s.classifier.Classify(ctx, rec.Title+"\n"+rec.Subject, rec.Body)
	if err != nil {
		return s.fail(ctx, rec, lv, sink, fmt.Errorf("failed to classify email: %w", err))
	}
	if err := s.repo.SaveClassification(ctx, rec.ID, clf); err != nil {
		return s.fail(ctx, rec, lv, sink, fmt.Errorf("failed to store classification: %w", err))
	}
	log.Debug("Classified email", zap.String("label", string(clf.Label)), zap.Int("score", clf.Score))

	scan, err := s.scanAttachments(ctx, rec, log)
	if ctx.Err() != nil {
		return s.cancel(ctx, rec, lv, ctx.Err())
	}
	if err != nil {
		return s.fail(ctx, rec, lv, sink, err)
	}

	v := s.policy.Combine(clf.Label, float64(clf.Score), scan.Hits)
	log.Info("Fused verdict",
		zap.String("label", string(v.Label)),
		zap.Int("score", v.Score),
		zap.Int("malware_hits", scan.Hits))

	stream, err := s.narrator.StreamNarrative(ctx, s.prompts.Build(rec, clf, scan, v))
	if err != nil {
		if ctx.Err() != nil {
			return s.cancel(ctx, rec, lv, ctx.Err())
		}
		return s.failNarrative(ctx, rec, lv, sink, fmt.Errorf("failed to start narrative: %w", err))
	}
	defer stream.Close()

	lastFlush := s.now()
	for {
		tok, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return s.cancel(ctx, rec, lv, ctx.Err())
			}
			return s.failNarrative(ctx, rec, lv, sink, fmt.Errorf("narrative stream failed: %w", err))
		}
		if tok == "" {
			continue
		}

		lv.append(tok)
		if err := sink.WriteChunk(tok); err != nil {
			return s.cancel(ctx, rec, lv, err)
		}

		if now := s.now(); now.Sub(lastFlush) >= s.flushInterval {
			if err := s.repo.SaveNarrative(ctx, rec.ID, lv.String()); err != nil {
				if ctx.Err() != nil {
					return s.cancel(ctx, rec, lv, ctx.Err())
				}
				return s.fail(ctx, rec, lv, sink, fmt.Errorf("failed to store narrative: %w", err))
			}
			lastFlush = now
		}

		if ctx.Err() != nil {
			return s.cancel(ctx, rec, lv, ctx.Err())
		}
	}

	if err := s.repo.Complete(ctx, rec.ID, &v, lv.String(), s.now().UTC()); err != nil {
		return s.fail(ctx, rec, lv, sink, fmt.Errorf("failed to complete analysis: %w", err))
	}

	log.Info("Completed analysis", zap.String("verdict", string(v.Label)))
	return OutcomeCompleted, nil
}

// scanAttachments scans every file in order. A failing file is recorded and skipped.
func (s *AnalysisService) scanAttachments(ctx context.Context, rec *AnalysisRecord, log *zap.Logger) (*ScanAggregate, error) {
	provider := s.scanner.Name()
	agg := &ScanAggregate{Provider: provider}

	for _, att := range rec.Attachments {
		reusable := att.ScanStatus == ScanCompleted && att.ScanProvider == provider && att.ScanScore != nil
		if !reusable {
			if err := s.scanOne(ctx, att, provider, log); err != nil {
				return nil, err
			}
		}

		switch {
		case att.ScanStatus == ScanCompleted && att.ScanScore != nil:
			score := *att.ScanScore
			if score > agg.MaxScore {
				agg.MaxScore = score
			}
			if s.policy.IsMalwareHit(score) {
				agg.Hits++
			}
			for _, e := range att.ScanEvidence {
				agg.Evidence = append(agg.Evidence, fmt.Sprintf("%s: %s", att.Filename, e))
			}
		default:
			agg.Evidence = append(agg.Evidence, fmt.Sprintf("Erro no scan (%s): %s", att.Filename, strings.Join(att.ScanEvidence, "; ")))
		}
	}

	if err := s.repo.SaveScanAggregate(ctx, rec.ID, agg); err != nil {
		return nil, fmt.Errorf("failed to store scan results: %w", err)
	}
	rec.Scan = agg
	return agg, nil
}

func (s *AnalysisService) scanOne(ctx context.Context, att *Attachment, provider string, log *zap.Logger) error {
	att.ScanStatus = ScanScanning
	att.ScanProvider = provider
	if err := s.repo.SaveAttachmentScan(ctx, att); err != nil {
		return fmt.Errorf("failed to store scan state: %w", err)
	}

	res, err := s.scanner.Scan(ctx, att)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	switch {
	case err != nil:
		log.Warn("Attachment scan failed", zap.String("filename", att.Filename), zap.Error(err))
		att.ScanStatus = ScanFailed
		att.ScanScore = nil
		att.ScanEvidence = []string{err.Error()}
		att.ScanReport = nil
	case res.Status == ScanFailed:
		att.ScanStatus = ScanFailed
		att.ScanScore = nil
		att.ScanEvidence = res.Evidence
		att.ScanReport = res.Report
	default:
		score := clampPercent(res.Score)
		att.ScanStatus = ScanCompleted
		att.ScanScore = &score
		att.ScanEvidence = res.Evidence
		att.ScanReport = res.Report
	}

	if err := s.repo.SaveAttachmentScan(ctx, att); err != nil {
		return fmt.Errorf("failed to store scan result: %w", err)
	}
	return nil
}

// fail ends the pipeline after an internal error and makes the error visible in the narrative
func (s *AnalysisService) fail(ctx context.Context, rec *AnalysisRecord, lv *liveNarrative, sink NarrativeSink, cause error) (StreamOutcome, error) {
	msg := failureNotice(cause.Error())
	lv.append(msg)
	_ = sink.WriteChunk(msg)

	if err := s.repo.Fail(context.WithoutCancel(ctx), rec.ID, lv.String(), cause.Error()); err != nil {
		s.logger.Error("Failed to mark analysis as failed", zap.String("analysis_id", rec.ID), zap.Error(err))
	}
	s.logger.Error("Analysis failed", zap.String("analysis_id", rec.ID), zap.Error(cause))
	return OutcomeFailed, fmt.Errorf("%w: %w", ErrAnalysisFailed, cause)
}

// failNarrative ends the pipeline after a narrative error. The stored narrative keeps only
// what the generator produced; the client also receives the failure notice.
func (s *AnalysisService) failNarrative(ctx context.Context, rec *AnalysisRecord, lv *liveNarrative, sink NarrativeSink, cause error) (StreamOutcome, error) {
	_ = sink.WriteChunk(failureNotice(cause.Error()))

	if err := s.repo.Fail(context.WithoutCancel(ctx), rec.ID, lv.String(), cause.Error()); err != nil {
		s.logger.Error("Failed to mark analysis as failed", zap.String("analysis_id", rec.ID), zap.Error(err))
	}
	s.logger.Error("Narrative generation failed", zap.String("analysis_id", rec.ID), zap.Error(cause))
	return OutcomeFailed, fmt.Errorf("%w: %w", ErrAnalysisFailed, cause)
}

// cancel stops consuming the pipeline and keeps the partial narrative; the record stays SCANNING
func (s *AnalysisService) cancel(ctx context.Context, rec *AnalysisRecord, lv *liveNarrative, cause error) (StreamOutcome, error) {
	if err := s.repo.SaveNarrative(context.WithoutCancel(ctx), rec.ID, lv.String()); err != nil {
		s.logger.Error("Failed to store partial narrative", zap.String("analysis_id", rec.ID), zap.Error(err))
	}
	s.logger.Info("Analysis stream cancelled", zap.String("analysis_id", rec.ID), zap.Error(cause))
	return OutcomeCancelled, cause
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
