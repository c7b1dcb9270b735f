package core_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mikey/mail-risk/internal/adapters/store"
	"github.com/mikey/mail-risk/internal/core"
	"github.com/mikey/mail-risk/internal/verdict"
	"go.uber.org/zap/zaptest"
)

type fakeClassifier struct {
	calls  atomic.Int32
	result core.ClassificationResult
	err    error
	called chan struct{}
}

func (f *fakeClassifier) Classify(ctx context.Context, subject, body string) (*core.ClassificationResult, error) {
	f.calls.Add(1)
	if f.called != nil {
		select {
		case f.called <- struct{}{}:
		default:
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	r := f.result
	return &r, nil
}

type fakeScanner struct {
	calls   atomic.Int32
	results map[string]*core.ScanResult
	errs    map[string]error
}

func (f *fakeScanner) Name() string { return "fake" }

func (f *fakeScanner) Scan(ctx context.Context, file *core.Attachment) (*core.ScanResult, error) {
	f.calls.Add(1)
	if err := f.errs[file.Filename]; err != nil {
		return nil, err
	}
	if r, ok := f.results[file.Filename]; ok {
		return r, nil
	}
	return &core.ScanResult{Status: core.ScanCompleted, Score: 0}, nil
}

type fakeStream struct {
	tokens []string
	failAt int
	gate   chan struct{}
	pos    int
}

func (s *fakeStream) Recv() (string, error) {
	if s.gate != nil && s.pos == 1 {
		<-s.gate
	}
	if s.failAt > 0 && s.pos == s.failAt {
		return "", errors.New("provider hung up")
	}
	if s.pos >= len(s.tokens) {
		return "", io.EOF
	}
	tok := s.tokens[s.pos]
	s.pos++
	return tok, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeNarrator struct {
	tokens []string
	failAt int
	gate   chan struct{}
	calls  atomic.Int32
}

func (f *fakeNarrator) StreamNarrative(ctx context.Context, prompt core.NarrativePrompt) (core.TokenStream, error) {
	f.calls.Add(1)
	return &fakeStream{tokens: f.tokens, failAt: f.failAt, gate: f.gate}, nil
}

type collectSink struct {
	mu     sync.Mutex
	chunks []string
	failAt int
}

func (c *collectSink) WriteChunk(chunk string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAt > 0 && len(c.chunks) == c.failAt {
		return errors.New("client went away")
	}
	c.chunks = append(c.chunks, chunk)
	return nil
}

func (c *collectSink) text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.chunks, "")
}

type countingRepo struct {
	core.AnalysisRepository
	narrativeSaves atomic.Int32
}

func (r *countingRepo) SaveNarrative(ctx context.Context, id, narrative string) error {
	r.narrativeSaves.Add(1)
	return r.AnalysisRepository.SaveNarrative(ctx, id, narrative)
}

type harness struct {
	svc        *core.AnalysisService
	repo       *countingRepo
	classifier *fakeClassifier
	scanner    *fakeScanner
	narrator   *fakeNarrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	mem := store.NewMemoryStore(logger, 0, 0)
	t.Cleanup(mem.Stop)

	h := &harness{
		repo:       &countingRepo{AnalysisRepository: mem},
		classifier: &fakeClassifier{result: core.ClassificationResult{Label: core.LabelSpam, Score: 72, Evidence: []string{"Contém URLs (1)"}}},
		scanner:    &fakeScanner{results: map[string]*core.ScanResult{}, errs: map[string]error{}},
		narrator:   &fakeNarrator{tokens: []string{"Este ", "email ", "é ", "spam."}},
	}
	h.svc = core.NewAnalysisService(h.repo, h.classifier, h.scanner, h.narrator, verdict.Policy{},
		core.NewPromptBuilder(nil, 0, ""), logger, core.ServiceConfig{})
	return h
}

func (h *harness) create(t *testing.T, files ...core.NewAttachment) *core.AnalysisRecord {
	t.Helper()
	rec, err := h.svc.Create(context.Background(), "alice", core.NewAnalysis{
		Title: "Suspicious", Subject: "Your account", Body: "Click here", Attachments: files,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return rec
}

func TestStreamCompletesAndReplays(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t)
	ctx := context.Background()

	sink := &collectSink{}
	outcome, err := h.svc.Stream(ctx, "alice", rec.ID, sink)
	if err != nil || outcome != core.OutcomeCompleted {
		t.Fatalf("Stream() = %s, %v", outcome, err)
	}
	if len(sink.chunks) != 4 || sink.text() != "Este email é spam." {
		t.Errorf("chunks = %q", sink.chunks)
	}

	stored, err := h.svc.Get(ctx, "alice", rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != core.StatusCompleted || stored.Narrative != sink.text() {
		t.Errorf("stored = %+v", stored)
	}
	if stored.Verdict == nil || stored.Verdict.Label != core.LabelSpam || stored.Verdict.Score != 72 {
		t.Errorf("verdict = %+v", stored.Verdict)
	}

	replay := &collectSink{}
	outcome, err = h.svc.Stream(ctx, "alice", rec.ID, replay)
	if err != nil || outcome != core.OutcomeReplayed {
		t.Fatalf("replay Stream() = %s, %v", outcome, err)
	}
	if len(replay.chunks) != 1 || replay.chunks[0] != stored.Narrative {
		t.Errorf("replay chunks = %q", replay.chunks)
	}
	if h.classifier.calls.Load() != 1 || h.narrator.calls.Load() != 1 {
		t.Errorf("pipeline ran %d/%d times, want once", h.classifier.calls.Load(), h.narrator.calls.Load())
	}
}

func TestStreamUnknownOwner(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t)
	if _, err := h.svc.Stream(context.Background(), "mallory", rec.ID, &collectSink{}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentStreamsOnScanningRecordReturnSnapshot(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t)
	ctx := context.Background()

	if ok, err := h.repo.TransitionStatus(ctx, rec.ID, core.StatusPending, core.StatusScanning); !ok || err != nil {
		t.Fatalf("TransitionStatus() = %v, %v", ok, err)
	}
	if err := h.repo.SaveNarrative(ctx, rec.ID, "partial narrative"); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	sinks := []*collectSink{{}, {}}
	for _, s := range sinks {
		wg.Add(1)
		go func(s *collectSink) {
			defer wg.Done()
			outcome, err := h.svc.Stream(ctx, "alice", rec.ID, s)
			if err != nil || outcome != core.OutcomeInProgress {
				t.Errorf("Stream() = %s, %v", outcome, err)
			}
		}(s)
	}
	wg.Wait()

	for _, s := range sinks {
		if s.text() != "partial narrative" {
			t.Errorf("snapshot = %q", s.text())
		}
	}
	if n := h.classifier.calls.Load(); n != 0 {
		t.Errorf("classifier invoked %d times", n)
	}
}

func TestConcurrentStreamsOnPendingRecordRunOnePipeline(t *testing.T) {
	h := newHarness(t)
	h.narrator.gate = make(chan struct{})
	h.classifier.called = make(chan struct{}, 1)
	rec := h.create(t)
	ctx := context.Background()

	first := &collectSink{}
	done := make(chan core.StreamOutcome, 1)
	go func() {
		outcome, err := h.svc.Stream(ctx, "alice", rec.ID, first)
		if err != nil {
			t.Errorf("first Stream() error = %v", err)
		}
		done <- outcome
	}()

	<-h.classifier.called

	second := &collectSink{}
	outcome, err := h.svc.Stream(ctx, "alice", rec.ID, second)
	if err != nil || outcome != core.OutcomeInProgress {
		t.Errorf("second Stream() = %s, %v", outcome, err)
	}

	close(h.narrator.gate)
	if got := <-done; got != core.OutcomeCompleted {
		t.Errorf("first outcome = %s", got)
	}
	if n := h.classifier.calls.Load(); n != 1 {
		t.Errorf("classifier invoked %d times, want 1", n)
	}
	if !strings.HasPrefix(first.text(), second.text()) {
		t.Errorf("snapshot %q is not a prefix of %q", second.text(), first.text())
	}
}

func TestScanFailureIsLocal(t *testing.T) {
	h := newHarness(t)
	h.classifier.result = core.ClassificationResult{Label: core.LabelLegitimate, Score: 30}
	h.scanner.errs["broken.zip"] = errors.New("quota exceeded")
	h.scanner.results["evil.exe"] = &core.ScanResult{Status: core.ScanCompleted, Score: 90, Evidence: []string{"malicious=12"}}

	rec := h.create(t,
		core.NewAttachment{Filename: "broken.zip", Content: []byte("zip")},
		core.NewAttachment{Filename: "evil.exe", Content: []byte("MZ")},
	)

	outcome, err := h.svc.Stream(context.Background(), "alice", rec.ID, &collectSink{})
	if err != nil || outcome != core.OutcomeCompleted {
		t.Fatalf("Stream() = %s, %v", outcome, err)
	}

	stored, _ := h.svc.Get(context.Background(), "alice", rec.ID)
	if stored.Verdict.Label != core.LabelMalware || stored.Verdict.Score != 50 {
		t.Errorf("verdict = %+v, want MALWARE/50", stored.Verdict)
	}
	if stored.Attachments[0].ScanStatus != core.ScanFailed || stored.Attachments[1].ScanStatus != core.ScanCompleted {
		t.Errorf("scan statuses = %s, %s", stored.Attachments[0].ScanStatus, stored.Attachments[1].ScanStatus)
	}
	if stored.Scan == nil || stored.Scan.MaxScore != 90 || stored.Scan.Hits != 1 {
		t.Fatalf("scan aggregate = %+v", stored.Scan)
	}
	if stored.Scan.Evidence[0] != "Erro no scan (broken.zip): quota exceeded" {
		t.Errorf("evidence = %q", stored.Scan.Evidence)
	}
}

func TestCompletedScansAreReused(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, core.NewAttachment{Filename: "a.pdf", Content: []byte("pdf")})
	ctx := context.Background()

	att := rec.Attachments[0]
	score := 80
	att.ScanStatus = core.ScanCompleted
	att.ScanProvider = "fake"
	att.ScanScore = &score
	if err := h.repo.SaveAttachmentScan(ctx, att); err != nil {
		t.Fatal(err)
	}

	if _, err := h.svc.Stream(ctx, "alice", rec.ID, &collectSink{}); err != nil {
		t.Fatal(err)
	}
	if n := h.scanner.calls.Load(); n != 0 {
		t.Errorf("scanner invoked %d times for a completed file", n)
	}
	stored, _ := h.svc.Get(ctx, "alice", rec.ID)
	if stored.Verdict.Label != core.LabelMalware {
		t.Errorf("verdict = %+v", stored.Verdict)
	}
}

func TestClassifierErrorFailsAnalysis(t *testing.T) {
	h := newHarness(t)
	h.classifier.err = errors.New("model configuration error")
	rec := h.create(t)

	sink := &collectSink{}
	outcome, err := h.svc.Stream(context.Background(), "alice", rec.ID, sink)
	if outcome != core.OutcomeFailed || !errors.Is(err, core.ErrAnalysisFailed) {
		t.Fatalf("Stream() = %s, %v", outcome, err)
	}
	stored, _ := h.svc.Get(context.Background(), "alice", rec.ID)
	if stored.Status != core.StatusFailed || !strings.Contains(stored.Narrative, "model configuration error") {
		t.Errorf("stored = %+v", stored)
	}
	if !strings.Contains(sink.text(), "[Erro]") {
		t.Errorf("failure not surfaced to the client: %q", sink.text())
	}

	outcome, err = h.svc.Stream(context.Background(), "alice", rec.ID, &collectSink{})
	if outcome != core.OutcomeFailed || !errors.Is(err, core.ErrAnalysisFailed) {
		t.Errorf("Stream() on failed record = %s, %v", outcome, err)
	}
	if h.classifier.calls.Load() != 1 {
		t.Error("failed analysis was re-run")
	}
}

func TestNarrativeErrorKeepsPartialText(t *testing.T) {
	h := newHarness(t)
	h.narrator.failAt = 2
	rec := h.create(t)

	sink := &collectSink{}
	outcome, err := h.svc.Stream(context.Background(), "alice", rec.ID, sink)
	if outcome != core.OutcomeFailed || !errors.Is(err, core.ErrAnalysisFailed) {
		t.Fatalf("Stream() = %s, %v", outcome, err)
	}
	if got := sink.text(); !strings.HasPrefix(got, "Este email \n\n[Erro] ") || !strings.Contains(got, "narrative stream failed") {
		t.Errorf("client text = %q, want the partial narrative and a failure notice", got)
	}
	stored, _ := h.svc.Get(context.Background(), "alice", rec.ID)
	if stored.Status != core.StatusFailed || stored.Narrative != "Este email " {
		t.Errorf("stored = %+v", stored)
	}

	replay := &collectSink{}
	if _, err := h.svc.Stream(context.Background(), "alice", rec.ID, replay); !errors.Is(err, core.ErrAnalysisFailed) {
		t.Fatalf("replay error = %v", err)
	}
	if got := replay.text(); got != "Este email "+"\n\n[Erro] "+stored.FailureReason {
		t.Errorf("replayed text = %q", got)
	}
}

func TestSinkFailureCancelsAndKeepsScanning(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t)

	outcome, err := h.svc.Stream(context.Background(), "alice", rec.ID, &collectSink{failAt: 2})
	if outcome != core.OutcomeCancelled || err == nil {
		t.Fatalf("Stream() = %s, %v", outcome, err)
	}
	stored, _ := h.svc.Get(context.Background(), "alice", rec.ID)
	if stored.Status != core.StatusScanning {
		t.Errorf("status = %s, want SCANNING", stored.Status)
	}
	if stored.Narrative != "Este email é " {
		t.Errorf("narrative = %q", stored.Narrative)
	}

	snap := &collectSink{}
	outcome, err = h.svc.Stream(context.Background(), "alice", rec.ID, snap)
	if err != nil || outcome != core.OutcomeInProgress || snap.text() != "Este email é " {
		t.Errorf("follow-up Stream() = %s, %v, %q", outcome, err, snap.text())
	}
}

func TestNarrativeFlushIsThrottled(t *testing.T) {
	h := newHarness(t)
	tokens := make([]string, 20)
	for i := range tokens {
		tokens[i] = "x"
	}
	h.narrator.tokens = tokens

	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h.svc.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(250 * time.Millisecond)
		return now
	})

	rec := h.create(t)
	if _, err := h.svc.Stream(context.Background(), "alice", rec.ID, &collectSink{}); err != nil {
		t.Fatal(err)
	}

	// 20 tokens at 250ms each span about 5s
	if n := h.repo.narrativeSaves.Load(); n < 3 || n > 6 {
		t.Errorf("narrative flushed %d times, want about one per second", n)
	}
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   core.NewAnalysis
	}{
		{"missing title", core.NewAnalysis{Subject: "s", Body: "b"}},
		{"missing subject", core.NewAnalysis{Title: "t", Body: "b"}},
		{"missing body", core.NewAnalysis{Title: "t", Subject: "s"}},
		{"too many files", core.NewAnalysis{Title: "t", Subject: "s", Body: "b", Attachments: make([]core.NewAttachment, 6)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.svc.Create(ctx, "alice", tt.in); !errors.Is(err, core.ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}

	rec := h.create(t, core.NewAttachment{Filename: "hello.txt", Content: []byte("hello")})
	if got := rec.Attachments[0].SHA256; got != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Errorf("sha256 = %s", got)
	}
	if rec.Status != core.StatusPending {
		t.Errorf("status = %s", rec.Status)
	}
}
