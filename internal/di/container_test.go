package di

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mikey/mail-risk/internal/core"
	"github.com/mikey/mail-risk/internal/ml"
)

type collectSink struct {
	b strings.Builder
}

func (s *collectSink) WriteChunk(chunk string) error {
	s.b.WriteString(chunk)
	return nil
}

func writeTestModel(t *testing.T) string {
	t.Helper()
	m := &ml.HashedModel{
		Version: 1,
		Kind:    ml.KindHashedPerceptron,
		Dim:     ml.DefaultHashDim,
		Weights: make([]float64, ml.DefaultHashDim),
	}
	m.Weights[ml.HashIndex("password", m.Dim)] = 12

	path := filepath.Join(t.TempDir(), "model.json")
	if err := ml.WriteModel(path, m); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCLIContainerRunsPipeline(t *testing.T) {
	flags := &CLIFlags{
		ModelPath:   writeTestModel(t),
		Provider:    "template",
		MaxBodySize: 4096,
		Language:    "Portuguese",
		Scanner:     "disabled",
		Owner:       "cli",
	}

	container, err := BuildCLIContainer(flags)
	if err != nil {
		t.Fatalf("BuildCLIContainer() error = %v", err)
	}

	err = container.Invoke(func(service *core.AnalysisService) error {
		ctx := context.Background()
		rec, err := service.Create(ctx, "cli", core.NewAnalysis{
			Title:   "Security alert",
			Subject: "URGENT",
			Body:    "verify your account password now http://evil.example/login",
		})
		if err != nil {
			return err
		}

		sink := &collectSink{}
		outcome, err := service.Stream(ctx, "cli", rec.ID, sink)
		if err != nil {
			return err
		}
		if outcome != core.OutcomeCompleted {
			t.Errorf("outcome = %s, want completed", outcome)
		}

		got, err := service.Get(ctx, "cli", rec.ID)
		if err != nil {
			return err
		}
		if got.Verdict == nil || got.Verdict.Label != core.LabelSpam {
			t.Errorf("verdict = %+v, want SPAM", got.Verdict)
		}
		if got.Narrative != sink.b.String() {
			t.Errorf("stored narrative differs from streamed text")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
}

func TestCLIContainerRejectsUnknownProvider(t *testing.T) {
	container, err := BuildCLIContainer(&CLIFlags{ModelPath: writeTestModel(t), Provider: "nope", Scanner: "disabled"})
	if err != nil {
		t.Fatal(err)
	}
	if err := container.Invoke(func(*core.AnalysisService) {}); err == nil {
		t.Error("Invoke() expected error for an unknown narrative provider")
	}
}

func TestCLIContainerFailsOnMissingModel(t *testing.T) {
	flags := &CLIFlags{
		ModelPath:   filepath.Join(t.TempDir(), "missing.json"),
		Provider:    "template",
		MaxBodySize: 4096,
		Scanner:     "disabled",
	}
	container, err := BuildCLIContainer(flags)
	if err != nil {
		t.Fatal(err)
	}

	err = container.Invoke(func(*core.AnalysisService) {
		t.Error("analysis service built without a model")
	})
	if err == nil {
		t.Fatal("Invoke() expected error for a missing model")
	}
	if !strings.Contains(err.Error(), "failed to load classification model") {
		t.Errorf("Invoke() error = %v, want a model load failure", err)
	}
}
