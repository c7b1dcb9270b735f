package training

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mikey/mail-risk/internal/ml"
	"go.uber.org/zap"
)

// Opener reopens the corpus for every pass
type Opener func() (io.ReadCloser, error)

// Evaluation is the confusion matrix of a binary model on the held-out rows
type Evaluation struct {
	TP int `json:"tp"`
	TN int `json:"tn"`
	FP int `json:"fp"`
	FN int `json:"fn"`
}

// Total returns the number of evaluated rows
func (e Evaluation) Total() int {
	return e.TP + e.TN + e.FP + e.FN
}

// Accuracy returns the share of correct predictions
func (e Evaluation) Accuracy() float64 {
	if e.Total() == 0 {
		return 0
	}
	return float64(e.TP+e.TN) / float64(e.Total())
}

// HashedReport is the outcome of a hashed training run
type HashedReport struct {
	Model      *ml.HashedModel
	Evaluation Evaluation
	SeenTrain  int
	SeenTest   int
	Skipped    int
	Malformed  int
}

// HashedTrainer fits a binary hashed perceptron by streaming the corpus
type HashedTrainer struct {
	Dim          int
	Epochs       int
	LearningRate float64
	Split        Split

	logger *zap.Logger
	now    func() time.Time
}

// NewHashedTrainer creates a trainer with the default hyperparameters
func NewHashedTrainer(logger *zap.Logger) *HashedTrainer {
	return &HashedTrainer{
		Dim:          ml.DefaultHashDim,
		Epochs:       3,
		LearningRate: 1,
		Split:        DefaultSplit,
		logger:       logger,
		now:          time.Now,
	}
}

type labeledTokens struct {
	spam   bool
	counts ml.SparseVector
}

// prepare turns a row into slot counts; ok is false for rows that must be skipped
func (t *HashedTrainer) prepare(r Row) (labeledTokens, bool) {
	spam, ok := r.Label()
	if !ok {
		return labeledTokens{}, false
	}
	text := r.Text()
	if strings.TrimSpace(text) == "" {
		return labeledTokens{}, false
	}
	counts := make(ml.SparseVector)
	for _, tok := range ml.Tokenize(text) {
		counts[ml.HashIndex(tok, t.Dim)]++
	}
	return labeledTokens{spam: spam, counts: counts}, true
}

func score(m *ml.HashedModel, counts ml.SparseVector) float64 {
	return counts.Dot(m.Weights, m.Bias)
}

// Train runs all epochs over the training rows and evaluates on the held-out rows
func (t *HashedTrainer) Train(ctx context.Context, open Opener) (*HashedReport, error) {
	if t.Dim <= 0 || t.Dim&(t.Dim-1) != 0 {
		return nil, fmt.Errorf("dim %d is not a positive power of two", t.Dim)
	}

	model := &ml.HashedModel{
		Version: 1,
		Kind:    ml.KindHashedPerceptron,
		Dim:     t.Dim,
		Weights: make([]float64, t.Dim),
	}
	report := &HashedReport{Model: model}

	for epoch := 1; epoch <= t.Epochs; epoch++ {
		first := epoch == 1
		mistakes := 0

		stats, err := t.pass(ctx, open, func(r Row) error {
			ex, ok := t.prepare(r)
			if !ok {
				if first {
					report.Skipped++
				}
				return nil
			}
			if t.Split.IsTest(r) {
				if first {
					report.SeenTest++
				}
				return nil
			}
			if first {
				report.SeenTrain++
			}

			predSpam := score(model, ex.counts) >= model.Threshold
			if predSpam == ex.spam {
				return nil
			}
			mistakes++
			delta := t.LearningRate
			if !ex.spam {
				delta = -delta
			}
			for idx, c := range ex.counts {
				model.Weights[idx] += delta * c
			}
			model.Bias += delta
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to train epoch %d: %w", epoch, err)
		}
		if first {
			report.Malformed = stats.Malformed
		}

		t.logger.Info("Completed training epoch",
			zap.Int("epoch", epoch),
			zap.Int("mistakes", mistakes),
			zap.Int("train_rows", report.SeenTrain))
	}

	_, err := t.pass(ctx, open, func(r Row) error {
		if !t.Split.IsTest(r) {
			return nil
		}
		ex, ok := t.prepare(r)
		if !ok {
			return nil
		}
		predSpam := score(model, ex.counts) >= model.Threshold
		switch {
		case predSpam && ex.spam:
			report.Evaluation.TP++
		case !predSpam && !ex.spam:
			report.Evaluation.TN++
		case predSpam && !ex.spam:
			report.Evaluation.FP++
		default:
			report.Evaluation.FN++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate model: %w", err)
	}

	model.Meta = &ml.HashedMeta{
		TrainedAt:          t.now().UTC(),
		Epochs:             t.Epochs,
		LearningRate:       t.LearningRate,
		TestSplitMod:       t.Split.Mod,
		TestSplitRemainder: t.Split.Remainder,
		SeenTrain:          report.SeenTrain,
		SeenTest:           report.SeenTest,
		Skipped:            report.Skipped,
		Accuracy:           report.Evaluation.Accuracy(),
	}

	t.logger.Info("Evaluated hashed model",
		zap.Int("tp", report.Evaluation.TP),
		zap.Int("tn", report.Evaluation.TN),
		zap.Int("fp", report.Evaluation.FP),
		zap.Int("fn", report.Evaluation.FN),
		zap.Float64("accuracy", report.Evaluation.Accuracy()))

	return report, nil
}

func (t *HashedTrainer) pass(ctx context.Context, open Opener, fn func(Row) error) (CorpusStats, error) {
	rc, err := open()
	if err != nil {
		return CorpusStats{}, fmt.Errorf("failed to open corpus: %w", err)
	}
	defer rc.Close()

	return ReadCorpus(rc, func(r Row) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(r)
	})
}
