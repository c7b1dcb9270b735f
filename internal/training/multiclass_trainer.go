package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mikey/mail-risk/internal/core"
	"github.com/mikey/mail-risk/internal/ml"
	"go.uber.org/zap"
)

// ErrEmptyCorpus is returned when no usable training rows were found
var ErrEmptyCorpus = errors.New("no usable training rows")

// Classes are the multiclass labels in model order
var Classes = []core.Label{core.LabelLegitimate, core.LabelSpam, core.LabelMalware}

const (
	classLegitimate = iota
	classSpam
	classMalware
)

// DefaultMalwareHints are tokens that turn a SPAM row into a MALWARE row when enough of them occur
var DefaultMalwareHints = []string{
	"macro", "macros", "enable", "content", "attachment", "anexo", "exe", "zip",
	"docm", "xlsm", "invoice", "fatura", "payload", "trojan", "ransomware", "download",
}

// MulticlassReport is the outcome of a multiclass training run
type MulticlassReport struct {
	Model       *ml.TFIDFModel
	Train       int
	Test        int
	Correct     int
	Skipped     int
	Malformed   int
	WeakLabeled int
}

// Accuracy returns the held-out accuracy
func (r *MulticlassReport) Accuracy() float64 {
	if r.Test == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Test)
}

// MulticlassTrainer fits the TF-IDF one-vs-rest perceptron
type MulticlassTrainer struct {
	VocabSize      int
	Epochs         int
	LearningRate   float64
	Split          Split
	MalwareHints   []string
	MalwareHintMin int

	logger *zap.Logger
	now    func() time.Time
}

// NewMulticlassTrainer creates a trainer with the default hyperparameters
func NewMulticlassTrainer(logger *zap.Logger) *MulticlassTrainer {
	return &MulticlassTrainer{
		VocabSize:      20000,
		Epochs:         5,
		LearningRate:   0.1,
		Split:          DefaultSplit,
		MalwareHints:   DefaultMalwareHints,
		MalwareHintMin: 2,
		logger:         logger,
		now:            time.Now,
	}
}

type example struct {
	tokens   []string
	features ml.Features
	class    int
	test     bool
}

// weakLabel promotes SPAM rows carrying malware hints. It is a heuristic and is not validated.
func (t *MulticlassTrainer) weakLabel(spam bool, tokens []string, hints map[string]struct{}) int {
	if !spam {
		return classLegitimate
	}
	if t.MalwareHintMin <= 0 {
		return classSpam
	}
	n := 0
	for _, tok := range tokens {
		if _, ok := hints[tok]; ok {
			n++
		}
	}
	if n >= t.MalwareHintMin {
		return classMalware
	}
	return classSpam
}

// Train reads the whole corpus, builds the vocabulary from the training split and fits the model
func (t *MulticlassTrainer) Train(ctx context.Context, r io.Reader) (*MulticlassReport, error) {
	hints := make(map[string]struct{}, len(t.MalwareHints))
	for _, h := range t.MalwareHints {
		hints[strings.ToLower(h)] = struct{}{}
	}

	report := &MulticlassReport{}
	var examples []example

	stats, err := ReadCorpus(r, func(row Row) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		spam, ok := row.Label()
		text := row.Text()
		if !ok || strings.TrimSpace(text) == "" {
			report.Skipped++
			return nil
		}
		tokens, features := ml.AnalyzeText(text)
		class := t.weakLabel(spam, tokens, hints)
		if class == classMalware {
			report.WeakLabeled++
		}
		examples = append(examples, example{
			tokens:   tokens,
			features: features,
			class:    class,
			test:     t.Split.IsTest(row),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}
	report.Malformed = stats.Malformed

	var train, test []example
	for _, ex := range examples {
		if ex.test {
			test = append(test, ex)
		} else {
			train = append(train, ex)
		}
	}
	if len(train) == 0 {
		return nil, ErrEmptyCorpus
	}
	report.Train = len(train)
	report.Test = len(test)

	vocab := buildVocabulary(train, t.VocabSize)
	if len(vocab) == 0 {
		return nil, fmt.Errorf("%w: training rows carry no tokens", ErrEmptyCorpus)
	}
	idf := computeIDF(train, vocab)
	vocabIndex := ml.IndexVocabulary(vocab)

	xs := make([]ml.SparseVector, len(train))
	ys := make([]int, len(train))
	classCounts := make(map[string]int, len(Classes))
	for i, ex := range train {
		xs[i] = ml.Vectorize(ex.tokens, vocabIndex, idf, ex.features)
		ys[i] = ex.class
		classCounts[string(Classes[ex.class])]++
	}

	t.logger.Info("Prepared training set",
		zap.Int("train", report.Train),
		zap.Int("test", report.Test),
		zap.Int("vocab", len(vocab)),
		zap.Int("weak_labeled_malware", report.WeakLabeled),
		zap.Int("skipped", report.Skipped))

	weights, bias, err := TrainOVR(ctx, xs, ys, len(Classes), len(vocab)+ml.NumAuxFeatures, t.Epochs, t.LearningRate)
	if err != nil {
		return nil, fmt.Errorf("failed to fit perceptron: %w", err)
	}

	model := &ml.TFIDFModel{
		Version:           1,
		Kind:              ml.KindTFIDFPerceptron,
		Vocab:             vocab,
		IDF:               idf,
		Classes:           append([]core.Label(nil), Classes...),
		Weights:           weights,
		Bias:              bias,
		ExtraFeatureNames: append([]string(nil), ml.AuxFeatureNames...),
		Thresholds:        &ml.Thresholds{Spam: 60, Malware: 70},
	}

	for _, ex := range test {
		x := ml.Vectorize(ex.tokens, vocabIndex, idf, ex.features)
		logits := make([]float64, len(Classes))
		for c := range Classes {
			logits[c] = x.Dot(weights[c], bias[c])
		}
		if ml.Argmax(logits) == ex.class {
			report.Correct++
		}
	}

	model.Meta = &ml.TFIDFMeta{
		TrainedAt:     t.now().UTC(),
		Epochs:        t.Epochs,
		LearningRate:  t.LearningRate,
		VocabSize:     len(vocab),
		TrainExamples: report.Train,
		TestExamples:  report.Test,
		Skipped:       report.Skipped,
		WeakLabeled:   report.WeakLabeled,
		Accuracy:      report.Accuracy(),
		ClassCounts:   classCounts,
	}
	report.Model = model

	t.logger.Info("Evaluated multiclass model",
		zap.Int("test", report.Test),
		zap.Int("correct", report.Correct),
		zap.Float64("accuracy", report.Accuracy()))

	return report, nil
}

// buildVocabulary keeps the most frequent tokens; ties keep first-seen order
func buildVocabulary(train []example, size int) []string {
	counts := make(map[string]int)
	var order []string
	for _, ex := range train {
		for _, tok := range ex.tokens {
			if _, seen := counts[tok]; !seen {
				order = append(order, tok)
			}
			counts[tok]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if size > 0 && len(order) > size {
		order = order[:size]
	}
	return order
}

// computeIDF uses the smoothed ln((N+1)/(df+1)) + 1
func computeIDF(train []example, vocab []string) []float64 {
	index := ml.IndexVocabulary(vocab)
	df := make([]int, len(vocab))
	for _, ex := range train {
		seen := make(map[int]struct{})
		for _, tok := range ex.tokens {
			if i, ok := index[tok]; ok {
				if _, dup := seen[i]; !dup {
					seen[i] = struct{}{}
					df[i]++
				}
			}
		}
	}
	n := float64(len(train))
	idf := make([]float64, len(vocab))
	for i := range vocab {
		idf[i] = math.Log((n+1)/(float64(df[i])+1)) + 1
	}
	return idf
}
