package ml

import (
	"context"
	"fmt"
	"sync"

	"github.com/mikey/mail-risk/internal/core"
	"go.uber.org/zap"
)

// Classifier applies a loaded artifact. The variant is chosen once, when it is built.
type Classifier struct {
	kind     ModelKind
	classify func(subject, body string) *core.ClassificationResult
}

// NewClassifier binds the classification function matching the artifact kind
func NewClassifier(a *Artifact) (*Classifier, error) {
	switch {
	case a == nil:
		return nil, fmt.Errorf("%w: nil artifact", ErrModelConfig)
	case a.Kind == KindHashedPerceptron && a.Hashed != nil:
		m := a.Hashed
		return &Classifier{kind: a.Kind, classify: func(subject, body string) *core.ClassificationResult {
			return ClassifyHashed(m, subject, body)
		}}, nil
	case a.Kind == KindTFIDFPerceptron && a.TFIDF != nil:
		c := newTFIDFClassifier(a.TFIDF)
		return &Classifier{kind: a.Kind, classify: c.classify}, nil
	default:
		return nil, fmt.Errorf("%w: artifact kind %q has no model", ErrModelConfig, a.Kind)
	}
}

// Kind returns the model variant
func (c *Classifier) Kind() ModelKind {
	return c.kind
}

// Classify scores subject and body
func (c *Classifier) Classify(_ context.Context, subject, body string) (*core.ClassificationResult, error) {
	return c.classify(subject, body), nil
}

// ModelLoader loads the artifact at most once and shares the classifier process-wide.
// A failed load is remembered; the artifact is only read again after Invalidate.
type ModelLoader struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	done    bool
	loaded  *Classifier
	loadErr error
}

// NewModelLoader creates a loader for the artifact at path
func NewModelLoader(path string, logger *zap.Logger) *ModelLoader {
	return &ModelLoader{path: path, logger: logger}
}

// Path returns the configured artifact location
func (l *ModelLoader) Path() string {
	return l.path
}

// Get returns the cached classifier or the cached load error
func (l *ModelLoader) Get() (*Classifier, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.done {
		l.loaded, l.loadErr = l.load()
		l.done = true
	}
	return l.loaded, l.loadErr
}

func (l *ModelLoader) load() (*Classifier, error) {
	artifact, err := LoadModel(l.path)
	if err != nil {
		l.logger.Error("Failed to load classification model", zap.String("path", l.path), zap.Error(err))
		return nil, err
	}
	clf, err := NewClassifier(artifact)
	if err != nil {
		l.logger.Error("Invalid classification model", zap.String("path", l.path), zap.Error(err))
		return nil, err
	}

	l.logger.Info("Loaded classification model",
		zap.String("path", l.path),
		zap.String("kind", string(clf.kind)))
	return clf, nil
}

// Invalidate drops the cached classifier or error so the next Get reads the artifact again
func (l *ModelLoader) Invalidate() {
	l.mu.Lock()
	l.done = false
	l.loaded = nil
	l.loadErr = nil
	l.mu.Unlock()
}

// Classify loads the model on demand and scores subject and body
func (l *ModelLoader) Classify(ctx context.Context, subject, body string) (*core.ClassificationResult, error) {
	clf, err := l.Get()
	if err != nil {
		return nil, err
	}
	return clf.Classify(ctx, subject, body)
}
