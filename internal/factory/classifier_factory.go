package factory

import (
	"fmt"

	"github.com/mikey/mail-risk/internal/config"
	"github.com/mikey/mail-risk/internal/ml"
	"go.uber.org/zap"
)

// ClassifierFactory creates the model loader
type ClassifierFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewClassifierFactory creates a new classifier factory
func NewClassifierFactory(cfg *config.Config, logger *zap.Logger) *ClassifierFactory {
	return &ClassifierFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateModelLoader creates a loader for model.path and loads the artifact.
// A missing or invalid artifact is a configuration error and fails startup.
func (f *ClassifierFactory) CreateModelLoader() (*ml.ModelLoader, error) {
	loader := ml.NewModelLoader(f.cfg.GetModel().Path, f.logger)
	if _, err := loader.Get(); err != nil {
		return nil, fmt.Errorf("failed to load classification model: %w", err)
	}
	return loader, nil
}
