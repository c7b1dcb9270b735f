package factory

import (
	"github.com/mikey/mail-risk/internal/adapters/gemini"
	"github.com/mikey/mail-risk/internal/config"
	"github.com/mikey/mail-risk/internal/core"
	"go.uber.org/zap"
)

// GeminiFactory creates Gemini narrators
type GeminiFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewGeminiFactory creates a new Gemini factory
func NewGeminiFactory(cfg *config.Config, logger *zap.Logger) *GeminiFactory {
	return &GeminiFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateNarrativeGenerator creates a Gemini narrator
func (f *GeminiFactory) CreateNarrativeGenerator() (core.NarrativeGenerator, error) {
	geminiCfg := f.cfg.GetGemini()

	return gemini.NewNarrator(
		geminiCfg.APIKey,
		geminiCfg.ModelName,
		geminiCfg.MaxTokens,
		geminiCfg.Temperature,
		geminiCfg.TopP,
		f.logger,
	)
}
