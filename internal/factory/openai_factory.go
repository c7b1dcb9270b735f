package factory

import (
	"fmt"

	"github.com/mikey/mail-risk/internal/adapters/openai"
	"github.com/mikey/mail-risk/internal/config"
	"github.com/mikey/mail-risk/internal/core"
	"go.uber.org/zap"
)

// OpenAIFactory creates OpenAI narrators
type OpenAIFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewOpenAIFactory creates a new OpenAI factory
func NewOpenAIFactory(cfg *config.Config, logger *zap.Logger) *OpenAIFactory {
	return &OpenAIFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateNarrativeGenerator creates an OpenAI narrator
func (f *OpenAIFactory) CreateNarrativeGenerator() (core.NarrativeGenerator, error) {
	openaiCfg := f.cfg.GetOpenAI()
	if openaiCfg.APIKey == "" {
		return nil, fmt.Errorf("openai.api_key is required for the openai narrative provider")
	}

	return openai.NewNarrator(
		"openai",
		openaiCfg.APIKey,
		openaiCfg.BaseURL,
		openaiCfg.ModelName,
		openaiCfg.MaxTokens,
		openaiCfg.Temperature,
		openaiCfg.TopP,
		f.logger,
	), nil
}
