package factory

import (
	"fmt"

	"github.com/mikey/mail-risk/internal/adapters/openai"
	"github.com/mikey/mail-risk/internal/adapters/template"
	"github.com/mikey/mail-risk/internal/config"
	"github.com/mikey/mail-risk/internal/core"
	"github.com/mikey/mail-risk/internal/utils"
	"go.uber.org/zap"
)

// NarrativeFactory creates narrative generators
type NarrativeFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewNarrativeFactory creates a new narrative factory
func NewNarrativeFactory(cfg *config.Config, logger *zap.Logger) *NarrativeFactory {
	return &NarrativeFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateNarrativeGenerator creates the generator selected by narrative.provider
func (f *NarrativeFactory) CreateNarrativeGenerator() (core.NarrativeGenerator, error) {
	narrativeCfg, err := f.cfg.GetNarrative()
	if err != nil {
		return nil, err
	}

	switch narrativeCfg.Provider {
	case "template":
		return template.NewNarrator(f.logger), nil
	case "groq":
		groq := f.cfg.GetGroq()
		baseURL := groq.BaseURL
		if baseURL == "" {
			baseURL = openai.GroqBaseURL
		}
		return openai.NewNarrator("groq", groq.APIKey, baseURL, groq.ModelName,
			groq.MaxTokens, groq.Temperature, groq.TopP, f.logger), nil
	case "openai":
		return NewOpenAIFactory(f.cfg, f.logger).CreateNarrativeGenerator()
	case "gemini":
		return NewGeminiFactory(f.cfg, f.logger).CreateNarrativeGenerator()
	case "bedrock":
		return NewBedrockFactory(f.cfg, f.logger).CreateNarrativeGenerator()
	default:
		return nil, fmt.Errorf("unsupported narrative provider: %s", narrativeCfg.Provider)
	}
}

// CreatePromptBuilder creates the prompt builder with the configured body limit
func (f *NarrativeFactory) CreatePromptBuilder() (*core.PromptBuilder, error) {
	narrativeCfg, err := f.cfg.GetNarrative()
	if err != nil {
		return nil, err
	}
	return core.NewPromptBuilder(utils.NewTextProcessor(f.logger), narrativeCfg.MaxBodySize, narrativeCfg.Language), nil
}
