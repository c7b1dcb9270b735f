package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mikey/mail-risk/internal/core"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// GroqBaseURL is the OpenAI compatible endpoint of Groq
const GroqBaseURL = "https://api.groq.com/openai/v1"

// Narrator streams verdict narratives from an OpenAI compatible chat API
type Narrator struct {
	client      *openai.Client
	provider    string
	modelName   string
	maxTokens   int
	temperature float32
	topP        float32
	logger      *zap.Logger
}

// NewNarrator creates a narrator. An empty baseURL targets api.openai.com.
func NewNarrator(
	provider string,
	apiKey string,
	baseURL string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	logger *zap.Logger,
) *Narrator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &Narrator{
		client:      openai.NewClientWithConfig(cfg),
		provider:    provider,
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: temperature,
		topP:        topP,
		logger:      logger,
	}
}

// StreamNarrative opens a streamed chat completion for the prompt
func (n *Narrator) StreamNarrative(ctx context.Context, prompt core.NarrativePrompt) (core.TokenStream, error) {
	req := openai.ChatCompletionRequest{
		Model: n.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: prompt.System,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt.User,
			},
		},
		MaxTokens:   n.maxTokens,
		Temperature: n.temperature,
		TopP:        n.topP,
		Stream:      true,
	}

	stream, err := n.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s chat stream: %w", n.provider, err)
	}

	n.logger.Debug("Narrative stream opened",
		zap.String("provider", n.provider),
		zap.String("model", n.modelName))

	return &chatStream{stream: stream, provider: n.provider}, nil
}

type chatStream struct {
	stream   *openai.ChatCompletionStream
	provider string
}

// Recv returns the next non-empty content delta
func (s *chatStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("%s stream: %w", s.provider, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

func (s *chatStream) Close() error {
	return s.stream.Close()
}
