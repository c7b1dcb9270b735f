package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/mikey/mail-risk/internal/core"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Narrator streams verdict narratives from Google Gemini
type Narrator struct {
	client      *genai.Client
	modelName   string
	maxTokens   int
	temperature float32
	topP        float32
	logger      *zap.Logger
}

// NewNarrator creates a new Gemini narrator
func NewNarrator(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	logger *zap.Logger,
) (*Narrator, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Narrator{
		client:      client,
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: temperature,
		topP:        topP,
		logger:      logger,
	}, nil
}

// Close closes the Gemini client
func (n *Narrator) Close() error {
	if n.client != nil {
		return n.client.Close()
	}
	return nil
}

// StreamNarrative starts a streamed generation for the prompt
func (n *Narrator) StreamNarrative(ctx context.Context, prompt core.NarrativePrompt) (core.TokenStream, error) {
	// A model handle per call keeps the system instruction request scoped.
	model := n.client.GenerativeModel(n.modelName)
	model.SetTemperature(n.temperature)
	model.SetTopP(n.topP)
	model.SetMaxOutputTokens(int32(n.maxTokens))
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(prompt.System)}}

	n.logger.Debug("Narrative stream opened",
		zap.String("provider", "gemini"),
		zap.String("model", n.modelName))

	return &contentStream{iter: model.GenerateContentStream(ctx, genai.Text(prompt.User))}, nil
}

// responseIterator is the subset of the genai iterator used by contentStream
type responseIterator interface {
	Next() (*genai.GenerateContentResponse, error)
}

type contentStream struct {
	iter responseIterator
	done bool
}

// Recv returns the text of the next non-empty response
func (s *contentStream) Recv() (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}
		resp, err := s.iter.Next()
		if errors.Is(err, iterator.Done) {
			s.done = true
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("gemini stream: %w", err)
		}
		if text := responseText(resp); text != "" {
			return text, nil
		}
	}
}

func (s *contentStream) Close() error {
	s.done = true
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}
