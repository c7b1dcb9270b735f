package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/mikey/mail-risk/internal/core"
	"go.uber.org/zap"
)

const anthropicVersion = "bedrock-2023-05-31"

// Narrator streams verdict narratives from Amazon Bedrock
type Narrator struct {
	client      *bedrockruntime.Client
	modelID     string
	maxTokens   int
	temperature float32
	topP        float32
	logger      *zap.Logger
}

// NewNarrator creates a new Bedrock narrator
func NewNarrator(
	client *bedrockruntime.Client,
	modelID string,
	maxTokens int,
	temperature float32,
	topP float32,
	logger *zap.Logger,
) *Narrator {
	return &Narrator{
		client:      client,
		modelID:     modelID,
		maxTokens:   maxTokens,
		temperature: temperature,
		topP:        topP,
		logger:      logger,
	}
}

// StreamNarrative invokes the model with a response stream
func (n *Narrator) StreamNarrative(ctx context.Context, prompt core.NarrativePrompt) (core.TokenStream, error) {
	payload, err := n.requestBody(prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	out, err := n.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(n.modelID),
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke Bedrock model: %w", err)
	}

	n.logger.Debug("Narrative stream opened",
		zap.String("provider", "bedrock"),
		zap.String("model", n.modelID))

	return &eventStream{events: out.GetStream()}, nil
}

func (n *Narrator) requestBody(prompt core.NarrativePrompt) ([]byte, error) {
	switch {
	case n.isAnthropicModel():
		return json.Marshal(map[string]interface{}{
			"anthropic_version": anthropicVersion,
			"max_tokens":        n.maxTokens,
			"temperature":       n.temperature,
			"top_p":             n.topP,
			"system":            prompt.System,
			"messages": []map[string]string{
				{"role": "user", "content": prompt.User},
			},
		})
	case n.isAmazonTitanModel():
		return json.Marshal(map[string]interface{}{
			"inputText": prompt.System + "\n\n" + prompt.User,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": n.maxTokens,
				"temperature":   n.temperature,
				"topP":          n.topP,
			},
		})
	default:
		return json.Marshal(map[string]interface{}{
			"prompt":      prompt.System + "\n\n" + prompt.User,
			"max_gen_len": n.maxTokens,
			"temperature": n.temperature,
			"top_p":       n.topP,
		})
	}
}

// isAnthropicModel checks if the model is an Anthropic Claude model
func (n *Narrator) isAnthropicModel() bool {
	return strings.HasPrefix(n.modelID, "anthropic.claude")
}

// isAmazonTitanModel checks if the model is an Amazon Titan model
func (n *Narrator) isAmazonTitanModel() bool {
	return strings.HasPrefix(n.modelID, "amazon.titan")
}

// streamReader is the subset of the Bedrock event stream used by eventStream
type streamReader interface {
	Events() <-chan types.ResponseStream
	Close() error
	Err() error
}

type eventStream struct {
	events streamReader
}

// Recv decodes payload chunks until one carries text
func (s *eventStream) Recv() (string, error) {
	for event := range s.events.Events() {
		chunk, ok := event.(*types.ResponseStreamMemberChunk)
		if !ok {
			continue
		}
		text, err := decodeChunk(chunk.Value.Bytes)
		if err != nil {
			return "", err
		}
		if text != "" {
			return text, nil
		}
	}
	if err := s.events.Err(); err != nil {
		return "", fmt.Errorf("bedrock stream: %w", err)
	}
	return "", io.EOF
}

func (s *eventStream) Close() error {
	return s.events.Close()
}

// streamChunk covers the chunk shapes of the supported model families
type streamChunk struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
	Completion string `json:"completion"`
	OutputText string `json:"outputText"`
	Generation string `json:"generation"`
}

func decodeChunk(data []byte) (string, error) {
	var c streamChunk
	if err := json.Unmarshal(data, &c); err != nil {
		return "", fmt.Errorf("failed to decode Bedrock chunk: %w", err)
	}
	switch {
	case c.Type == "content_block_delta":
		return c.Delta.Text, nil
	case c.Type != "":
		// message_start, message_stop and friends carry no text
		return "", nil
	case c.Completion != "":
		return c.Completion, nil
	case c.OutputText != "":
		return c.OutputText, nil
	default:
		return c.Generation, nil
	}
}
