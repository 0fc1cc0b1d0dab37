package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("clinic.internal.intent")

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIExtractor asks an OpenAI-compatible chat endpoint (OpenRouter by
// default) to classify the message.
type OpenAIExtractor struct {
	client  chatClient
	model   string
	timeout time.Duration
}

// NewOpenRouterClient builds a go-openai client pointed at baseURL.
func NewOpenRouterClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func NewOpenAIExtractor(client chatClient, model string) *OpenAIExtractor {
	return &OpenAIExtractor{client: client, model: model, timeout: 20 * time.Second}
}

func (e *OpenAIExtractor) Parse(ctx context.Context, text string) (Intent, error) {
	if strings.TrimSpace(text) == "" {
		return Intent{}, ErrUnrecognized
	}
	ctx, span := tracer.Start(ctx, "intent.openai")
	defer span.End()
	span.SetAttributes(attribute.String("model", e.model))

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0,
	})
	if err != nil {
		span.RecordError(err)
		return Intent{}, fmt.Errorf("intent: openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		err := errors.New("intent: openai returned no choices")
		span.RecordError(err)
		return Intent{}, err
	}
	return decodeModelOutput(text, resp.Choices[0].Message.Content)
}
