package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type converseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockExtractor classifies messages with a Bedrock model via Converse.
type BedrockExtractor struct {
	api     converseAPI
	modelID string
}

func NewBedrockExtractor(api converseAPI, modelID string) *BedrockExtractor {
	return &BedrockExtractor{api: api, modelID: modelID}
}

func (e *BedrockExtractor) Parse(ctx context.Context, text string) (Intent, error) {
	if strings.TrimSpace(text) == "" {
		return Intent{}, ErrUnrecognized
	}
	ctx, span := tracer.Start(ctx, "intent.bedrock")
	defer span.End()

	out, err := e.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(e.modelID),
		System:  []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: systemPrompt}},
		Messages: []brtypes.Message{{
			Role:    brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
		}},
		InferenceConfig: &brtypes.InferenceConfiguration{
			Temperature: aws.Float32(0),
			MaxTokens:   aws.Int32(300),
		},
	})
	if err != nil {
		span.RecordError(err)
		return Intent{}, fmt.Errorf("intent: bedrock converse failed: %w", err)
	}

	reply, err := outputText(out)
	if err != nil {
		return Intent{}, err
	}
	return decodeModelOutput(text, reply)
}

func outputText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", errors.New("intent: bedrock response is nil")
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("intent: bedrock response did not include a message output")
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*brtypes.ContentBlockMemberText); ok {
			b.WriteString(t.Value)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", errors.New("intent: bedrock response contained no text")
	}
	return b.String(), nil
}
