package bootstrap

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/hackgods/clinic-booking-agent/internal/config"
	"github.com/hackgods/clinic-booking-agent/internal/intent"
	"github.com/hackgods/clinic-booking-agent/pkg/logging"
)

// BuildExtractor returns the configured language model extractor backed by
// the rule extractor, or the rules alone.
func BuildExtractor(ctx context.Context, cfg config.Config, logger *logging.Logger) (intent.Extractor, error) {
	rules := intent.NewRuleExtractor()

	switch cfg.Intent.Provider {
	case "openrouter":
		client := intent.NewOpenRouterClient(cfg.Intent.OpenRouterAPIKey, cfg.Intent.OpenRouterBaseURL)
		logger.Info().Str("model", cfg.Intent.OpenRouterModel).Msg("intent extraction via openrouter")
		return intent.NewChain(logger, intent.NewOpenAIExtractor(client, cfg.Intent.OpenRouterModel), rules), nil
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Notify.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		logger.Info().Str("model", cfg.Intent.BedrockModelID).Msg("intent extraction via bedrock")
		return intent.NewChain(logger, intent.NewBedrockExtractor(bedrockruntime.NewFromConfig(awsCfg), cfg.Intent.BedrockModelID), rules), nil
	default:
		return intent.NewChain(logger, rules), nil
	}
}
