package bootstrap

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/hackgods/clinic-booking-agent/internal/config"
	"github.com/hackgods/clinic-booking-agent/internal/notify"
	"github.com/hackgods/clinic-booking-agent/internal/observability/metrics"
	"github.com/hackgods/clinic-booking-agent/pkg/logging"
)

// BuildEmailSender picks the email transport named by EMAIL_PROVIDER.
func BuildEmailSender(ctx context.Context, cfg config.NotifyConfig, logger *logging.Logger) (notify.EmailSender, error) {
	switch cfg.EmailProvider {
	case "sendgrid":
		return notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger), nil
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger), nil
	default:
		logger.Warn().Msg("no email provider configured; emails will only be logged")
		return notify.NewStubEmailSender(logger), nil
	}
}

func BuildSMSSender(cfg config.NotifyConfig, logger *logging.Logger) notify.SMSSender {
	if cfg.SMSProvider == "twilio" {
		return notify.NewTwilioSender(cfg.TwilioSID, cfg.TwilioToken, cfg.TwilioFrom, logger)
	}
	logger.Warn().Msg("no sms provider configured; texts will only be logged")
	return notify.NewStubSMSSender(logger)
}

// BuildDispatcher wires both transports behind the retrying template
// dispatcher shared by intake and reminders.
func BuildDispatcher(ctx context.Context, cfg config.NotifyConfig, m *metrics.BookingMetrics, logger *logging.Logger) (*notify.Dispatcher, error) {
	email, err := BuildEmailSender(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return notify.NewDispatcher(email, BuildSMSSender(cfg, logger), notify.DefaultTemplates(), notify.DispatcherConfig{
		MaxAttempts:    cfg.MaxAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
	}, m, logger), nil
}
