package notify

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hackgods/clinic-booking-agent/internal/observability/metrics"
	"github.com/hackgods/clinic-booking-agent/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.notify")

// Sender is the notification capability consumed by reminders and intake.
type Sender interface {
	Send(ctx context.Context, channel Channel, recipient Recipient, templateID string, payload map[string]any) error
}

type DispatcherConfig struct {
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Dispatcher renders a template and hands it to the channel's transport,
// retrying transient failures with exponential backoff.
type Dispatcher struct {
	email     EmailSender
	sms       SMSSender
	templates *Templates
	cfg       DispatcherConfig
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewDispatcher accepts nil transports; sends on that channel then fail with
// ErrChannelNotConfigured.
func NewDispatcher(email EmailSender, sms SMSSender, templates *Templates, cfg DispatcherConfig, m *metrics.BookingMetrics, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	if templates == nil {
		templates = DefaultTemplates()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Dispatcher{
		email:     email,
		sms:       sms,
		templates: templates,
		cfg:       cfg,
		metrics:   m,
		logger:    logger.Component("notify"),
		sleep:     sleepCtx,
	}
}

func (d *Dispatcher) Send(ctx context.Context, channel Channel, recipient Recipient, templateID string, payload map[string]any) error {
	ctx, span := tracer.Start(ctx, "notify.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("channel", string(channel)),
		attribute.String("template", templateID),
	)

	err := d.send(ctx, channel, recipient, templateID, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.metrics.ObserveNotifyFailure(string(channel), templateID)
		d.logger.Warn().Err(err).
			Str("channel", string(channel)).
			Str("template", templateID).
			Msg("notification not delivered")
	}
	return err
}

func (d *Dispatcher) send(ctx context.Context, channel Channel, recipient Recipient, templateID string, payload map[string]any) error {
	deliver, err := d.transport(channel)
	if err != nil {
		return err
	}
	addr := recipient.Address(channel)
	if addr == "" {
		return fmt.Errorf("%w: %s", ErrMissingAddress, channel)
	}
	subject, body, err := d.templates.Render(templateID, payload)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		lastErr = deliver(ctx, recipient, addr, subject, body)
		if lastErr == nil {
			return nil
		}
		if isPermanent(lastErr) || attempt == d.cfg.MaxAttempts {
			break
		}
		if err := d.sleep(ctx, d.backoff(attempt)); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}
	return fmt.Errorf("%w: %s via %s: %v", ErrNotificationFailure, templateID, channel, lastErr)
}

type deliverFunc func(ctx context.Context, r Recipient, addr, subject, body string) error

func (d *Dispatcher) transport(channel Channel) (deliverFunc, error) {
	switch channel {
	case ChannelEmail:
		if d.email == nil {
			break
		}
		return func(ctx context.Context, r Recipient, addr, subject, body string) error {
			return d.email.Send(ctx, EmailMessage{To: addr, ToName: r.Name, Subject: subject, Body: body})
		}, nil
	case ChannelSMS:
		if d.sms == nil {
			break
		}
		return func(ctx context.Context, _ Recipient, addr, _, body string) error {
			return d.sms.SendSMS(ctx, SMSMessage{To: addr, Body: body})
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrChannelNotConfigured, channel)
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	base := d.cfg.RetryBaseDelay
	if base <= 0 {
		return 0
	}
	delay := base << (attempt - 1)
	return delay + time.Duration(rand.Int63n(int64(base)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
