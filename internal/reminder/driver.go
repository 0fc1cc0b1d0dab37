package reminder

import (
	"context"
	"time"

	"github.com/hackgods/clinic-booking-agent/internal/observability/metrics"
	"github.com/hackgods/clinic-booking-agent/pkg/logging"
)

// Driver is the single polling loop that fires due reminders.
type Driver struct {
	scheduler  *Scheduler
	interval   time.Duration
	runTimeout time.Duration
	metrics    *metrics.BookingMetrics
	logger     *logging.Logger
}

func NewDriver(s *Scheduler, interval time.Duration, m *metrics.BookingMetrics, logger *logging.Logger) *Driver {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Driver{
		scheduler:  s,
		interval:   interval,
		runTimeout: interval,
		metrics:    m,
		logger:     logger.Component("reminder-driver"),
	}
}

// Run processes once immediately, then on every tick until ctx is done.
func (d *Driver) Run(ctx context.Context) {
	d.logger.Info().Dur("interval", d.interval).Msg("reminder driver started")

	d.RunOnce(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("shutdown signal received, stopping reminder driver")
			return
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}

func (d *Driver) RunOnce(ctx context.Context) Result {
	runCtx, cancel := context.WithTimeout(ctx, d.runTimeout)
	defer cancel()

	start := time.Now()
	res, err := d.scheduler.ProcessDue(runCtx)
	d.metrics.ObserveDriverRun(time.Since(start).Seconds())
	if err != nil {
		d.logger.Error().Err(err).Msg("reminder run error")
		return res
	}
	d.logger.Info().
		Int("fired", res.Fired).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Int("expired", res.Expired).
		Dur("took", time.Since(start)).
		Msg("reminder run complete")
	return res
}
