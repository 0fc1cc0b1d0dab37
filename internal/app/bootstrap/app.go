package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-booking-agent/internal/api"
	"github.com/hackgods/clinic-booking-agent/internal/appointment"
	"github.com/hackgods/clinic-booking-agent/internal/booking"
	"github.com/hackgods/clinic-booking-agent/internal/config"
	"github.com/hackgods/clinic-booking-agent/internal/db"
	"github.com/hackgods/clinic-booking-agent/internal/events"
	"github.com/hackgods/clinic-booking-agent/internal/notify"
	"github.com/hackgods/clinic-booking-agent/internal/observability/metrics"
	"github.com/hackgods/clinic-booking-agent/internal/observability/tracing"
	"github.com/hackgods/clinic-booking-agent/internal/patient"
	redisclient "github.com/hackgods/clinic-booking-agent/internal/redis"
	"github.com/hackgods/clinic-booking-agent/internal/reminder"
	"github.com/hackgods/clinic-booking-agent/internal/schedule"
	"github.com/hackgods/clinic-booking-agent/pkg/logging"
)

// App holds every long-lived component a binary may need. Build one with
// New and release it with Close.
type App struct {
	Config   config.Config
	Logger   *logging.Logger
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Registry *prometheus.Registry
	Metrics  *metrics.BookingMetrics
	Events   events.Recorder

	Schedules    *schedule.PgRepository
	Appointments *appointment.PgStore
	Patients     *patient.PgRepository
	Allocator    *appointment.Allocator
	Dispatcher   *notify.Dispatcher
	Scheduler    *reminder.Scheduler
	Conversation *booking.Conversation

	closers []func(context.Context) error
}

// New connects to Postgres and Redis and wires the booking, reminder and
// notification components on top of them.
func New(ctx context.Context, cfg config.Config, service string, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	shutdownTracing, err := tracing.Init(ctx, service, cfg.Env, cfg.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTracing)

	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	a.Pool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, MinConns: cfg.PGMinConns})
	cancelPg()
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { a.Pool.Close(); return nil })
	logger.Info().Msg("connected to postgres")

	a.Redis, err = redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		TLS:      cfg.RedisTLS,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.Redis.Close() })
	logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.NewBookingMetrics(a.Registry)

	if a.Events, err = a.buildEvents(); err != nil {
		return nil, err
	}

	loc := cfg.Location()
	locker := redisclient.NewRedisLocker(a.Redis, cfg.LockTTL, cfg.LockWait)

	a.Schedules = schedule.NewPgRepository(a.Pool, loc)
	a.Appointments = appointment.NewPgStore(a.Pool)
	a.Patients = patient.NewPgRepository(a.Pool)
	a.Allocator = appointment.NewAllocator(a.Schedules, a.Appointments, locker,
		appointment.Policy{Granularity: cfg.Slots.Granularity, Location: loc},
		appointment.WithEvents(a.Events),
		appointment.WithMetrics(a.Metrics),
		appointment.WithLogger(logger),
	)

	if a.Dispatcher, err = BuildDispatcher(ctx, cfg.Notify, a.Metrics, logger); err != nil {
		return nil, err
	}

	channels, err := notify.ParseChannels(cfg.Reminders.Channels)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	r := cfg.Reminders
	a.Scheduler = reminder.NewScheduler(reminder.NewPgStore(a.Pool), a.Allocator, a.Patients, a.Dispatcher, locker,
		reminder.Policy{
			Offsets:         [3]time.Duration{r.Tier1Offset, r.Tier2Offset, r.Tier3Offset},
			Channels:        channels,
			CancelOnDecline: r.CancelOnDecline,
			MaxAttempts:     r.MaxDeliveryAttempts,
			BatchSize:       r.BatchSize,
			Location:        loc,
			IntakeFormURL:   cfg.IntakeFormURL,
		},
		reminder.WithEvents(a.Events),
		reminder.WithMetrics(a.Metrics),
		reminder.WithLogger(logger),
	)

	extractor, err := BuildExtractor(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	workflow := booking.NewWorkflow(booking.Deps{
		Resolver: patient.NewResolver(a.Patients, patient.DurationPolicy{
			InitialConsult: cfg.Slots.InitialConsult,
			FollowUp:       cfg.Slots.FollowUp,
		}),
		Slots:     a.Allocator,
		Patients:  a.Patients,
		Reminders: a.Scheduler,
		Intake:    booking.NewIntakeDispatcher(a.Dispatcher, cfg.IntakeFormURL, loc, a.Events, logger),
		Canceller: a.Scheduler,
	}, booking.Policy{
		SearchWindowDays: cfg.Slots.SearchWindowDays,
		MaxProposals:     cfg.Slots.MaxProposals,
		ProposalTTL:      cfg.Slots.ProposalTTL,
		MaxUnrecognized:  cfg.MaxUnrecognized,
		Granularity:      cfg.Slots.Granularity,
		Location:         loc,
	}, booking.WithMetrics(a.Metrics), booking.WithLogger(logger))

	a.Conversation = booking.NewConversation(workflow, extractor,
		booking.NewRedisSessionStore(a.Redis, cfg.SessionTTL), locker, logger)

	ok = true
	return a, nil
}

// buildEvents always records to the event_logs table and additionally
// publishes to RabbitMQ when RABBITMQ_URL is set.
func (a *App) buildEvents() (events.Recorder, error) {
	pgLog := events.NewPgLog(a.Pool)
	if a.Config.RabbitMQURL == "" {
		return pgLog, nil
	}
	pub, err := events.NewAMQPPublisher(a.Config.RabbitMQURL, a.Config.EventsExchange)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
	a.Logger.Info().Str("exchange", a.Config.EventsExchange).Msg("publishing events to rabbitmq")
	return events.Multi{pgLog, pub}, nil
}

// Driver returns the periodic reminder driver.
func (a *App) Driver() *reminder.Driver {
	return reminder.NewDriver(a.Scheduler, a.Config.WorkerInterval, a.Metrics, a.Logger)
}

func (a *App) Checks() []api.Check {
	return []api.Check{
		{Name: "postgres", Critical: true, Probe: func(ctx context.Context) error { return a.Pool.Ping(ctx) }},
		{Name: "redis", Critical: true, Probe: func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }},
	}
}

func (a *App) Router(version string) http.Handler {
	return api.NewRouter(api.RouterConfig{
		Sessions:        a.Conversation,
		Slots:           a.Allocator,
		Reminders:       a.Scheduler,
		Reports:         a.Appointments,
		Checks:          a.Checks(),
		Gatherer:        a.Registry,
		AdminSecret:     []byte(a.Config.AdminJWTSecret),
		WebhookSecret:   []byte(a.Config.WebhookSecret),
		Location:        a.Config.Location(),
		DefaultDuration: a.Config.Slots.FollowUp,
		Logger:          a.Logger,
		Env:             a.Config.Env,
		Version:         version,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
