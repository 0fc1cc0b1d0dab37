package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/clinic-booking-agent/internal/appointment"
	"github.com/hackgods/clinic-booking-agent/internal/booking"
	"github.com/hackgods/clinic-booking-agent/internal/reminder"
	"github.com/hackgods/clinic-booking-agent/internal/schedule"
	"github.com/hackgods/clinic-booking-agent/pkg/logging"
)

type SessionService interface {
	Start(ctx context.Context) (*booking.Session, booking.Reply, error)
	Handle(ctx context.Context, id uuid.UUID, text string) (booking.Reply, error)
	Get(ctx context.Context, id uuid.UUID) (*booking.Session, booking.Reply, error)
}

type SlotFinder interface {
	FindAvailableSlots(ctx context.Context, doctorID, location string, r schedule.DateRange, d time.Duration) ([]time.Time, error)
}

type ReminderService interface {
	CancelAppointment(ctx context.Context, id uuid.UUID, reason string) error
	HandleResponse(ctx context.Context, r reminder.Response) (*reminder.Ticket, error)
}

type Reports interface {
	ListRange(ctx context.Context, from, to time.Time) ([]appointment.ReportRow, error)
}

type RouterConfig struct {
	Sessions        SessionService
	Slots           SlotFinder
	Reminders       ReminderService
	Reports         Reports
	Checks          []Check
	Gatherer        prometheus.Gatherer
	AdminSecret     []byte
	WebhookSecret   []byte // signs POST /reminders/responses bodies
	Location        *time.Location
	DefaultDuration time.Duration // GET /slots when no duration is given
	Logger          *logging.Logger
	Env             string
	Version         string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	logger := cfg.Logger.Component("api")

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Post("/sessions", startSessionHandler(cfg.Sessions))
	r.Get("/sessions/{id}", getSessionHandler(cfg.Sessions))
	r.Post("/sessions/{id}/messages", postMessageHandler(cfg.Sessions))

	r.Get("/slots", listSlotsHandler(cfg.Slots, cfg.Location, cfg.DefaultDuration))
	r.With(WebhookSignature(cfg.WebhookSecret)).
		Post("/reminders/responses", reminderResponseHandler(cfg.Reminders))

	r.Group(func(r chi.Router) {
		r.Use(AdminAuth(cfg.AdminSecret))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Reminders, logger))
		r.Get("/admin/appointments/export", exportHandler(cfg.Reports, cfg.Location))
	})

	return r
}
