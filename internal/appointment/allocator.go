package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hackgods/clinic-booking-agent/internal/events"
	"github.com/hackgods/clinic-booking-agent/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-booking-agent/internal/redis"
	"github.com/hackgods/clinic-booking-agent/internal/schedule"
	"github.com/hackgods/clinic-booking-agent/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.appointment")

// Policy fixes slot alignment. Starts are multiples of Granularity from
// midnight in Location.
type Policy struct {
	Granularity time.Duration
	Location    *time.Location
}

type ReserveRequest struct {
	DoctorID  string
	Location  string
	PatientID uuid.UUID
	Start     time.Time
	Duration  time.Duration
}

// Allocator proposes conflict-free slots and reserves them. It never
// mutates an appointment except through the Store.
type Allocator struct {
	schedules schedule.Repository
	store     Store
	locker    redisclient.Locker
	policy    Policy
	events    events.Recorder
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
	now       func() time.Time
}

type Option func(*Allocator)

func WithEvents(r events.Recorder) Option {
	return func(a *Allocator) {
		if r != nil {
			a.events = r
		}
	}
}

func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(a *Allocator) { a.metrics = m }
}

func WithLogger(l *logging.Logger) Option {
	return func(a *Allocator) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

func NewAllocator(schedules schedule.Repository, store Store, locker redisclient.Locker, policy Policy, opts ...Option) *Allocator {
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	if policy.Granularity <= 0 {
		policy.Granularity = 15 * time.Minute
	}
	a := &Allocator{
		schedules: schedules,
		store:     store,
		locker:    locker,
		policy:    policy,
		events:    events.Nop{},
		logger:    logging.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Component("allocator")
	return a
}

// FindAvailableSlots returns every aligned start in the range whose duration
// fits inside a working block without touching a confirmed booking, in
// chronological order. Starts before now are skipped.
func (a *Allocator) FindAvailableSlots(ctx context.Context, doctorID, location string, r schedule.DateRange, d time.Duration) ([]time.Time, error) {
	ctx, span := tracer.Start(ctx, "appointment.find_available_slots")
	defer span.End()
	span.SetAttributes(
		attribute.String("doctor_id", doctorID),
		attribute.String("location", location),
		attribute.String("duration", d.String()),
	)

	if d <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %s", d)
	}

	now := a.now()
	var starts []time.Time
	for _, day := range r.Days(a.policy.Location) {
		free, err := a.freeIntervals(ctx, doctorID, location, day)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		for _, f := range free {
			for start := a.alignUp(f.Start, day); !start.Add(d).After(f.End); start = start.Add(a.policy.Granularity) {
				if start.Before(now) {
					continue
				}
				starts = append(starts, start)
			}
		}
	}
	span.SetAttributes(attribute.Int("candidates", len(starts)))
	return starts, nil
}

func (a *Allocator) freeIntervals(ctx context.Context, doctorID, location string, day time.Time) ([]schedule.Interval, error) {
	blocks, err := a.schedules.WorkingBlocks(ctx, doctorID, location, day)
	if err != nil {
		return nil, fmt.Errorf("load working blocks: %w", err)
	}
	if len(blocks) == 0 {
		return nil, nil
	}
	busy, err := a.store.ConfirmedIntervals(ctx, doctorID, location, dayWindow(day))
	if err != nil {
		return nil, fmt.Errorf("load confirmed intervals: %w", err)
	}
	return schedule.Subtract(blocks, busy), nil
}

// ReserveSlot re-validates the slot and inserts a confirmed appointment inside
// the (doctor, location) critical section. Losing a race yields ErrSlotConflict.
func (a *Allocator) ReserveSlot(ctx context.Context, req ReserveRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.reserve_slot")
	defer span.End()
	span.SetAttributes(
		attribute.String("doctor_id", req.DoctorID),
		attribute.String("location", req.Location),
		attribute.String("start", req.Start.Format(time.RFC3339)),
	)

	appt, err := a.reserve(ctx, req)
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrSlotConflict) {
			outcome = "conflict"
		}
		a.metrics.ObserveReservation(outcome)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	a.metrics.ObserveReservation("confirmed")
	span.SetAttributes(attribute.String("appointment_id", appt.ID.String()))
	return appt, nil
}

func (a *Allocator) reserve(ctx context.Context, req ReserveRequest) (*Appointment, error) {
	if req.Duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %s", req.Duration)
	}
	day := schedule.StartOfDay(req.Start, a.policy.Location)
	if !a.aligned(req.Start, day) {
		return nil, ErrMisalignedSlot
	}
	if req.Start.Before(a.now()) {
		return nil, ErrSlotInPast
	}

	want := schedule.NewInterval(req.Start, req.Duration)
	var created *Appointment

	err := a.locker.WithLock(ctx, redisclient.SlotKey(req.DoctorID, req.Location), func(lockCtx context.Context) error {
		blocks, err := a.schedules.WorkingBlocks(lockCtx, req.DoctorID, req.Location, day)
		if err != nil {
			return fmt.Errorf("load working blocks: %w", err)
		}
		if !anyContains(blocks, want) {
			return ErrOutsideWorkingHours
		}

		// Inside the critical section re-check against confirmed bookings
		busy, err := a.store.ConfirmedIntervals(lockCtx, req.DoctorID, req.Location, want)
		if err != nil {
			return fmt.Errorf("load confirmed intervals: %w", err)
		}
		for _, b := range busy {
			if b.Overlaps(want) {
				return ErrSlotConflict
			}
		}

		appt := &Appointment{
			ID:        uuid.New(),
			DoctorID:  req.DoctorID,
			PatientID: req.PatientID,
			Location:  req.Location,
			StartsAt:  req.Start,
			Duration:  req.Duration,
			Status:    StatusProposed,
		}
		if err := a.store.Insert(lockCtx, appt); err != nil {
			if errors.Is(err, ErrSlotConflict) {
				return err
			}
			return fmt.Errorf("insert appointment: %w", err)
		}
		created = appt

		a.logEvent(lockCtx, appt.ID, events.AppointmentConfirmed, map[string]any{
			"doctor_id":  appt.DoctorID,
			"location":   appt.Location,
			"patient_id": appt.PatientID.String(),
			"starts_at":  appt.StartsAt,
			"ends_at":    appt.EndsAt(),
		})
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotConflict
		}
		return nil, err
	}

	a.logger.Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", created.DoctorID).
		Str("location", created.Location).
		Time("starts_at", created.StartsAt).
		Msg("slot reserved")
	return created, nil
}

// ReleaseSlot cancels the appointment so its interval can be allocated again.
// Releasing an already cancelled appointment is a no-op.
func (a *Allocator) ReleaseSlot(ctx context.Context, appt *Appointment) error {
	reason := appt.CancelReason
	if reason == "" {
		reason = "released"
	}
	cancelled, err := a.store.Cancel(ctx, appt.ID, reason)
	if errors.Is(err, ErrInvalidStatusTransition) {
		return nil
	}
	if err != nil {
		return err
	}
	*appt = *cancelled

	a.logEvent(ctx, appt.ID, events.AppointmentCancelled, map[string]any{
		"reason":    reason,
		"doctor_id": appt.DoctorID,
		"starts_at": appt.StartsAt,
	})
	a.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("reason", reason).
		Msg("slot released")
	return nil
}

func (a *Allocator) Appointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return a.store.Get(ctx, id)
}

func (a *Allocator) alignUp(t, day time.Time) time.Time {
	g := a.policy.Granularity
	if g <= 0 {
		return t
	}
	if rem := t.Sub(day) % g; rem != 0 {
		return t.Add(g - rem)
	}
	return t
}

func (a *Allocator) aligned(t, day time.Time) bool {
	if a.policy.Granularity <= 0 {
		return true
	}
	return t.Sub(day)%a.policy.Granularity == 0
}

func (a *Allocator) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	if err := a.events.Record(ctx, events.New(eventType, appointmentID, payload)); err != nil {
		a.logger.Error().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to record event")
	}
}

func anyContains(blocks []schedule.Interval, want schedule.Interval) bool {
	for _, b := range schedule.Merge(blocks) {
		if b.Contains(want) {
			return true
		}
	}
	return false
}

func dayWindow(day time.Time) schedule.Interval {
	return schedule.Interval{Start: day, End: day.AddDate(0, 0, 1)}
}
