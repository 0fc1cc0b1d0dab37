package reminder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-booking-agent/internal/appointment"
	"github.com/hackgods/clinic-booking-agent/internal/events"
	"github.com/hackgods/clinic-booking-agent/internal/notify"
	"github.com/hackgods/clinic-booking-agent/internal/observability/metrics"
	"github.com/hackgods/clinic-booking-agent/internal/patient"
	redisclient "github.com/hackgods/clinic-booking-agent/internal/redis"
	"github.com/hackgods/clinic-booking-agent/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.reminder")

// Appointments is the slice of the allocator the scheduler needs.
type Appointments interface {
	Appointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ReleaseSlot(ctx context.Context, appt *appointment.Appointment) error
}

type Patients interface {
	FindByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// Result summarizes one driver pass.
type Result struct {
	Expired int
	Fired   int
	Failed  int
	Skipped int
}

// Scheduler owns the reminder ticket lifecycle. Firing, responses and
// cancellation for one appointment all run under the same appointment lock.
type Scheduler struct {
	store        Store
	appointments Appointments
	patients     Patients
	sender       notify.Sender
	locker       redisclient.Locker
	policy       Policy
	events       events.Recorder
	metrics      *metrics.BookingMetrics
	logger       *logging.Logger
	now          func() time.Time
}

type Option func(*Scheduler)

func WithEvents(r events.Recorder) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.events = r
		}
	}
}

func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(store Store, appts Appointments, patients Patients, sender notify.Sender, locker redisclient.Locker, policy Policy, opts ...Option) *Scheduler {
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.BatchSize <= 0 {
		policy.BatchSize = 100
	}
	s := &Scheduler{
		store:        store,
		appointments: appts,
		patients:     patients,
		sender:       sender,
		locker:       locker,
		policy:       policy,
		events:       events.Nop{},
		logger:       logging.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Component("reminder")
	return s
}

// RegisterAppointment creates the three tickets of a confirmed appointment.
// Registering twice is harmless. When the booking is so close that some
// tiers are already overdue, only the latest overdue tier fires now and the
// earlier ones are stored invalidated as superseded.
func (s *Scheduler) RegisterAppointment(ctx context.Context, appt *appointment.Appointment, p *patient.Patient) ([]Ticket, error) {
	if appt.Status != appointment.StatusConfirmed {
		return nil, fmt.Errorf("register reminders for %s appointment: %w", appt.Status, appointment.ErrInvalidStatusTransition)
	}
	now := s.now()
	if !appt.StartsAt.After(now) {
		return nil, fmt.Errorf("appointment %s already started", appt.ID)
	}

	latestOverdue := Tier(0)
	for _, tier := range Tiers {
		if !appt.StartsAt.Add(-s.policy.offset(tier)).After(now) {
			latestOverdue = tier
		}
	}

	tickets := make([]Ticket, 0, len(Tiers))
	for _, tier := range Tiers {
		t := Ticket{
			ID:              uuid.New(),
			AppointmentID:   appt.ID,
			PatientID:       appt.PatientID,
			Tier:            tier,
			FireAt:          appt.StartsAt.Add(-s.policy.offset(tier)),
			Channels:        s.policy.Channels,
			State:           StatePending,
			IntakeRequested: p != nil && p.IsNew(),
		}
		switch {
		case tier < latestOverdue:
			at := now
			t.InvalidatedAt = &at
			t.InvalidReason = "superseded"
		case tier == latestOverdue:
			t.FireAt = now
		}
		tickets = append(tickets, t)
	}

	stored, err := s.store.InsertTickets(ctx, tickets)
	if err != nil {
		return nil, fmt.Errorf("store reminder tickets: %w", err)
	}

	s.logEvent(ctx, appt.ID, events.ReminderRegistered, map[string]any{
		"fire_at": []time.Time{tickets[0].FireAt, tickets[1].FireAt, tickets[2].FireAt},
	})
	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Time("starts_at", appt.StartsAt).
		Int("tickets", len(stored)).
		Msg("reminders registered")
	return stored, nil
}

// ProcessDue expires tickets of started appointments, then fires every due
// ticket. Per-ticket failures are counted, not returned.
func (s *Scheduler) ProcessDue(ctx context.Context) (Result, error) {
	ctx, span := tracer.Start(ctx, "reminder.process_due")
	defer span.End()

	var res Result
	expired, err := s.ExpireUnanswered(ctx)
	if err != nil {
		return res, err
	}
	res.Expired = expired

	due, err := s.store.ListDue(ctx, s.now(), s.policy.MaxAttempts, s.policy.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list due tickets: %w", err)
	}

	for i := range due {
		t := &due[i]
		outcome, err := s.fire(ctx, t)
		if err != nil {
			res.Failed++
			s.logger.Error().Err(err).
				Str("ticket_id", t.ID.String()).
				Str("appointment_id", t.AppointmentID.String()).
				Msg("failed to fire reminder")
			continue
		}
		switch outcome {
		case fireSent:
			res.Fired++
		case fireFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}

	span.SetAttributes(
		attribute.Int("due", len(due)),
		attribute.Int("fired", res.Fired),
		attribute.Int("expired", res.Expired),
	)
	return res, nil
}

type fireOutcome int

const (
	fireSkipped fireOutcome = iota
	fireSent
	fireFailed
)

func (s *Scheduler) fire(ctx context.Context, due *Ticket) (fireOutcome, error) {
	outcome := fireSkipped
	err := s.locker.WithLock(ctx, redisclient.AppointmentKey(due.AppointmentID), func(lockCtx context.Context) error {
		// Inside the critical section re-read everything a cancel or reply may have changed
		t, err := s.store.Get(lockCtx, due.ID)
		if err != nil {
			return err
		}
		if !t.Open() || t.State != StatePending {
			return nil
		}
		appt, err := s.appointments.Appointment(lockCtx, t.AppointmentID)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		now := s.now()
		if appt.Status != appointment.StatusConfirmed || !appt.StartsAt.After(now) {
			return nil
		}

		if err := s.supersedeEarlier(lockCtx, t, now); err != nil {
			return err
		}

		p, err := s.patients.FindByID(lockCtx, appt.PatientID)
		if err != nil {
			return fmt.Errorf("load patient: %w", err)
		}

		sent, sendErr := s.deliver(lockCtx, t, appt, p)
		if sent == 0 {
			reason := "no deliverable channel"
			if sendErr != nil {
				reason = sendErr.Error()
			}
			attempts, err := s.store.RecordFailure(lockCtx, t.ID, reason)
			if err != nil {
				return err
			}
			outcome = fireFailed
			s.metrics.ObserveReminder(strconv.Itoa(int(t.Tier)), "failed")
			ev := s.logger.Warn()
			if attempts >= s.policy.MaxAttempts {
				ev = s.logger.Error()
			}
			ev.Str("ticket_id", t.ID.String()).
				Str("tier", t.Tier.String()).
				Int("attempts", attempts).
				Str("reason", reason).
				Msg("reminder not delivered")
			return nil
		}

		if err := s.store.MarkSent(lockCtx, t.ID, now); err != nil {
			return err
		}
		outcome = fireSent
		s.metrics.ObserveReminder(strconv.Itoa(int(t.Tier)), "sent")
		s.logEvent(lockCtx, t.AppointmentID, events.ReminderSent, map[string]any{
			"ticket_id": t.ID.String(),
			"tier":      int(t.Tier),
			"channels":  sent,
		})
		s.logger.Info().
			Str("ticket_id", t.ID.String()).
			Str("appointment_id", t.AppointmentID.String()).
			Str("tier", t.Tier.String()).
			Int("channels", sent).
			Msg("reminder sent")
		return nil
	})
	return outcome, err
}

// supersedeEarlier retires lower tiers that never went out so tiers are
// always sent in order.
func (s *Scheduler) supersedeEarlier(ctx context.Context, t *Ticket, now time.Time) error {
	siblings, err := s.store.ListByAppointment(ctx, t.AppointmentID)
	if err != nil {
		return fmt.Errorf("list sibling tickets: %w", err)
	}
	for i := range siblings {
		sib := &siblings[i]
		if sib.Tier < t.Tier && sib.State == StatePending && !sib.Invalidated() {
			if err := s.store.Supersede(ctx, sib.ID, "superseded", now); err != nil {
				return err
			}
		}
	}
	return nil
}

// deliver sends on every configured channel the patient can be reached on
// and returns how many succeeded.
func (s *Scheduler) deliver(ctx context.Context, t *Ticket, appt *appointment.Appointment, p *patient.Patient) (int, error) {
	recipient := notify.Recipient{Name: p.FullName, Email: p.Email, Phone: p.Phone}
	payload := s.payload(appt, p, t.IntakeRequested)

	var sent int
	var errs []error
	for _, ch := range t.Channels {
		if recipient.Address(ch) == "" {
			continue
		}
		if err := s.sender.Send(ctx, ch, recipient, t.Tier.TemplateID(), payload); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (s *Scheduler) payload(appt *appointment.Appointment, p *patient.Patient, intake bool) map[string]any {
	return map[string]any{
		notify.KeyPatientName:     p.FullName,
		notify.KeyAppointmentTime: appt.StartsAt.In(s.policy.Location).Format("Mon 2 Jan 2006 15:04 MST"),
		notify.KeyDoctor:          DisplayName(appt.DoctorID),
		notify.KeyLocation:        DisplayName(appt.Location),
		notify.KeyIntakeFormURL:   s.policy.IntakeFormURL,
		notify.KeyIsNewPatient:    intake,
	}
}

// ExpireUnanswered closes open tickets of appointments that have started.
func (s *Scheduler) ExpireUnanswered(ctx context.Context) (int, error) {
	expired, err := s.store.ExpireUnanswered(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("expire unanswered: %w", err)
	}
	for _, t := range expired {
		s.metrics.ObserveReminder(strconv.Itoa(int(t.Tier)), string(StateUnanswered))
		s.logEvent(ctx, t.AppointmentID, events.ReminderUnanswered, map[string]any{
			"ticket_id": t.ID.String(),
			"tier":      int(t.Tier),
		})
	}
	if len(expired) > 0 {
		s.logger.Info().Int("count", len(expired)).Msg("reminders expired unanswered")
	}
	return len(expired), nil
}

// HandleResponse records a patient's reply on the latest sent ticket. A
// decline cancels the appointment when the policy says so.
func (s *Scheduler) HandleResponse(ctx context.Context, r Response) (*Ticket, error) {
	state, note, err := ParseResponse(r.Text)
	if err != nil {
		s.metrics.ObserveResponse("unrecognized")
		return nil, err
	}

	appointmentID := r.AppointmentID
	if appointmentID == uuid.Nil {
		if strings.TrimSpace(r.From) == "" {
			return nil, ErrNoActiveTicket
		}
		t, err := s.store.LatestAwaitingByContact(ctx, strings.TrimSpace(r.From))
		if err != nil {
			return nil, err
		}
		appointmentID = t.AppointmentID
	}

	var updated *Ticket
	err = s.locker.WithLock(ctx, redisclient.AppointmentKey(appointmentID), func(lockCtx context.Context) error {
		t, err := s.store.LatestAwaiting(lockCtx, appointmentID)
		if err != nil {
			return err
		}
		now := s.now()
		if err := s.store.Respond(lockCtx, t.ID, state, note, now); err != nil {
			return err
		}
		t.State = state
		t.ResponseNote = note
		t.RespondedAt = &now
		updated = t

		s.logEvent(lockCtx, appointmentID, events.ReminderResponse, map[string]any{
			"ticket_id": t.ID.String(),
			"tier":      int(t.Tier),
			"state":     string(state),
			"note":      note,
		})

		if state == StateDeclined && s.policy.CancelOnDecline {
			reason := "patient_declined"
			if note != "" {
				reason += ": " + note
			}
			err := s.cancelLocked(lockCtx, appointmentID, reason)
			if errors.Is(err, appointment.ErrInvalidStatusTransition) {
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveResponse(string(state))
	s.logger.Info().
		Str("appointment_id", appointmentID.String()).
		Str("tier", updated.Tier.String()).
		Str("state", string(state)).
		Msg("reminder response recorded")
	return updated, nil
}

// CancelAppointment cancels the appointment and invalidates its open tickets
// in one critical section, so no reminder can fire after the cancel. An
// appointment that is not confirmed still has its tickets invalidated, and
// the call reports ErrInvalidStatusTransition.
func (s *Scheduler) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) error {
	return s.locker.WithLock(ctx, redisclient.AppointmentKey(id), func(lockCtx context.Context) error {
		return s.cancelLocked(lockCtx, id, reason)
	})
}

func (s *Scheduler) cancelLocked(ctx context.Context, id uuid.UUID, reason string) error {
	appt, err := s.appointments.Appointment(ctx, id)
	if err != nil {
		return err
	}
	wasConfirmed := appt.Status == appointment.StatusConfirmed
	if wasConfirmed {
		appt.CancelReason = reason
		if err := s.appointments.ReleaseSlot(ctx, appt); err != nil {
			return fmt.Errorf("release slot: %w", err)
		}
	}

	n, err := s.store.InvalidateForAppointment(ctx, id, reason, s.now())
	if err != nil {
		return err
	}
	if !wasConfirmed {
		return fmt.Errorf("cancel appointment %s in status %s: %w", id, appt.Status, appointment.ErrInvalidStatusTransition)
	}
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("reason", reason).
		Int("tickets_invalidated", n).
		Msg("appointment cancelled")
	return nil
}

func (s *Scheduler) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	if err := s.events.Record(ctx, events.New(eventType, appointmentID, payload)); err != nil {
		s.logger.Error().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to record event")
	}
}

// DisplayName turns an identifier like "dr-reed" into "Dr. Reed".
func DisplayName(slug string) string {
	parts := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	for i, p := range parts {
		if strings.EqualFold(p, "dr") {
			parts[i] = "Dr."
			continue
		}
		r, size := utf8.DecodeRuneInString(p)
		parts[i] = string(unicode.ToUpper(r)) + p[size:]
	}
	return strings.Join(parts, " ")
}
