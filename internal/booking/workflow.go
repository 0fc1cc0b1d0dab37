package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-booking-agent/internal/appointment"
	"github.com/hackgods/clinic-booking-agent/internal/intent"
	"github.com/hackgods/clinic-booking-agent/internal/observability/metrics"
	"github.com/hackgods/clinic-booking-agent/internal/patient"
	"github.com/hackgods/clinic-booking-agent/internal/reminder"
	"github.com/hackgods/clinic-booking-agent/internal/schedule"
	"github.com/hackgods/clinic-booking-agent/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.booking")

type Resolver interface {
	Resolve(ctx context.Context, name string, dob time.Time) (*patient.Resolution, error)
}

type Slots interface {
	FindAvailableSlots(ctx context.Context, doctorID, location string, r schedule.DateRange, d time.Duration) ([]time.Time, error)
	ReserveSlot(ctx context.Context, req appointment.ReserveRequest) (*appointment.Appointment, error)
}

type PatientSaver interface {
	Save(ctx context.Context, p *patient.Patient) error
}

type Reminders interface {
	RegisterAppointment(ctx context.Context, appt *appointment.Appointment, p *patient.Patient) ([]reminder.Ticket, error)
}

type Intake interface {
	Dispatch(ctx context.Context, p *patient.Patient, appt *appointment.Appointment) error
}

// Canceller releases an appointment that was reserved before the session
// was abandoned.
type Canceller interface {
	CancelAppointment(ctx context.Context, id uuid.UUID, reason string) error
}

type Deps struct {
	Resolver  Resolver
	Slots     Slots
	Patients  PatientSaver
	Reminders Reminders
	Intake    Intake
	Canceller Canceller
}

type Policy struct {
	SearchWindowDays int
	MaxProposals     int
	ProposalTTL      time.Duration
	MaxUnrecognized  int
	Granularity      time.Duration
	Location         *time.Location
}

// Workflow drives a Session through the booking states. It holds no
// per-session state itself.
type Workflow struct {
	deps    Deps
	policy  Policy
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
	now     func() time.Time
}

type Option func(*Workflow)

func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

func WithLogger(l *logging.Logger) Option {
	return func(w *Workflow) {
		if l != nil {
			w.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

func NewWorkflow(deps Deps, policy Policy, opts ...Option) *Workflow {
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	if policy.SearchWindowDays <= 0 {
		policy.SearchWindowDays = 14
	}
	if policy.MaxProposals <= 0 {
		policy.MaxProposals = 5
	}
	if policy.Granularity <= 0 {
		policy.Granularity = 15 * time.Minute
	}
	w := &Workflow{
		deps:   deps,
		policy: policy,
		logger: logging.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Component("booking")
	return w
}

// maxHops bounds automatic advancement within one step.
const maxHops = 8

// Step applies one recognized intent and advances through any states that
// need no user input. On error the session keeps whatever progress was made,
// so a retry resumes from the failed state.
func (w *Workflow) Step(ctx context.Context, s *Session, in intent.Intent) (Reply, error) {
	if s.State.Terminal() {
		return Reply{}, ErrTerminalSession
	}
	ctx, span := tracer.Start(ctx, "booking.step")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", s.ID.String()), attribute.String("intent", string(in.Kind)))

	s.Unrecognized = 0
	defer func() { s.UpdatedAt = w.now() }()

	if in.Kind == intent.KindCancel {
		if err := w.cancel(ctx, s, "patient_cancelled"); err != nil {
			return Reply{}, err
		}
		return w.reply(s, msgCancelled), nil
	}

	w.absorb(s, in)

	var text string
	for hop := 0; hop < maxHops; hop++ {
		var advance bool
		var err error
		text, advance, err = w.handle(ctx, s, in)
		if err != nil {
			span.RecordError(err)
			return w.reply(s, text), err
		}
		if !advance {
			break
		}
		in = intent.Intent{}
	}
	span.SetAttributes(attribute.String("state", string(s.State)))
	return w.reply(s, text), nil
}

// Unrecognized records a message the extractor could not understand. After
// MaxUnrecognized in a row the session is handed off to staff.
func (w *Workflow) Unrecognized(ctx context.Context, s *Session) (Reply, error) {
	if s.State.Terminal() {
		return Reply{}, ErrTerminalSession
	}
	defer func() { s.UpdatedAt = w.now() }()

	s.Unrecognized++
	if w.policy.MaxUnrecognized > 0 && s.Unrecognized >= w.policy.MaxUnrecognized {
		s.Escalated = true
		if err := w.cancel(ctx, s, "escalated"); err != nil {
			return Reply{}, err
		}
		w.logger.Warn().
			Str("session_id", s.ID.String()).
			Int("unrecognized", s.Unrecognized).
			Msg("session escalated to staff")
		return w.reply(s, msgEscalated), nil
	}
	return w.reply(s, msgRephrase+w.prompt(s)), nil
}

// Prompt returns what the session is currently waiting for.
func (w *Workflow) Prompt(s *Session) Reply {
	return w.reply(s, w.prompt(s))
}

func (w *Workflow) handle(ctx context.Context, s *Session, in intent.Intent) (string, bool, error) {
	switch s.State {
	case StateCollectingIdentity:
		return w.collectIdentity(s)
	case StateResolvingPatient:
		return w.resolvePatient(ctx, s)
	case StateCollectingPreferences:
		return w.collectPreferences(s, in)
	case StateProposingSlots:
		return w.proposing(ctx, s, in)
	case StateAwaitingConfirmation:
		return w.awaitingConfirmation(ctx, s, in)
	case StateConfirmed:
		return w.complete(ctx, s)
	}
	return "", false, fmt.Errorf("%w: no handler for %s", ErrInvalidTransition, s.State)
}

// absorb copies the fields a message carries into the session. Identity is
// only accepted before resolution; preferences only until a slot is chosen.
func (w *Workflow) absorb(s *Session, in intent.Intent) {
	if s.State == StateCollectingIdentity {
		if in.FullName != "" {
			s.FullName = patient.NormalizeName(in.FullName)
		}
		if !in.DOB.IsZero() {
			s.DOB = in.DOB
		}
	}
	switch s.State {
	case StateCollectingIdentity, StateCollectingPreferences, StateProposingSlots:
		if in.Doctor != "" {
			s.Doctor = intent.Slug(in.Doctor)
		}
		if in.Location != "" {
			s.Location = intent.Slug(in.Location)
		}
		if !in.Date.IsZero() {
			s.SearchFrom = in.Date
		}
	}
	if s.State != StateConfirmed {
		if in.Email != "" {
			s.Email = in.Email
		}
		if in.Phone != "" {
			s.Phone = in.Phone
		}
	}
}

func (w *Workflow) collectIdentity(s *Session) (string, bool, error) {
	if s.FullName == "" || s.DOB.IsZero() {
		return identityPrompt(s), false, nil
	}
	if err := w.move(s, StateResolvingPatient); err != nil {
		return "", false, err
	}
	return "", true, nil
}

func (w *Workflow) resolvePatient(ctx context.Context, s *Session) (string, bool, error) {
	res, err := w.deps.Resolver.Resolve(ctx, s.FullName, s.DOB)
	if errors.Is(err, patient.ErrAmbiguousPatient) {
		s.DOB = time.Time{}
		if err := w.move(s, StateCollectingIdentity); err != nil {
			return "", false, err
		}
		return fmt.Sprintf(msgAmbiguous, s.FullName), false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve patient: %w", err)
	}

	s.Patient = res.Patient
	s.Classification = res.Classification
	s.Duration = res.Duration

	if !s.isNewPatient() {
		p := res.Patient
		if !s.hasContact() {
			s.Email, s.Phone = p.Email, p.Phone
		}
		if p.HasPreferences() && s.Doctor == "" && s.Location == "" {
			s.Doctor, s.Location = p.PreferredDoctor, p.PreferredLocation
			s.OfferingPreferences = true
		}
	}

	w.logger.Info().
		Str("session_id", s.ID.String()).
		Str("patient_id", s.Patient.ID.String()).
		Str("classification", string(s.Classification)).
		Dur("duration", s.Duration).
		Msg("patient resolved")

	if err := w.move(s, StateCollectingPreferences); err != nil {
		return "", false, err
	}
	return "", true, nil
}

func (w *Workflow) collectPreferences(s *Session, in intent.Intent) (string, bool, error) {
	if s.OfferingPreferences {
		switch {
		case in.Kind == intent.KindAffirm:
			s.OfferingPreferences = false
		case in.Kind == intent.KindDeny:
			s.Doctor, s.Location = "", ""
			s.OfferingPreferences = false
		case in.Doctor != "" || in.Location != "":
			s.OfferingPreferences = false
		default:
			return preferencesPrompt(s), false, nil
		}
	}

	if s.Doctor == "" || s.Location == "" || !s.hasContact() {
		return preferencesPrompt(s), false, nil
	}
	if err := w.move(s, StateProposingSlots); err != nil {
		return "", false, err
	}
	return "", true, nil
}

func (w *Workflow) proposing(ctx context.Context, s *Session, in intent.Intent) (string, bool, error) {
	switch {
	case in.Kind == "":
		return w.propose(ctx, s, "")

	case in.Kind == intent.KindSelect:
		if errors.Is(w.checkFresh(s), ErrProposalStale) {
			return w.backToProposals(ctx, s, msgStale)
		}
		t, ok := w.pick(s, in)
		if !ok {
			return msgNoMatch + w.proposalList(s), false, nil
		}
		s.Selected = &t
		if err := w.move(s, StateAwaitingConfirmation); err != nil {
			return "", false, err
		}
		return w.confirmPrompt(s), false, nil

	case in.Kind == intent.KindMoreSlots || in.Kind == intent.KindDeny:
		if in.Date.IsZero() && len(s.Proposals) > 0 {
			s.SearchFrom = s.Proposals[len(s.Proposals)-1].Add(w.policy.Granularity)
		}
		return w.backToProposals(ctx, s, "")

	case in.Doctor != "" || in.Location != "" || !in.Date.IsZero():
		return w.backToProposals(ctx, s, "")
	}
	return w.proposalList(s), false, nil
}

func (w *Workflow) awaitingConfirmation(ctx context.Context, s *Session, in intent.Intent) (string, bool, error) {
	switch in.Kind {
	case intent.KindAffirm:
		if errors.Is(w.checkFresh(s), ErrProposalStale) {
			return w.backToProposals(ctx, s, msgStale)
		}
		appt, err := w.deps.Slots.ReserveSlot(ctx, appointment.ReserveRequest{
			DoctorID:  s.Doctor,
			Location:  s.Location,
			PatientID: s.Patient.ID,
			Start:     *s.Selected,
			Duration:  s.Duration,
		})
		switch {
		case errors.Is(err, appointment.ErrSlotConflict),
			errors.Is(err, appointment.ErrSlotInPast),
			errors.Is(err, appointment.ErrOutsideWorkingHours):
			w.logger.Info().
				Str("session_id", s.ID.String()).
				Time("start", *s.Selected).
				Err(err).
				Msg("selected slot no longer available, re-proposing")
			return w.backToProposals(ctx, s, msgTaken)
		case err != nil:
			return "", false, fmt.Errorf("reserve slot: %w", err)
		}
		s.Appointment = appt
		if err := w.move(s, StateConfirmed); err != nil {
			return "", false, err
		}
		return "", true, nil

	case intent.KindDeny:
		s.Selected = nil
		if err := w.move(s, StateProposingSlots); err != nil {
			return "", false, err
		}
		return w.proposalList(s), false, nil

	case intent.KindSelect, intent.KindMoreSlots:
		s.Selected = nil
		if err := w.move(s, StateProposingSlots); err != nil {
			return "", false, err
		}
		return w.proposing(ctx, s, in)
	}
	return w.confirmPrompt(s), false, nil
}

// complete persists the patient, sends intake and registers reminders. Each
// piece is flagged on the session so a retry after a failure never repeats
// a finished one.
func (w *Workflow) complete(ctx context.Context, s *Session) (string, bool, error) {
	p := *s.Patient
	p.Email, p.Phone = s.Email, s.Phone
	p.PreferredDoctor, p.PreferredLocation = s.Doctor, s.Location

	if !s.PatientSaved {
		if err := w.deps.Patients.Save(ctx, &p); err != nil {
			return msgRetryLater, false, fmt.Errorf("save patient: %w", err)
		}
		s.PatientSaved = true
		s.Patient = &p
	}

	if !s.IntakeDispatched {
		s.IntakeDispatched = true
		if err := w.deps.Intake.Dispatch(ctx, &p, s.Appointment); err != nil {
			w.logger.Warn().Err(err).
				Str("session_id", s.ID.String()).
				Str("appointment_id", s.Appointment.ID.String()).
				Msg("intake packet not delivered")
		}
	}

	if !s.RemindersRegistered {
		if _, err := w.deps.Reminders.RegisterAppointment(ctx, s.Appointment, &p); err != nil {
			return msgRetryLater, false, fmt.Errorf("register reminders: %w", err)
		}
		s.RemindersRegistered = true
	}

	if err := w.move(s, StateCompleted); err != nil {
		return "", false, err
	}
	return w.completedText(s), false, nil
}

func (w *Workflow) cancel(ctx context.Context, s *Session, reason string) error {
	if s.State == StateConfirmed && s.Appointment != nil && w.deps.Canceller != nil {
		if err := w.deps.Canceller.CancelAppointment(ctx, s.Appointment.ID, reason); err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}
	}
	if err := w.move(s, StateCancelled); err != nil {
		return err
	}
	s.CancelReason = reason
	return nil
}

func (w *Workflow) backToProposals(ctx context.Context, s *Session, prefix string) (string, bool, error) {
	if err := w.move(s, StateProposingSlots); err != nil {
		return "", false, err
	}
	s.clearProposals()
	return w.propose(ctx, s, prefix)
}

// propose fetches a fresh candidate set from SearchFrom (or now) across the
// search window.
func (w *Workflow) propose(ctx context.Context, s *Session, prefix string) (string, bool, error) {
	now := w.now()
	from := s.SearchFrom
	if from.Before(now) {
		from = now
	}
	window := schedule.DateRange{From: from, To: from.AddDate(0, 0, w.policy.SearchWindowDays-1)}

	slots, err := w.deps.Slots.FindAvailableSlots(ctx, s.Doctor, s.Location, window, s.Duration)
	if err != nil {
		return "", false, fmt.Errorf("find slots: %w", err)
	}

	proposals := make([]time.Time, 0, w.policy.MaxProposals)
	for _, t := range slots {
		if t.Before(from) {
			continue
		}
		proposals = append(proposals, t)
		if len(proposals) == w.policy.MaxProposals {
			break
		}
	}
	s.Proposals = proposals
	s.ProposedAt = now
	s.Selected = nil

	if len(proposals) == 0 {
		return prefix + fmt.Sprintf(msgNoSlots,
			reminder.DisplayName(s.Doctor), reminder.DisplayName(s.Location),
			w.day(window.From), w.day(window.To)), false, nil
	}
	return prefix + w.proposalList(s), false, nil
}

func (w *Workflow) checkFresh(s *Session) error {
	if w.policy.ProposalTTL > 0 && w.now().Sub(s.ProposedAt) > w.policy.ProposalTTL {
		return ErrProposalStale
	}
	return nil
}

// pick matches a selection by number or by clock time, optionally narrowed
// to a date.
func (w *Workflow) pick(s *Session, in intent.Intent) (time.Time, bool) {
	if in.Choice > 0 {
		if in.Choice <= len(s.Proposals) {
			return s.Proposals[in.Choice-1], true
		}
		return time.Time{}, false
	}
	if in.Clock == "" {
		return time.Time{}, false
	}
	for _, t := range s.Proposals {
		local := t.In(w.policy.Location)
		if local.Format("15:04") != in.Clock {
			continue
		}
		if !in.Date.IsZero() && local.Format(time.DateOnly) != in.Date.Format(time.DateOnly) {
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

func (w *Workflow) move(s *Session, to State) error {
	from := s.State
	if err := s.transition(to); err != nil {
		return err
	}
	w.metrics.ObserveTransition(string(from), string(to))
	w.logger.Debug().
		Str("session_id", s.ID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("booking transition")
	return nil
}

func (w *Workflow) reply(s *Session, text string) Reply {
	r := Reply{
		SessionID:   s.ID,
		State:       s.State,
		Text:        text,
		Appointment: s.Appointment,
		Done:        s.State.Terminal(),
	}
	if s.State == StateProposingSlots {
		r.Proposals = s.Proposals
	}
	return r
}
