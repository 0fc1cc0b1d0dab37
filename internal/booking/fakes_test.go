package booking

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-agent/internal/appointment"
	"github.com/hackgods/clinic-booking-agent/internal/intent"
	"github.com/hackgods/clinic-booking-agent/internal/notify"
	"github.com/hackgods/clinic-booking-agent/internal/patient"
	"github.com/hackgods/clinic-booking-agent/internal/reminder"
	"github.com/hackgods/clinic-booking-agent/internal/schedule"
	"github.com/hackgods/clinic-booking-agent/pkg/logging"
)

var (
	testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	janeDOB = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
)

func at(day, hour, min int) time.Time {
	return time.Date(2026, 3, day, hour, min, 0, 0, time.UTC)
}

type memPatients struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]patient.Patient
	saves int
	fail  error
}

func newMemPatients(ps ...patient.Patient) *memPatients {
	m := &memPatients{byID: make(map[uuid.UUID]patient.Patient)}
	for _, p := range ps {
		m.byID[p.ID] = p
	}
	return m
}

func (m *memPatients) FindByNameAndDOB(_ context.Context, name string, dob time.Time) (*patient.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if strings.EqualFold(p.FullName, name) && p.DOB.Equal(dob) {
			cp := p
			return &cp, nil
		}
	}
	return nil, patient.ErrPatientNotFound
}

func (m *memPatients) FindByName(_ context.Context, name string) ([]patient.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []patient.Patient
	for _, p := range m.byID {
		if strings.EqualFold(p.FullName, name) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPatients) FindByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, patient.ErrPatientNotFound
	}
	return &p, nil
}

func (m *memPatients) Save(_ context.Context, p *patient.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		err := m.fail
		m.fail = nil
		return err
	}
	m.saves++
	m.byID[p.ID] = *p
	return nil
}

// fakeSlots offers a fixed list of starts and books them in memory.
type fakeSlots struct {
	mu        sync.Mutex
	starts    []time.Time
	booked    map[time.Time]bool
	stealNext bool // the next reservation loses to a concurrent booking
	reserved  []*appointment.Appointment
	searches  []schedule.DateRange
}

func newFakeSlots(starts ...time.Time) *fakeSlots {
	return &fakeSlots{starts: starts, booked: make(map[time.Time]bool)}
}

func (f *fakeSlots) FindAvailableSlots(_ context.Context, _, _ string, r schedule.DateRange, _ time.Duration) ([]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, r)
	from := schedule.StartOfDay(r.From, time.UTC)
	to := schedule.StartOfDay(r.To, time.UTC).AddDate(0, 0, 1)
	var out []time.Time
	for _, s := range f.starts {
		if !f.booked[s] && !s.Before(from) && s.Before(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSlots) ReserveSlot(_ context.Context, req appointment.ReserveRequest) (*appointment.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stealNext {
		f.stealNext = false
		f.booked[req.Start] = true
		return nil, appointment.ErrSlotConflict
	}
	if f.booked[req.Start] {
		return nil, appointment.ErrSlotConflict
	}
	f.booked[req.Start] = true
	a := &appointment.Appointment{
		ID:        uuid.New(),
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		Location:  req.Location,
		StartsAt:  req.Start,
		Duration:  req.Duration,
		Status:    appointment.StatusConfirmed,
	}
	f.reserved = append(f.reserved, a)
	return a, nil
}

type fakeReminders struct {
	mu         sync.Mutex
	registered []uuid.UUID
	fail       error
	delay      time.Duration
}

func (f *fakeReminders) RegisterAppointment(ctx context.Context, appt *appointment.Appointment, _ *patient.Patient) ([]reminder.Ticket, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		err := f.fail
		f.fail = nil
		return nil, err
	}
	f.registered = append(f.registered, appt.ID)
	return make([]reminder.Ticket, 3), nil
}

type fakeCanceller struct {
	cancelled map[uuid.UUID]string
}

func (f *fakeCanceller) CancelAppointment(_ context.Context, id uuid.UUID, reason string) error {
	if f.cancelled == nil {
		f.cancelled = make(map[uuid.UUID]string)
	}
	f.cancelled[id] = reason
	return nil
}

type sent struct {
	Channel  notify.Channel
	Template string
	To       string
	Payload  map[string]any
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sent
	fail bool
}

func (r *recordingSender) Send(_ context.Context, ch notify.Channel, to notify.Recipient, templateID string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{Channel: ch, Template: templateID, To: to.Address(ch), Payload: payload})
	if r.fail {
		return notify.ErrNotificationFailure
	}
	return nil
}

func (r *recordingSender) count(templateID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.Template == templateID {
			n++
		}
	}
	return n
}

type mutableClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *mutableClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	clock     *mutableClock
	patients  *memPatients
	slots     *fakeSlots
	reminders *fakeReminders
	canceller *fakeCanceller
	sender    *recordingSender
	workflow  *Workflow
}

func newFixture(t *testing.T, existing ...patient.Patient) *fixture {
	t.Helper()
	f := &fixture{
		clock:     &mutableClock{t: testNow},
		patients:  newMemPatients(existing...),
		slots:     newFakeSlots(at(2, 9, 0), at(2, 9, 30), at(2, 10, 0), at(3, 9, 0), at(3, 14, 0), at(4, 9, 0), at(10, 9, 0)),
		reminders: &fakeReminders{},
		canceller: &fakeCanceller{},
		sender:    &recordingSender{},
	}
	resolver := patient.NewResolver(f.patients, patient.DurationPolicy{InitialConsult: time.Hour, FollowUp: 30 * time.Minute})
	intake := NewIntakeDispatcher(f.sender, "https://clinic.example/intake", time.UTC, nil, logging.Nop())
	f.workflow = NewWorkflow(Deps{
		Resolver:  resolver,
		Slots:     f.slots,
		Patients:  f.patients,
		Reminders: f.reminders,
		Intake:    intake,
		Canceller: f.canceller,
	}, Policy{
		SearchWindowDays: 14,
		MaxProposals:     3,
		ProposalTTL:      10 * time.Minute,
		MaxUnrecognized:  3,
		Granularity:      15 * time.Minute,
		Location:         time.UTC,
	}, WithLogger(logging.Nop()), WithClock(f.clock.Now))
	return f
}

func (f *fixture) step(t *testing.T, s *Session, in intent.Intent) Reply {
	t.Helper()
	r, err := f.workflow.Step(context.Background(), s, in)
	if err != nil {
		t.Fatalf("step %s in %s: %v", in.Kind, s.State, err)
	}
	return r
}

var errStore = errors.New("store unavailable")
