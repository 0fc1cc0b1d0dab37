package reminder

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-booking-agent/internal/appointment"
	"github.com/hackgods/clinic-booking-agent/internal/notify"
	"github.com/hackgods/clinic-booking-agent/internal/patient"
	redisclient "github.com/hackgods/clinic-booking-agent/internal/redis"
	"github.com/hackgods/clinic-booking-agent/pkg/logging"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakeAppointments struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*appointment.Appointment
}

func (f *fakeAppointments) Appointment(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAppointments) ReleaseSlot(_ context.Context, appt *appointment.Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[appt.ID]
	if !ok {
		return appointment.ErrAppointmentNotFound
	}
	a.Status = appointment.StatusCancelled
	a.CancelReason = appt.CancelReason
	return nil
}

func (f *fakeAppointments) get(id uuid.UUID) appointment.Appointment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.appts[id]
}

type fakePatients struct {
	byID map[uuid.UUID]*patient.Patient
}

func (f *fakePatients) FindByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, patient.ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

type sendRecord struct {
	Channel  notify.Channel
	Template string
	To       string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sendRecord
	fail map[notify.Channel]bool
}

func (r *recordingSender) Send(_ context.Context, ch notify.Channel, to notify.Recipient, templateID string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[ch] {
		return notify.ErrNotificationFailure
	}
	r.sent = append(r.sent, sendRecord{Channel: ch, Template: templateID, To: to.Address(ch)})
	return nil
}

func (r *recordingSender) records() []sendRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sendRecord(nil), r.sent...)
}

// memStore mirrors the PgStore conditions, including the joins on
// appointments and patients.
type memStore struct {
	mu       sync.Mutex
	tickets  map[uuid.UUID]*Ticket
	appts    *fakeAppointments
	patients *fakePatients
}

func newMemStore(appts *fakeAppointments, patients *fakePatients) *memStore {
	return &memStore{tickets: make(map[uuid.UUID]*Ticket), appts: appts, patients: patients}
}

func (s *memStore) InsertTickets(ctx context.Context, tickets []Ticket) ([]Ticket, error) {
	s.mu.Lock()
	for _, t := range tickets {
		dup := false
		for _, o := range s.tickets {
			if o.AppointmentID == t.AppointmentID && o.Tier == t.Tier {
				dup = true
			}
		}
		if !dup {
			cp := t
			s.tickets[t.ID] = &cp
		}
	}
	s.mu.Unlock()
	if len(tickets) == 0 {
		return nil, nil
	}
	return s.ListByAppointment(ctx, tickets[0].AppointmentID)
}

func (s *memStore) Get(_ context.Context, id uuid.UUID) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) ListByAppointment(_ context.Context, id uuid.UUID) ([]Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Ticket
	for _, t := range s.tickets {
		if t.AppointmentID == id {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out, nil
}

func (s *memStore) ListDue(_ context.Context, now time.Time, maxAttempts, limit int) ([]Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Ticket
	for _, t := range s.tickets {
		a := s.appts.get(t.AppointmentID)
		if t.State == StatePending && !t.Invalidated() && !t.FireAt.After(now) && t.Attempts < maxAttempts &&
			a.Status == appointment.StatusConfirmed && a.StartsAt.After(now) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].Tier < out[j].Tier
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || t.State != StatePending || t.Invalidated() {
		return ErrNoActiveTicket
	}
	t.State = StateSent
	t.SentAt = &at
	t.Attempts++
	return nil
}

func (s *memStore) RecordFailure(_ context.Context, id uuid.UUID, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return 0, ErrTicketNotFound
	}
	t.Attempts++
	t.LastError = reason
	return t.Attempts, nil
}

func (s *memStore) Respond(_ context.Context, id uuid.UUID, state State, note string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || !t.Open() {
		return ErrNoActiveTicket
	}
	t.State = state
	t.ResponseNote = note
	t.RespondedAt = &at
	return nil
}

func (s *memStore) Supersede(_ context.Context, id uuid.UUID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tickets[id]; ok && t.State == StatePending && !t.Invalidated() {
		t.InvalidatedAt = &at
		t.InvalidReason = reason
	}
	return nil
}

func (s *memStore) InvalidateForAppointment(_ context.Context, id uuid.UUID, reason string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tickets {
		if t.AppointmentID == id && t.Open() {
			t.InvalidatedAt = &at
			t.InvalidReason = reason
			n++
		}
	}
	return n, nil
}

func (s *memStore) ExpireUnanswered(_ context.Context, now time.Time) ([]Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Ticket
	for _, t := range s.tickets {
		a := s.appts.get(t.AppointmentID)
		if t.Open() && !a.StartsAt.After(now) {
			t.State = StateUnanswered
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *memStore) LatestAwaiting(_ context.Context, id uuid.UUID) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Ticket
	for _, t := range s.tickets {
		if t.AppointmentID == id && t.State == StateSent && !t.Invalidated() && (best == nil || t.Tier > best.Tier) {
			best = t
		}
	}
	if best == nil {
		return nil, ErrNoActiveTicket
	}
	cp := *best
	return &cp, nil
}

func (s *memStore) LatestAwaitingByContact(_ context.Context, contact string) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Ticket
	for _, t := range s.tickets {
		p, ok := s.patients.byID[t.PatientID]
		if !ok || (p.Phone != contact && !strings.EqualFold(p.Email, contact)) {
			continue
		}
		if t.State == StateSent && !t.Invalidated() && (best == nil || t.SentAt.After(*best.SentAt)) {
			best = t
		}
	}
	if best == nil {
		return nil, ErrNoActiveTicket
	}
	cp := *best
	return &cp, nil
}

func (s *memStore) ticketsFor(id uuid.UUID) []Ticket {
	out, _ := s.ListByAppointment(context.Background(), id)
	return out
}

type harness struct {
	clock    *clock
	appts    *fakeAppointments
	patients *fakePatients
	store    *memStore
	sender   *recordingSender
	sched    *Scheduler
	appt     *appointment.Appointment
	patient  *patient.Patient
}

var apptStart = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

var defaultOffsets = [3]time.Duration{72 * time.Hour, 24 * time.Hour, 2 * time.Hour}

func newHarness(t *testing.T, offsets [3]time.Duration) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	p := &patient.Patient{ID: uuid.New(), FullName: "Jane Doe", Email: "jane@example.com", Phone: "+15550001111", Classification: patient.ClassificationNew}
	appt := &appointment.Appointment{ID: uuid.New(), DoctorID: "dr-reed", PatientID: p.ID, Location: "downtown",
		StartsAt: apptStart, Duration: time.Hour, Status: appointment.StatusConfirmed}

	h := &harness{
		clock:    &clock{t: apptStart.Add(-5 * 24 * time.Hour)},
		appts:    &fakeAppointments{appts: map[uuid.UUID]*appointment.Appointment{appt.ID: appt}},
		patients: &fakePatients{byID: map[uuid.UUID]*patient.Patient{p.ID: p}},
		sender:   &recordingSender{},
		patient:  p,
	}
	cp := *appt
	h.appt = &cp
	h.store = newMemStore(h.appts, h.patients)
	h.sched = NewScheduler(h.store, h.appts, h.patients, h.sender,
		redisclient.NewRedisLocker(client, 5*time.Second, 2*time.Second),
		Policy{
			Offsets:         offsets,
			Channels:        []notify.Channel{notify.ChannelEmail, notify.ChannelSMS},
			CancelOnDecline: true,
			MaxAttempts:     3,
			BatchSize:       50,
			IntakeFormURL:   "https://clinic.example/intake",
		},
		WithLogger(logging.Nop()),
		WithClock(h.clock.Now),
	)
	return h
}

func (h *harness) register(t *testing.T) []Ticket {
	t.Helper()
	tickets, err := h.sched.RegisterAppointment(context.Background(), h.appt, h.patient)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return tickets
}

func (h *harness) runAt(t *testing.T, at time.Time) Result {
	t.Helper()
	h.clock.Set(at)
	res, err := h.sched.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	return res
}

