package reminder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking-agent/internal/appointment"
	"github.com/hackgods/clinic-booking-agent/internal/events"
	"github.com/hackgods/clinic-booking-agent/internal/notify"
	"github.com/hackgods/clinic-booking-agent/internal/patient"
)

type eventLog struct {
	mu    sync.Mutex
	types []string
}

func (l *eventLog) Record(_ context.Context, e events.Event) error {
	l.mu.Lock()
	l.types = append(l.types, e.Type)
	l.mu.Unlock()
	return nil
}

func (l *eventLog) count(t string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, x := range l.types {
		if x == t {
			n++
		}
	}
	return n
}

func templatesOf(recs []sendRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Template)
	}
	return out
}

func TestRegisterAppointment_CreatesOrderedTiers(t *testing.T) {
	tests := []struct {
		name    string
		offsets [3]time.Duration
	}{
		{"default offsets", defaultOffsets},
		{"week day half hour", [3]time.Duration{7 * 24 * time.Hour, 24 * time.Hour, 30 * time.Minute}},
		{"short notice", [3]time.Duration{48 * time.Hour, 12 * time.Hour, time.Hour}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.offsets)
			h.clock.Set(apptStart.Add(-10 * 24 * time.Hour))

			tickets := h.register(t)
			require.Len(t, tickets, 3)
			for i, tk := range tickets {
				assert.Equal(t, Tiers[i], tk.Tier)
				assert.Equal(t, apptStart.Add(-tt.offsets[i]), tk.FireAt)
				assert.Equal(t, StatePending, tk.State)
				assert.False(t, tk.Invalidated())
				assert.True(t, tk.IntakeRequested)
			}
			assert.True(t, tickets[0].FireAt.Before(tickets[1].FireAt))
			assert.True(t, tickets[1].FireAt.Before(tickets[2].FireAt))
			assert.True(t, tickets[2].FireAt.Before(apptStart))

			// Walking the clock through every fire time sends each tier once, in order.
			for i := range tickets {
				res := h.runAt(t, tickets[i].FireAt)
				assert.Equal(t, 1, res.Fired, "tier %d", i+1)
			}
			assert.Equal(t, []string{
				notify.TemplateReminderTier1, notify.TemplateReminderTier1,
				notify.TemplateReminderTier2, notify.TemplateReminderTier2,
				notify.TemplateReminderTier3, notify.TemplateReminderTier3,
			}, templatesOf(h.sender.records()))
		})
	}
}

func TestRegisterAppointment_Idempotent(t *testing.T) {
	h := newHarness(t, defaultOffsets)

	first := h.register(t)
	second := h.register(t)

	require.Len(t, second, 3)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
	assert.Len(t, h.store.ticketsFor(h.appt.ID), 3)
}

func TestRegisterAppointment_RejectsUnconfirmed(t *testing.T) {
	h := newHarness(t, defaultOffsets)
	h.appt.Status = appointment.StatusCancelled

	_, err := h.sched.RegisterAppointment(context.Background(), h.appt, h.patient)
	assert.ErrorIs(t, err, appointment.ErrInvalidStatusTransition)

	h.appt.Status = appointment.StatusConfirmed
	h.clock.Set(apptStart.Add(time.Minute))
	_, err = h.sched.RegisterAppointment(context.Background(), h.appt, h.patient)
	assert.Error(t, err)
}

func TestRegisterAppointment_ReturningPatientSkipsIntake(t *testing.T) {
	h := newHarness(t, defaultOffsets)
	h.patient.Classification = patient.ClassificationReturning

	for _, tk := range h.register(t) {
		assert.False(t, tk.IntakeRequested)
	}
}

func TestRegisterAppointment_OverdueTiersCollapse(t *testing.T) {
	h := newHarness(t, defaultOffsets)
	now := apptStart.Add(-10 * time.Hour)
	h.clock.Set(now)

	tickets := h.register(t)
	require.Len(t, tickets, 3)

	assert.True(t, tickets[0].Invalidated())
	assert.Equal(t, "superseded", tickets[0].InvalidReason)
	assert.False(t, tickets[1].Invalidated())
	assert.Equal(t, now, tickets[1].FireAt)
	assert.Equal(t, apptStart.Add(-2*time.Hour), tickets[2].FireAt)

	res := h.runAt(t, now)
	assert.Equal(t, 1, res.Fired)
	assert.Equal(t, []string{notify.TemplateReminderTier2, notify.TemplateReminderTier2}, templatesOf(h.sender.records()))
}

func TestProcessDue_SendsOnBothChannels(t *testing.T) {
	h := newHarness(t, defaultOffsets)
	log := &eventLog{}
	h.sched.events = log
	h.register(t)

	res := h.runAt(t, apptStart.Add(-72*time.Hour))
	assert.Equal(t, Result{Fired: 1}, res)

	recs := h.sender.records()
	require.Len(t, recs, 2)
	assert.Equal(t, sendRecord{Channel: notify.ChannelEmail, Template: notify.TemplateReminderTier1, To: "jane@example.com"}, recs[0])
	assert.Equal(t, sendRecord{Channel: notify.ChannelSMS, Template: notify.TemplateReminderTier1, To: "+15550001111"}, recs[1])
	assert.Equal(t, 1, log.count(events.ReminderSent))

	// nothing else is due yet
	res = h.runAt(t, apptStart.Add(-48*time.Hour))
	assert.Equal(t, Result{}, res)
}

func TestProcessDue_SkipsMissingContact(t *testing.T) {
	h := newHarness(t, defaultOffsets)
	h.patients.byID[h.patient.ID].Phone = ""
	h.register(t)

	res := h.runAt(t, apptStart.Add(-72*time.Hour))
	assert.Equal(t, 1, res.Fired)
	recs := h.sender.records()
	require.Len(t, recs, 1)
	assert.Equal(t, notify.ChannelEmail, recs[0].Channel)
}

func TestProcessDue_PartialFailureCountsAsSent(t *testing.T) {
	h := newHarness(t, defaultOffsets)
	h.sender.fail = map[notify.Channel]bool{notify.ChannelSMS: true}
	h.register(t)

	res := h.runAt(t, apptStart.Add(-72*time.Hour))
	assert.Equal(t, 1, res.Fired)

	tickets := h.store.ticketsFor(h.appt.ID)
	assert.Equal(t, StateSent, tickets[0].State)
}

func TestProcessDue_RetriesUntilMaxAttempts(t *testing.T) {
	h := newHarness(t, defaultOffsets)
	h.sender.fail = map[notify.Channel]bool{notify.ChannelEmail: true, notify.ChannelSMS: true}
	h.register(t)

	at := apptStart.Add(-72 * time.Hour)
	for i := 1; i <= 3; i++ {
		res := h.runAt(t, at.Add(time.Duration(i)*time.Minute))
		assert.Equal(t, 1, res.Failed, "attempt %d", i)
		tk := h.store.ticketsFor(h.appt.ID)[0]
		assert.Equal(t, i, tk.Attempts)
		assert.Equal(t, StatePending, tk.State)
		assert.NotEmpty(t, tk.LastError)
	}

	res := h.runAt(t, at.Add(10*time.Minute))
	assert.Equal(t, Result{}, res)
	assert.Empty(t, h.sender.records())
}

func TestCancelAppointment_StopsReminders(t *testing.T) {
	h := newHarness(t, defaultOffsets)
	h.register(t)

	require.NoError(t, h.sched.CancelAppointment(context.Background(), h.appt.ID, "admin_cancelled"))

	for _, tk := range h.store.ticketsFor(h.appt.ID) {
		assert.True(t, tk.Invalidated())
		assert.Equal(t, "admin_cancelled", tk.InvalidReason)
	}
	appt := h.appts.get(h.appt.ID)
	assert.Equal(t, appointment.StatusCancelled, appt.Status)
	assert.Equal(t, "admin_cancelled", appt.CancelReason)

	for _, off := range defaultOffsets {
		res := h.runAt(t, apptStart.Add(-off))
		assert.Zero(t, res.Fired)
	}
	assert.Empty(t, h.sender.records())
}

func TestCancelAppointment_AlreadyCancelled(t *testing.T) {
	h := newHarness(t, defaultOffsets)
	h.register(t)
	ctx := context.Background()

	require.NoError(t, h.sched.CancelAppointment(ctx, h.appt.ID, "admin_cancelled"))
	err := h.sched.CancelAppointment(ctx, h.appt.ID, "second_try")
	assert.ErrorIs(t, err, appointment.ErrInvalidStatusTransition)

	appt := h.appts.get(h.appt.ID)
	assert.Equal(t, appointment.StatusCancelled, appt.Status)
	assert.Equal(t, "admin_cancelled", appt.CancelReason)
	for _, tk := range h.store.ticketsFor(h.appt.ID) {
		assert.True(t, tk.Invalidated())
	}
}

func TestCancelAppointment_AfterPartialSends(t *testing.T) {
	h := newHarness(t, defaultOffsets)
	h.register(t)
	h.runAt(t, apptStart.Add(-72*time.Hour))

	require.NoError(t, h.sched.CancelAppointment(context.Background(), h.appt.ID, "admin_cancelled"))

	h.runAt(t, apptStart.Add(-24*time.Hour))
	h.runAt(t, apptStart.Add(-2*time.Hour))
	assert.Len(t, h.sender.records(), 2)
}

func TestHandleResponse_DeclineCancelsAppointment(t *testing.T) {
	h := newHarness(t, defaultOffsets)
	h.register(t)
	h.runAt(t, apptStart.Add(-72*time.Hour))

	tk, err := h.sched.HandleResponse(context.Background(), Response{AppointmentID: h.appt.ID, Text: "NO running late"})
	require.NoError(t, err)
	assert.Equal(t, TierFirst, tk.Tier)
	assert.Equal(t, StateDeclined, tk.State)
	assert.Equal(t, "running late", tk.ResponseNote)

	appt := h.appts.get(h.appt.ID)
	assert.Equal(t, appointment.StatusCancelled, appt.Status)
	assert.Equal(t, "patient_declined: running late", appt.CancelReason)

	tickets := h.store.ticketsFor(h.appt.ID)
	assert.Equal(t, StateDeclined, tickets[0].State)
	assert.True(t, tickets[1].Invalidated())
	assert.True(t, tickets[2].Invalidated())

	h.runAt(t, apptStart.Add(-24*time.Hour))
	h.runAt(t, apptStart.Add(-2*time.Hour))
	assert.Len(t, h.sender.records(), 2)
}

func TestHandleResponse_DeclineKeepsAppointmentWhenPolicyOff(t *testing.T) {
	h := newHarness(t, defaultOffsets)
	h.sched.policy.CancelOnDecline = false
	h.register(t)
	h.runAt(t, apptStart.Add(-72*time.Hour))

	_, err := h.sched.HandleResponse(context.Background(), Response{AppointmentID: h.appt.ID, Text: "no"})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, h.appts.get(h.appt.ID).Status)
}

func TestHandleResponse_ConfirmKeepsLaterTiers(t *testing.T) {
	h := newHarness(t, defaultOffsets)
	h.register(t)
	h.runAt(t, apptStart.Add(-72*time.Hour))
	h.runAt(t, apptStart.Add(-24*time.Hour))

	tk, err := h.sched.HandleResponse(context.Background(), Response{AppointmentID: h.appt.ID, Text: "Yes!"})
	require.NoError(t, err)
	assert.Equal(t, TierSecond, tk.Tier)
	assert.Equal(t, StateConfirmed, tk.State)

	res := h.runAt(t, apptStart.Add(-2*time.Hour))
	assert.Equal(t, 1, res.Fired)
	assert.Len(t, h.sender.records(), 6)
	assert.Equal(t, appointment.StatusConfirmed, h.appts.get(h.appt.ID).Status)
}

func TestHandleResponse_ByContact(t *testing.T) {
	h := newHarness(t, defaultOffsets)
	h.register(t)
	h.runAt(t, apptStart.Add(-72*time.Hour))

	tk, err := h.sched.HandleResponse(context.Background(), Response{From: " +15550001111 ", Text: "confirm"})
	require.NoError(t, err)
	assert.Equal(t, h.appt.ID, tk.AppointmentID)
	assert.Equal(t, StateConfirmed, tk.State)
}

func TestHandleResponse_Errors(t *testing.T) {
	h := newHarness(t, defaultOffsets)
	h.register(t)

	_, err := h.sched.HandleResponse(context.Background(), Response{AppointmentID: h.appt.ID, Text: "yes"})
	assert.ErrorIs(t, err, ErrNoActiveTicket)

	_, err = h.sched.HandleResponse(context.Background(), Response{From: "+19999999999", Text: "yes"})
	assert.ErrorIs(t, err, ErrNoActiveTicket)

	_, err = h.sched.HandleResponse(context.Background(), Response{Text: "yes"})
	assert.ErrorIs(t, err, ErrNoActiveTicket)

	_, err = h.sched.HandleResponse(context.Background(), Response{AppointmentID: h.appt.ID, Text: "maybe later"})
	assert.ErrorIs(t, err, ErrUnrecognizedResponse)
}

func TestExpireUnanswered(t *testing.T) {
	h := newHarness(t, defaultOffsets)
	log := &eventLog{}
	h.sched.events = log
	h.register(t)
	h.runAt(t, apptStart.Add(-72*time.Hour))

	res := h.runAt(t, apptStart.Add(time.Minute))
	assert.Equal(t, 3, res.Expired)
	assert.Zero(t, res.Fired)
	for _, tk := range h.store.ticketsFor(h.appt.ID) {
		assert.Equal(t, StateUnanswered, tk.State)
	}
	assert.Equal(t, 3, log.count(events.ReminderUnanswered))

	// a late reply finds nothing open
	_, err := h.sched.HandleResponse(context.Background(), Response{AppointmentID: h.appt.ID, Text: "yes"})
	assert.ErrorIs(t, err, ErrNoActiveTicket)
}

func TestProcessDue_ConcurrentPassesSendOnce(t *testing.T) {
	h := newHarness(t, defaultOffsets)
	h.register(t)
	h.clock.Set(apptStart.Add(-72 * time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.sched.ProcessDue(context.Background())
		}()
	}
	wg.Wait()

	assert.Len(t, h.sender.records(), 2)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Dr. Reed", DisplayName("dr-reed"))
	assert.Equal(t, "Downtown", DisplayName("downtown"))
	assert.Equal(t, "North Side", DisplayName("north_side"))
	assert.Equal(t, "", DisplayName(""))
	assert.Equal(t, "Dr. Émile", DisplayName("dr-émile"))
	assert.Equal(t, "Øster Clinic", DisplayName("øster-clinic"))
}
