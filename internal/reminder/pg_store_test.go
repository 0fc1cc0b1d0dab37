package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking-agent/internal/notify"
)

var ticketCols = []string{"id", "appointment_id", "patient_id", "tier", "fire_at", "channels", "state", "intake_requested",
	"attempts", "last_error", "sent_at", "responded_at", "response_note", "invalidated_at", "invalid_reason",
	"created_at", "updated_at"}

func ticketRow(rows *pgxmock.Rows, t Ticket) *pgxmock.Rows {
	return rows.AddRow(t.ID, t.AppointmentID, t.PatientID, int(t.Tier), t.FireAt, channelNames(t.Channels), t.State,
		t.IntakeRequested, t.Attempts, t.LastError, t.SentAt, t.RespondedAt, t.ResponseNote, t.InvalidatedAt,
		t.InvalidReason, t.CreatedAt, t.UpdatedAt)
}

func sampleTicket(tier Tier, state State) Ticket {
	now := time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC)
	return Ticket{
		ID:            uuid.New(),
		AppointmentID: uuid.New(),
		PatientID:     uuid.New(),
		Tier:          tier,
		FireAt:        now,
		Channels:      []notify.Channel{notify.ChannelEmail, notify.ChannelSMS},
		State:         state,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestPgGetScansTicket(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	want := sampleTicket(TierSecond, StateSent)
	mock.ExpectQuery("FROM reminder_tickets t").
		WithArgs(want.ID).
		WillReturnRows(ticketRow(pgxmock.NewRows(ticketCols), want))

	got, err := NewPgStore(mock).Get(context.Background(), want.ID)
	require.NoError(t, err)
	assert.Equal(t, TierSecond, got.Tier)
	assert.Equal(t, StateSent, got.State)
	assert.Equal(t, []notify.Channel{notify.ChannelEmail, notify.ChannelSMS}, got.Channels)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("FROM reminder_tickets t").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err = NewPgStore(mock).Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestPgInsertTicketsIgnoresDuplicates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tk := sampleTicket(TierFirst, StatePending)
	mock.ExpectExec("ON CONFLICT \\(appointment_id, tier\\) DO NOTHING").
		WithArgs(tk.ID, tk.AppointmentID, tk.PatientID, 1, tk.FireAt, []string{"email", "sms"}, StatePending,
			false, (*time.Time)(nil), "").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("WHERE t.appointment_id").
		WithArgs(tk.AppointmentID).
		WillReturnRows(ticketRow(pgxmock.NewRows(ticketCols), tk))

	out, err := NewPgStore(mock).InsertTickets(context.Background(), []Ticket{tk})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, tk.ID, out[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgMarkSentRequiresPendingTicket(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	at := time.Now()
	mock.ExpectExec("SET state = 'sent'").
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = NewPgStore(mock).MarkSent(context.Background(), id, at)
	assert.ErrorIs(t, err, ErrNoActiveTicket)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRecordFailureReturnsAttempts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("RETURNING attempts").
		WithArgs(id, "smtp down").
		WillReturnRows(pgxmock.NewRows([]string{"attempts"}).AddRow(2))

	n, err := NewPgStore(mock).RecordFailure(context.Background(), id, "smtp down")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgInvalidateForAppointmentCountsRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	at := time.Now()
	mock.ExpectExec("WHERE appointment_id = \\$1").
		WithArgs(id, at, "admin_cancelled").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := NewPgStore(mock).InvalidateForAppointment(context.Background(), id, "admin_cancelled", at)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgLatestAwaitingNoneIsNoActiveTicket(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("ORDER BY t.tier DESC").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err = NewPgStore(mock).LatestAwaiting(context.Background(), id)
	assert.ErrorIs(t, err, ErrNoActiveTicket)
}

func TestPgExpireUnansweredReturnsTickets(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	tk := sampleTicket(TierThird, StateUnanswered)
	mock.ExpectQuery("SET state = 'unanswered'").
		WithArgs(now).
		WillReturnRows(ticketRow(pgxmock.NewRows(ticketCols), tk))

	out, err := NewPgStore(mock).ExpireUnanswered(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, StateUnanswered, out[0].State)
	require.NoError(t, mock.ExpectationsWereMet())
}
