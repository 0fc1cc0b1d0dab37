package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-booking-agent/internal/notify"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	db DB
}

func NewPgStore(db DB) *PgStore {
	return &PgStore{db: db}
}

const ticketColumns = `t.id, t.appointment_id, t.patient_id, t.tier, t.fire_at, t.channels, t.state, t.intake_requested,
	t.attempts, t.last_error, t.sent_at, t.responded_at, t.response_note, t.invalidated_at, t.invalid_reason,
	t.created_at, t.updated_at`

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	var tier int
	var channels []string

	err := row.Scan(
		&t.ID,
		&t.AppointmentID,
		&t.PatientID,
		&tier,
		&t.FireAt,
		&channels,
		&t.State,
		&t.IntakeRequested,
		&t.Attempts,
		&t.LastError,
		&t.SentAt,
		&t.RespondedAt,
		&t.ResponseNote,
		&t.InvalidatedAt,
		&t.InvalidReason,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}

	t.Tier = Tier(tier)
	t.Channels = make([]notify.Channel, 0, len(channels))
	for _, c := range channels {
		t.Channels = append(t.Channels, notify.Channel(c))
	}
	return &t, nil
}

func collectTickets(rows pgx.Rows) ([]Ticket, error) {
	defer rows.Close()
	var out []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func channelNames(chs []notify.Channel) []string {
	out := make([]string, len(chs))
	for i, c := range chs {
		out[i] = string(c)
	}
	return out
}

func (s *PgStore) InsertTickets(ctx context.Context, tickets []Ticket) ([]Ticket, error) {
	if len(tickets) == 0 {
		return nil, nil
	}
	for i := range tickets {
		t := &tickets[i]
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		_, err := s.db.Exec(ctx, `
			INSERT INTO reminder_tickets (id, appointment_id, patient_id, tier, fire_at, channels, state,
				intake_requested, invalidated_at, invalid_reason, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
			ON CONFLICT (appointment_id, tier) DO NOTHING
		`, t.ID, t.AppointmentID, t.PatientID, int(t.Tier), t.FireAt, channelNames(t.Channels), t.State,
			t.IntakeRequested, t.InvalidatedAt, t.InvalidReason)
		if err != nil {
			return nil, fmt.Errorf("insert reminder ticket: %w", err)
		}
	}
	return s.ListByAppointment(ctx, tickets[0].AppointmentID)
}

func (s *PgStore) Get(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM reminder_tickets t
		WHERE t.id = $1
	`, id)
	return scanTicket(row)
}

func (s *PgStore) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Ticket, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM reminder_tickets t
		WHERE t.appointment_id = $1
		ORDER BY t.tier ASC
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return collectTickets(rows)
}

func (s *PgStore) ListDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]Ticket, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM reminder_tickets t
		JOIN appointments a ON a.id = t.appointment_id
		WHERE t.state = 'pending'
		  AND t.invalidated_at IS NULL
		  AND t.fire_at <= $1
		  AND t.attempts < $2
		  AND a.status = 'confirmed'
		  AND a.starts_at > $1
		ORDER BY t.fire_at ASC, t.tier ASC
		LIMIT $3
	`, now, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list due tickets: %w", err)
	}
	return collectTickets(rows)
}

func (s *PgStore) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminder_tickets
		SET state = 'sent', sent_at = $2, attempts = attempts + 1, last_error = '', updated_at = now()
		WHERE id = $1
		  AND state = 'pending'
		  AND invalidated_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark ticket sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoActiveTicket
	}
	return nil
}

func (s *PgStore) RecordFailure(ctx context.Context, id uuid.UUID, reason string) (int, error) {
	var attempts int
	err := s.db.QueryRow(ctx, `
		UPDATE reminder_tickets
		SET attempts = attempts + 1, last_error = $2, updated_at = now()
		WHERE id = $1
		RETURNING attempts
	`, id, reason).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrTicketNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("record ticket failure: %w", err)
	}
	return attempts, nil
}

func (s *PgStore) Respond(ctx context.Context, id uuid.UUID, state State, note string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminder_tickets
		SET state = $2, response_note = $3, responded_at = $4, updated_at = now()
		WHERE id = $1
		  AND state IN ('pending', 'sent')
		  AND invalidated_at IS NULL
	`, id, state, note, at)
	if err != nil {
		return fmt.Errorf("record ticket response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoActiveTicket
	}
	return nil
}

func (s *PgStore) Supersede(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE reminder_tickets
		SET invalidated_at = $2, invalid_reason = $3, updated_at = now()
		WHERE id = $1
		  AND state = 'pending'
		  AND invalidated_at IS NULL
	`, id, at, reason)
	if err != nil {
		return fmt.Errorf("supersede ticket: %w", err)
	}
	return nil
}

func (s *PgStore) InvalidateForAppointment(ctx context.Context, appointmentID uuid.UUID, reason string, at time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminder_tickets
		SET invalidated_at = $2, invalid_reason = $3, updated_at = now()
		WHERE appointment_id = $1
		  AND state IN ('pending', 'sent')
		  AND invalidated_at IS NULL
	`, appointmentID, at, reason)
	if err != nil {
		return 0, fmt.Errorf("invalidate tickets: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PgStore) ExpireUnanswered(ctx context.Context, now time.Time) ([]Ticket, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE reminder_tickets t
		SET state = 'unanswered', updated_at = now()
		FROM appointments a
		WHERE a.id = t.appointment_id
		  AND a.starts_at <= $1
		  AND t.state IN ('pending', 'sent')
		  AND t.invalidated_at IS NULL
		RETURNING `+ticketColumns, now)
	if err != nil {
		return nil, fmt.Errorf("expire unanswered: %w", err)
	}
	return collectTickets(rows)
}

func (s *PgStore) LatestAwaiting(ctx context.Context, appointmentID uuid.UUID) (*Ticket, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM reminder_tickets t
		WHERE t.appointment_id = $1
		  AND t.state = 'sent'
		  AND t.invalidated_at IS NULL
		ORDER BY t.tier DESC
		LIMIT 1
	`, appointmentID)
	t, err := scanTicket(row)
	if errors.Is(err, ErrTicketNotFound) {
		return nil, ErrNoActiveTicket
	}
	return t, err
}

func (s *PgStore) LatestAwaitingByContact(ctx context.Context, contact string) (*Ticket, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM reminder_tickets t
		JOIN patients p ON p.id = t.patient_id
		WHERE (p.phone = $1 OR lower(p.email) = lower($1))
		  AND t.state = 'sent'
		  AND t.invalidated_at IS NULL
		ORDER BY t.sent_at DESC, t.tier DESC
		LIMIT 1
	`, contact)
	t, err := scanTicket(row)
	if errors.Is(err, ErrTicketNotFound) {
		return nil, ErrNoActiveTicket
	}
	return t, err
}
