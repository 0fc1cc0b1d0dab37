package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTicketNotFound = errors.New("reminder ticket not found")
	// ErrNoActiveTicket means there is no open ticket to act on, e.g. a
	// response arrived for an appointment with nothing awaiting an answer.
	ErrNoActiveTicket = errors.New("no active reminder ticket")
)

type Store interface {
	// InsertTickets stores tickets, skipping tiers the appointment already
	// has, and returns every ticket of the appointment.
	InsertTickets(ctx context.Context, tickets []Ticket) ([]Ticket, error)
	Get(ctx context.Context, id uuid.UUID) (*Ticket, error)
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Ticket, error)

	// ListDue returns pending, valid tickets with FireAt <= now whose
	// appointment is confirmed and not yet started, oldest first.
	ListDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]Ticket, error)

	// MarkSent moves a pending valid ticket to sent. ErrNoActiveTicket otherwise.
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	// RecordFailure bumps the attempt counter and returns the new count.
	RecordFailure(ctx context.Context, id uuid.UUID, reason string) (int, error)
	// Respond moves an open ticket to confirmed or declined.
	Respond(ctx context.Context, id uuid.UUID, state State, note string, at time.Time) error
	// Supersede invalidates one still pending ticket.
	Supersede(ctx context.Context, id uuid.UUID, reason string, at time.Time) error

	// InvalidateForAppointment soft-deletes every open ticket of the appointment.
	InvalidateForAppointment(ctx context.Context, appointmentID uuid.UUID, reason string, at time.Time) (int, error)
	// ExpireUnanswered marks open tickets of started appointments unanswered.
	ExpireUnanswered(ctx context.Context, now time.Time) ([]Ticket, error)

	// LatestAwaiting returns the highest-tier sent ticket of the appointment.
	LatestAwaiting(ctx context.Context, appointmentID uuid.UUID) (*Ticket, error)
	// LatestAwaitingByContact finds it through the patient's phone or email.
	LatestAwaitingByContact(ctx context.Context, contact string) (*Ticket, error)
}
