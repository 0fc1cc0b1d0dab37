package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	AppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	AppointmentCancelled = "APPOINTMENT_CANCELLED"
	ReminderRegistered   = "REMINDER_REGISTERED"
	ReminderSent         = "REMINDER_SENT"
	ReminderResponse     = "REMINDER_RESPONSE"
	ReminderUnanswered   = "REMINDER_UNANSWERED"
	IntakeDispatched     = "INTAKE_DISPATCHED"
)

type Event struct {
	Type          string         `json:"type"`
	AppointmentID *uuid.UUID     `json:"appointment_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// New stamps an event for one appointment.
func New(eventType string, appointmentID uuid.UUID, payload map[string]any) Event {
	id := appointmentID
	return Event{
		Type:          eventType,
		AppointmentID: &id,
		Payload:       payload,
		OccurredAt:    time.Now().UTC(),
	}
}

// RoutingKey maps APPOINTMENT_CONFIRMED to appointment.confirmed.
func (e Event) RoutingKey() string {
	return strings.ToLower(strings.Replace(e.Type, "_", ".", 1))
}

// Recorder persists or forwards domain events. Recording is best effort:
// callers log failures and carry on.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// Multi fans an event out to every recorder and joins their errors.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
