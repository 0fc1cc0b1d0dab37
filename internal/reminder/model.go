package reminder

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-agent/internal/notify"
)

// Tier orders the three reminders of an appointment by urgency.
type Tier int

const (
	TierFirst  Tier = 1 // informational
	TierSecond Tier = 2 // asks to confirm or cancel
	TierThird  Tier = 3 // final prompt
)

var Tiers = []Tier{TierFirst, TierSecond, TierThird}

func (t Tier) String() string {
	switch t {
	case TierFirst:
		return "first"
	case TierSecond:
		return "second"
	case TierThird:
		return "third"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

func (t Tier) TemplateID() string {
	switch t {
	case TierSecond:
		return notify.TemplateReminderTier2
	case TierThird:
		return notify.TemplateReminderTier3
	}
	return notify.TemplateReminderTier1
}

type State string

const (
	StatePending    State = "pending"
	StateSent       State = "sent"
	StateConfirmed  State = "confirmed"
	StateDeclined   State = "declined"
	StateUnanswered State = "unanswered"
)

// Ticket is one scheduled reminder. Cancelled appointments soft-delete their
// tickets through InvalidatedAt rather than changing State.
type Ticket struct {
	ID              uuid.UUID        `json:"id"`
	AppointmentID   uuid.UUID        `json:"appointment_id"`
	PatientID       uuid.UUID        `json:"patient_id"`
	Tier            Tier             `json:"tier"`
	FireAt          time.Time        `json:"fire_at"`
	Channels        []notify.Channel `json:"channels"`
	State           State            `json:"state"`
	IntakeRequested bool             `json:"intake_requested"`
	Attempts        int              `json:"attempts"`
	LastError       string           `json:"last_error,omitempty"`
	SentAt          *time.Time       `json:"sent_at,omitempty"`
	RespondedAt     *time.Time       `json:"responded_at,omitempty"`
	ResponseNote    string           `json:"response_note,omitempty"`
	InvalidatedAt   *time.Time       `json:"invalidated_at,omitempty"`
	InvalidReason   string           `json:"invalid_reason,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func (t *Ticket) Invalidated() bool { return t.InvalidatedAt != nil }

// Open reports whether the ticket can still fire or take a response.
func (t *Ticket) Open() bool {
	return !t.Invalidated() && (t.State == StatePending || t.State == StateSent)
}

// Policy holds reminder configuration. Offsets are measured back from the
// appointment start and must be strictly decreasing.
type Policy struct {
	Offsets         [3]time.Duration
	Channels        []notify.Channel
	CancelOnDecline bool
	MaxAttempts     int
	BatchSize       int
	Location        *time.Location
	IntakeFormURL   string
}

func (p Policy) offset(t Tier) time.Duration { return p.Offsets[int(t)-1] }
