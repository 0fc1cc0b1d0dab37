package booking

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-agent/internal/appointment"
	"github.com/hackgods/clinic-booking-agent/internal/patient"
)

var (
	ErrProposalStale     = errors.New("slot proposal is stale")
	ErrInvalidTransition = errors.New("invalid booking state transition")
	ErrSessionNotFound   = errors.New("booking session not found")
	ErrTerminalSession   = errors.New("booking session already finished")
)

type State string

const (
	StateCollectingIdentity    State = "collecting_identity"
	StateResolvingPatient      State = "resolving_patient"
	StateCollectingPreferences State = "collecting_preferences"
	StateProposingSlots        State = "proposing_slots"
	StateAwaitingConfirmation  State = "awaiting_confirmation"
	StateConfirmed             State = "confirmed"
	StateCompleted             State = "completed"
	StateCancelled             State = "cancelled"
)

// transitions is the closed set of allowed moves. Anything missing here is
// rejected with ErrInvalidTransition.
var transitions = map[State][]State{
	StateCollectingIdentity:    {StateResolvingPatient, StateCancelled},
	StateResolvingPatient:      {StateCollectingPreferences, StateCollectingIdentity, StateCancelled},
	StateCollectingPreferences: {StateProposingSlots, StateCancelled},
	StateProposingSlots:        {StateProposingSlots, StateAwaitingConfirmation, StateCollectingPreferences, StateCancelled},
	StateAwaitingConfirmation:  {StateConfirmed, StateProposingSlots, StateCancelled},
	StateConfirmed:             {StateCompleted, StateCancelled},
	StateCompleted:             nil,
	StateCancelled:             nil,
}

func (s State) Terminal() bool { return s == StateCompleted || s == StateCancelled }

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is one conversation's workflow state. Sessions never share
// mutable state; the Conversation serializes steps per session id.
type Session struct {
	ID    uuid.UUID `json:"id"`
	State State     `json:"state"`

	FullName string    `json:"full_name,omitempty"`
	DOB      time.Time `json:"dob,omitempty"`

	Patient        *patient.Patient       `json:"patient,omitempty"`
	Classification patient.Classification `json:"classification,omitempty"`
	Duration       time.Duration          `json:"duration,omitempty"`

	Doctor   string `json:"doctor,omitempty"`
	Location string `json:"location,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	// OfferingPreferences is set while a returning patient is asked to
	// keep their stored doctor and location.
	OfferingPreferences bool `json:"offering_preferences,omitempty"`

	SearchFrom time.Time   `json:"search_from,omitempty"`
	Proposals  []time.Time `json:"proposals,omitempty"`
	ProposedAt time.Time   `json:"proposed_at,omitempty"`
	Selected   *time.Time  `json:"selected,omitempty"`

	Appointment         *appointment.Appointment `json:"appointment,omitempty"`
	PatientSaved        bool                     `json:"patient_saved,omitempty"`
	IntakeDispatched    bool                     `json:"intake_dispatched,omitempty"`
	RemindersRegistered bool                     `json:"reminders_registered,omitempty"`

	Unrecognized int    `json:"unrecognized,omitempty"`
	Escalated    bool   `json:"escalated,omitempty"`
	CancelReason string `json:"cancel_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewSession(now time.Time) *Session {
	return &Session{
		ID:        uuid.New(),
		State:     StateCollectingIdentity,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Session) transition(to State) error {
	if !canTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}
	s.State = to
	return nil
}

func (s *Session) isNewPatient() bool {
	return s.Classification == patient.ClassificationNew
}

func (s *Session) hasContact() bool { return s.Email != "" || s.Phone != "" }

func (s *Session) clearProposals() {
	s.Proposals = nil
	s.ProposedAt = time.Time{}
	s.Selected = nil
}

// Reply is what the workflow says back after a step.
type Reply struct {
	SessionID   uuid.UUID                `json:"session_id"`
	State       State                    `json:"state"`
	Text        string                   `json:"text"`
	Proposals   []time.Time              `json:"proposals,omitempty"`
	Appointment *appointment.Appointment `json:"appointment,omitempty"`
	Done        bool                     `json:"done"`
}
