package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/clinic-booking-agent/internal/reminder"
)

const (
	msgCancelled  = "Okay, I've cancelled this booking request. Start a new conversation any time."
	msgEscalated  = "I'm having trouble understanding. A member of our staff will contact you shortly."
	msgRephrase   = "Sorry, I didn't catch that. "
	msgAmbiguous  = "I found more than one patient named %s. Please double-check your date of birth (YYYY-MM-DD)."
	msgNoMatch    = "I couldn't match that to one of the options. "
	msgStale      = "Those times may no longer be accurate, so here is a fresh list. "
	msgTaken      = "Sorry, that time was just taken. "
	msgNoSlots    = "There are no openings with %s at %s between %s and %s. Tell me another date to look from."
	msgRetryLater = "Your appointment is reserved, but I couldn't finish the paperwork. Send any message to retry."
)

func identityPrompt(s *Session) string {
	switch {
	case s.FullName == "" && s.DOB.IsZero():
		return "To get started, please tell me your full name and date of birth (YYYY-MM-DD)."
	case s.FullName == "":
		return "What is your full name?"
	default:
		return "What is your date of birth (YYYY-MM-DD)?"
	}
}

func preferencesPrompt(s *Session) string {
	switch {
	case s.OfferingPreferences:
		return fmt.Sprintf("Welcome back, %s. Last time you saw %s at %s. Would you like to book with them again? (yes/no)",
			firstName(s.FullName), reminder.DisplayName(s.Doctor), reminder.DisplayName(s.Location))
	case s.Doctor == "":
		return "Which doctor would you like to see?"
	case s.Location == "":
		return "Which location works best for you?"
	case s.isNewPatient():
		return "What email address or phone number should we send your intake form to?"
	default:
		return "What email address or phone number should we use for reminders?"
	}
}

func (w *Workflow) prompt(s *Session) string {
	switch s.State {
	case StateCollectingIdentity:
		return identityPrompt(s)
	case StateCollectingPreferences:
		return preferencesPrompt(s)
	case StateProposingSlots:
		if len(s.Proposals) == 0 {
			return "Tell me a date to look for openings from."
		}
		return w.proposalList(s)
	case StateAwaitingConfirmation:
		return w.confirmPrompt(s)
	case StateConfirmed:
		return msgRetryLater
	case StateCompleted:
		return w.completedText(s)
	case StateCancelled:
		return msgCancelled
	}
	return ""
}

func (w *Workflow) proposalList(s *Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here are the next available times with %s at %s:\n",
		reminder.DisplayName(s.Doctor), reminder.DisplayName(s.Location))
	for i, t := range s.Proposals {
		fmt.Fprintf(&b, "%d. %s\n", i+1, w.clock(t))
	}
	b.WriteString("Reply with a number or a time, or ask for more options.")
	return b.String()
}

func (w *Workflow) confirmPrompt(s *Session) string {
	if s.Selected == nil {
		return w.proposalList(s)
	}
	return fmt.Sprintf("Book %s (%d min) with %s at %s? (yes/no)",
		w.clock(*s.Selected), int(s.Duration/time.Minute),
		reminder.DisplayName(s.Doctor), reminder.DisplayName(s.Location))
}

func (w *Workflow) completedText(s *Session) string {
	if s.Appointment == nil {
		return "You're all set."
	}
	text := fmt.Sprintf("You're booked for %s with %s at %s.",
		w.clock(s.Appointment.StartsAt), reminder.DisplayName(s.Appointment.DoctorID), reminder.DisplayName(s.Appointment.Location))
	if s.isNewPatient() {
		to := s.Email
		if to == "" {
			to = s.Phone
		}
		text += fmt.Sprintf(" Your new patient intake form has been sent to %s.", to)
	}
	return text + " We'll send reminders before your visit."
}

func (w *Workflow) clock(t time.Time) string {
	return t.In(w.policy.Location).Format("Mon 2 Jan 15:04")
}

func (w *Workflow) day(t time.Time) string {
	return t.In(w.policy.Location).Format("Mon 2 Jan")
}

func firstName(full string) string {
	if f := strings.Fields(full); len(f) > 0 {
		return f[0]
	}
	return full
}
