package reminder

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

var ErrUnrecognizedResponse = errors.New("reply is neither a confirmation nor a decline")

// Response is an inbound reply to a reminder. AppointmentID wins when set;
// otherwise From (phone or email) locates the patient's latest sent ticket.
type Response struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	From          string    `json:"from"`
	Text          string    `json:"text"`
}

var (
	confirmWords = []string{"yes", "y", "confirm", "confirmed", "ok", "okay", "yep", "yeah", "c"}
	declineWords = []string{"no", "n", "cancel", "decline", "nope"}
)

// ParseResponse maps a reply to confirmed or declined. Anything after a
// decline keyword is kept as the reason ("NO running late" -> "running late").
func ParseResponse(text string) (State, string, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return "", "", ErrUnrecognizedResponse
	}
	head := strings.ToLower(strings.Trim(fields[0], ".,!?:;"))
	restText := strings.Join(fields[1:], " ")

	for _, w := range confirmWords {
		if head == w {
			return StateConfirmed, "", nil
		}
	}
	for _, w := range declineWords {
		if head == w {
			return StateDeclined, strings.TrimSpace(strings.TrimLeft(restText, "-:,. ")), nil
		}
	}
	return "", "", ErrUnrecognizedResponse
}
