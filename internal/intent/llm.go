package intent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const systemPrompt = `You extract structured booking intents for a medical clinic's scheduling assistant.
Reply with a single JSON object and nothing else. Fields (omit any the message does not state):
  "kind": one of "inform", "select", "more_slots", "affirm", "deny", "cancel", "unknown"
  "full_name": patient's full name
  "dob": date of birth as YYYY-MM-DD
  "doctor": doctor's name as written, e.g. "Dr. Reed"
  "location": clinic location name
  "email", "phone": contact details
  "choice": integer when the user picks a numbered option
  "clock": HH:MM (24h) when the user picks a time
  "date": YYYY-MM-DD when the user asks for slots from a specific day
  "reason": free-text reason when declining or cancelling
Use "unknown" when the message has nothing relevant to booking.`

type llmIntent struct {
	Kind     string `json:"kind"`
	FullName string `json:"full_name"`
	DOB      string `json:"dob"`
	Doctor   string `json:"doctor"`
	Location string `json:"location"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Choice   int    `json:"choice"`
	Clock    string `json:"clock"`
	Date     string `json:"date"`
	Reason   string `json:"reason"`
}

// decodeModelOutput parses the model's JSON reply, tolerating code fences
// and surrounding prose.
func decodeModelOutput(raw, text string) (Intent, error) {
	body := strings.TrimSpace(text)
	if start := strings.Index(body, "{"); start >= 0 {
		if end := strings.LastIndex(body, "}"); end > start {
			body = body[start : end+1]
		}
	}

	var li llmIntent
	if err := json.Unmarshal([]byte(body), &li); err != nil {
		return Intent{}, fmt.Errorf("%w: model reply is not JSON: %v", ErrUnrecognized, err)
	}

	in := Intent{
		Kind:     Kind(strings.ToLower(strings.TrimSpace(li.Kind))),
		FullName: strings.TrimSpace(li.FullName),
		Email:    strings.ToLower(strings.TrimSpace(li.Email)),
		Phone:    normalizePhone(strings.TrimSpace(li.Phone)),
		Choice:   li.Choice,
		Clock:    strings.TrimSpace(li.Clock),
		Reason:   strings.TrimSpace(li.Reason),
		Raw:      raw,
	}
	if li.Doctor != "" {
		in.Doctor = Slug(li.Doctor)
	}
	if li.Location != "" {
		in.Location = Slug(li.Location)
	}
	if d, err := time.Parse("2006-01-02", strings.TrimSpace(li.DOB)); err == nil {
		in.DOB = d
	}
	if d, err := time.Parse("2006-01-02", strings.TrimSpace(li.Date)); err == nil {
		in.Date = d
	}

	switch in.Kind {
	case KindInform, KindSelect, KindMoreSlots, KindAffirm, KindDeny, KindCancel:
	default:
		if !in.HasFields() {
			return Intent{}, ErrUnrecognized
		}
		in.Kind = KindInform
	}
	if in.Kind == KindSelect && in.Choice <= 0 && in.Clock == "" {
		return Intent{}, ErrUnrecognized
	}
	return in, nil
}
