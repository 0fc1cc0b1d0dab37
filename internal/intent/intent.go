package intent

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

var ErrUnrecognized = errors.New("intent not recognized")

type Kind string

const (
	// KindInform carries identity, preference or contact fields.
	KindInform Kind = "inform"
	// KindSelect picks a proposal by number or clock time.
	KindSelect Kind = "select"
	// KindMoreSlots asks for different candidates, optionally from Date.
	KindMoreSlots Kind = "more_slots"
	KindAffirm    Kind = "affirm"
	KindDeny      Kind = "deny"
	KindCancel    Kind = "cancel"
)

// Intent is the structured form of one user message. Only the fields the
// message actually mentions are set.
type Intent struct {
	Kind     Kind      `json:"kind"`
	FullName string    `json:"full_name,omitempty"`
	DOB      time.Time `json:"dob,omitempty"`
	Doctor   string    `json:"doctor,omitempty"`
	Location string    `json:"location,omitempty"`
	Email    string    `json:"email,omitempty"`
	Phone    string    `json:"phone,omitempty"`
	Choice   int       `json:"choice,omitempty"` // 1-based proposal number
	Clock    string    `json:"clock,omitempty"`  // HH:MM
	Date     time.Time `json:"date,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Raw      string    `json:"raw,omitempty"`
}

// HasFields reports whether any informational field is set.
func (i Intent) HasFields() bool {
	return i.FullName != "" || !i.DOB.IsZero() || i.Doctor != "" || i.Location != "" ||
		i.Email != "" || i.Phone != ""
}

// Extractor turns free text into an Intent. It fails with ErrUnrecognized
// when nothing usable could be extracted.
type Extractor interface {
	Parse(ctx context.Context, text string) (Intent, error)
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slug normalizes doctor and location names to identifiers:
// "Dr. Reed" becomes "dr-reed", "Downtown Clinic" becomes "downtown-clinic".
func Slug(s string) string {
	s = slugStrip.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	return strings.Trim(s, "-")
}
