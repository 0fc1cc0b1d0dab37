package patient

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Classification string

const (
	ClassificationNew       Classification = "new"
	ClassificationReturning Classification = "returning"
)

const dobLayout = "2006-01-02"

// Patient identity (FullName, DOB) is immutable once stored; contact fields
// and preferences may change.
type Patient struct {
	ID                uuid.UUID      `json:"id"`
	FullName          string         `json:"full_name"`
	DOB               time.Time      `json:"dob"`
	Email             string         `json:"email,omitempty"`
	Phone             string         `json:"phone,omitempty"`
	Classification    Classification `json:"classification"`
	PreferredDoctor   string         `json:"preferred_doctor,omitempty"`
	PreferredLocation string         `json:"preferred_location,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (p *Patient) IsNew() bool { return p.Classification == ClassificationNew }

// HasContact reports whether at least one delivery channel is known.
func (p *Patient) HasContact() bool { return p.Email != "" || p.Phone != "" }

func (p *Patient) HasPreferences() bool {
	return p.PreferredDoctor != "" && p.PreferredLocation != ""
}

// NormalizeName trims and collapses internal whitespace. Matching is
// case-insensitive on top of this.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// ParseDOB parses a YYYY-MM-DD date of birth.
func ParseDOB(s string) (time.Time, error) {
	d, err := time.Parse(dobLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date of birth %q: want YYYY-MM-DD", s)
	}
	return d, nil
}

func FormatDOB(t time.Time) string { return t.Format(dobLayout) }

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
