package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/clinic-booking-agent/internal/booking"
)

type fakePatient struct {
	Name  string
	DOB   time.Time
	Email string
}

func newFakePatient(f *gofakeit.Faker) fakePatient {
	first, last := f.FirstName(), f.LastName()
	return fakePatient{
		Name:  first + " " + last,
		DOB:   f.DateRange(time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2008, 1, 1, 0, 0, 0, 0, time.UTC)),
		Email: strings.ToLower(first+"."+last) + "@example.com",
	}
}

// script decides what a scripted patient says next. It always picks the
// first proposal so concurrent conversations compete for the same slot.
type script struct {
	patient  fakePatient
	doctor   string
	location string
	moreLeft int
}

// next returns the next message, or false when the conversation is over.
func (s *script) next(r booking.Reply) (string, bool) {
	switch r.State {
	case booking.StateCollectingIdentity:
		return fmt.Sprintf("My name is %s, born %s", s.patient.Name, s.patient.DOB.Format("2006-01-02")), true
	case booking.StateCollectingPreferences:
		return fmt.Sprintf("I'd like Dr. %s at the %s clinic, my email is %s", s.doctor, s.location, s.patient.Email), true
	case booking.StateProposingSlots:
		if len(r.Proposals) > 0 {
			return "1", true
		}
		if s.moreLeft > 0 {
			s.moreLeft--
			return "more", true
		}
		return "cancel", true
	case booking.StateAwaitingConfirmation:
		return "yes", true
	default:
		return "", false
	}
}
