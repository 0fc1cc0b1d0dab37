package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-agent/internal/schedule"
)

type Status string

const (
	StatusProposed  Status = "proposed"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

type Appointment struct {
	ID           uuid.UUID     `json:"id"`
	DoctorID     string        `json:"doctor_id"`
	PatientID    uuid.UUID     `json:"patient_id"`
	Location     string        `json:"location"`
	StartsAt     time.Time     `json:"starts_at"`
	Duration     time.Duration `json:"duration"`
	Status       Status        `json:"status"`
	CancelReason string        `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func (a *Appointment) EndsAt() time.Time { return a.StartsAt.Add(a.Duration) }

func (a *Appointment) Interval() schedule.Interval {
	return schedule.NewInterval(a.StartsAt, a.Duration)
}

// ReportRow is one line of the appointment export.
type ReportRow struct {
	Appointment
	PatientName  string
	PatientEmail string
	PatientPhone string
}
