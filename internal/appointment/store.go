package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-agent/internal/schedule"
)

var (
	ErrAppointmentNotFound     = errors.New("appointment not found")
	ErrSlotConflict            = errors.New("slot conflicts with an existing booking")
	ErrOutsideWorkingHours     = errors.New("slot is outside the doctor's working hours")
	ErrMisalignedSlot          = errors.New("slot start is not aligned to the booking granularity")
	ErrSlotInPast              = errors.New("slot starts in the past")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// Store persists appointments. Only confirmed appointments occupy time.
type Store interface {
	// ConfirmedIntervals returns the intervals of confirmed appointments for
	// doctor at location that overlap window, ordered by start.
	ConfirmedIntervals(ctx context.Context, doctorID, location string, window schedule.Interval) ([]schedule.Interval, error)

	// Insert stores a confirmed appointment. The overlap check and insert are
	// atomic; an overlapping confirmed booking yields ErrSlotConflict.
	Insert(ctx context.Context, a *Appointment) error

	// Cancel moves a confirmed appointment to cancelled, freeing its interval.
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error)

	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ListRange returns appointments starting in [from, to) with patient details.
	ListRange(ctx context.Context, from, to time.Time) ([]ReportRow, error)
}
