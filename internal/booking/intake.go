package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hackgods/clinic-booking-agent/internal/appointment"
	"github.com/hackgods/clinic-booking-agent/internal/events"
	"github.com/hackgods/clinic-booking-agent/internal/notify"
	"github.com/hackgods/clinic-booking-agent/internal/patient"
	"github.com/hackgods/clinic-booking-agent/internal/reminder"
	"github.com/hackgods/clinic-booking-agent/pkg/logging"
)

var errNoIntakeAddress = errors.New("patient has no email or phone for the intake packet")

// IntakeDispatcher sends the new-patient intake packet. Returning patients
// are a no-op so callers can invoke it unconditionally.
type IntakeDispatcher struct {
	sender   notify.Sender
	formURL  string
	location *time.Location
	events   events.Recorder
	logger   *logging.Logger
}

func NewIntakeDispatcher(sender notify.Sender, formURL string, loc *time.Location, rec events.Recorder, logger *logging.Logger) *IntakeDispatcher {
	if loc == nil {
		loc = time.UTC
	}
	if rec == nil {
		rec = events.Nop{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &IntakeDispatcher{
		sender:   sender,
		formURL:  formURL,
		location: loc,
		events:   rec,
		logger:   logger.Component("intake"),
	}
}

// Dispatch sends exactly one intake message: email when the patient has
// one, otherwise SMS.
func (d *IntakeDispatcher) Dispatch(ctx context.Context, p *patient.Patient, appt *appointment.Appointment) error {
	if !p.IsNew() {
		return nil
	}

	recipient := notify.Recipient{Name: p.FullName, Email: p.Email, Phone: p.Phone}
	channel := notify.ChannelEmail
	if recipient.Email == "" {
		channel = notify.ChannelSMS
	}
	if recipient.Address(channel) == "" {
		return errNoIntakeAddress
	}

	payload := map[string]any{
		notify.KeyPatientName:     p.FullName,
		notify.KeyAppointmentTime: appt.StartsAt.In(d.location).Format("Mon 2 Jan 2006 15:04 MST"),
		notify.KeyDoctor:          reminder.DisplayName(appt.DoctorID),
		notify.KeyLocation:        reminder.DisplayName(appt.Location),
		notify.KeyIntakeFormURL:   d.formURL,
		notify.KeyIsNewPatient:    true,
	}
	if err := d.sender.Send(ctx, channel, recipient, notify.TemplateIntakePacket, payload); err != nil {
		return fmt.Errorf("send intake packet: %w", err)
	}

	if err := d.events.Record(ctx, events.New(events.IntakeDispatched, appt.ID, map[string]any{
		"patient_id": p.ID.String(),
		"channel":    string(channel),
	})); err != nil {
		d.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to record event")
	}
	d.logger.Info().
		Str("patient_id", p.ID.String()).
		Str("appointment_id", appt.ID.String()).
		Str("channel", string(channel)).
		Msg("intake packet sent")
	return nil
}
