package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-agent/internal/appointment"
	"github.com/hackgods/clinic-booking-agent/internal/booking"
	"github.com/hackgods/clinic-booking-agent/internal/intent"
	redisclient "github.com/hackgods/clinic-booking-agent/internal/redis"
	"github.com/hackgods/clinic-booking-agent/internal/reminder"
	"github.com/hackgods/clinic-booking-agent/internal/schedule"
	"github.com/hackgods/clinic-booking-agent/pkg/logging"
)

func startSessionHandler(svc SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, reply, err := svc.Start(r.Context())
		if err != nil {
			handleSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, SessionResponse{SessionID: s.ID, Reply: reply})
	}
}

func getSessionHandler(svc SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}
		s, reply, err := svc.Get(r.Context(), id)
		if err != nil {
			handleSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SessionDetailResponse{Session: s, Reply: reply})
	}
}

func postMessageHandler(svc SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}
		var req MessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			writeError(w, http.StatusBadRequest, "empty_message", "text is required")
			return
		}

		reply, err := svc.Handle(r.Context(), id, req.Text)
		if err != nil {
			handleSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SessionResponse{SessionID: id, Reply: reply})
	}
}

// listSlotsHandler serves GET /slots?doctor=&location=&from=YYYY-MM-DD&to=YYYY-MM-DD&duration=30m
func listSlotsHandler(slots SlotFinder, loc *time.Location, defaultDuration time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		doctor, location := intent.Slug(q.Get("doctor")), intent.Slug(q.Get("location"))
		if doctor == "" || location == "" {
			writeError(w, http.StatusBadRequest, "missing_parameters", "doctor and location are required")
			return
		}

		from, err := parseDay(q.Get("from"), loc, time.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be YYYY-MM-DD")
			return
		}
		to, err := parseDay(q.Get("to"), loc, from)
		if err != nil || to.Before(from) {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be YYYY-MM-DD on or after from")
			return
		}

		d := defaultDuration
		if raw := q.Get("duration"); raw != "" {
			d, err = time.ParseDuration(raw)
			if err != nil || d <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be a positive Go duration like 30m")
				return
			}
		}

		found, err := slots.FindAvailableSlots(r.Context(), doctor, location, schedule.DateRange{From: from, To: to}, d)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		if found == nil {
			found = []time.Time{}
		}
		writeJSON(w, http.StatusOK, SlotsResponse{DoctorID: doctor, Location: location, Duration: d.String(), Slots: found})
	}
}

func cancelAppointmentHandler(svc ReminderService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}
		var req CancelRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			reason = "admin_cancelled"
		}

		if err := svc.CancelAppointment(r.Context(), id, reason); err != nil {
			handleCancelError(w, err)
			return
		}
		logger.Info().
			Str("appointment_id", id.String()).
			Str("admin", AdminSubject(r.Context())).
			Str("reason", reason).
			Msg("appointment cancelled by admin")
		writeJSON(w, http.StatusOK, CancelResponse{ID: id, Status: string(appointment.StatusCancelled), Reason: reason})
	}
}

func reminderResponseHandler(svc ReminderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReminderResponseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		resp := reminder.Response{From: req.From, Text: req.Text}
		if req.AppointmentID != "" {
			id, err := uuid.Parse(req.AppointmentID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
				return
			}
			resp.AppointmentID = id
		}

		ticket, err := svc.HandleResponse(r.Context(), resp)
		if err != nil {
			handleResponseError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	}
}

// exportHandler streams the appointment report for ?from=&to= as CSV.
func exportHandler(reports Reports, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		from, err := parseDay(q.Get("from"), loc, time.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be YYYY-MM-DD")
			return
		}
		to, err := parseDay(q.Get("to"), loc, from.AddDate(0, 0, 6))
		if err != nil || to.Before(from) {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be YYYY-MM-DD on or after from")
			return
		}

		rows, err := reports.ListRange(r.Context(), from, to.AddDate(0, 0, 1))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="appointments.csv"`)
		_ = appointment.WriteReportCSV(w, rows, loc)
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// parseDay reads YYYY-MM-DD as midnight in loc; empty means fallback's day.
func parseDay(raw string, loc *time.Location, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return schedule.StartOfDay(fallback, loc), nil
	}
	return time.ParseInLocation(time.DateOnly, raw, loc)
}

func handleSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, booking.ErrTerminalSession):
		writeError(w, http.StatusConflict, "session_finished", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "session_busy", "another message for this session is being processed, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleCancelError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "appointment_busy", "appointment is being updated, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleResponseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reminder.ErrUnrecognizedResponse):
		writeError(w, http.StatusUnprocessableEntity, "unrecognized_response", err.Error())
	case errors.Is(err, reminder.ErrNoActiveTicket):
		writeError(w, http.StatusNotFound, "no_active_reminder", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "appointment_busy", "appointment is being updated, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
