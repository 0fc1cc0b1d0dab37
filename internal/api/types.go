package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-agent/internal/booking"
)

type MessageRequest struct {
	Text string `json:"text"`
}

type SessionResponse struct {
	SessionID uuid.UUID     `json:"session_id"`
	Reply     booking.Reply `json:"reply"`
}

type SessionDetailResponse struct {
	Session *booking.Session `json:"session"`
	Reply   booking.Reply    `json:"reply"`
}

type SlotsResponse struct {
	DoctorID string      `json:"doctor_id"`
	Location string      `json:"location"`
	Duration string      `json:"duration"`
	Slots    []time.Time `json:"slots"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type CancelResponse struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
	Reason string    `json:"reason"`
}

type ReminderResponseRequest struct {
	AppointmentID string `json:"appointment_id,omitempty"`
	From          string `json:"from,omitempty"`
	Text          string `json:"text"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
