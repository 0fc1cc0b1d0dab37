package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreNoop(t *testing.T) {
	var m *BookingMetrics
	assert.NotPanics(t, func() {
		m.ObserveReservation("confirmed")
		m.ObserveTransition("a", "b")
		m.ObserveReminder("1", "sent")
		m.ObserveNotifyFailure("sms", "reminder_tier1")
		m.ObserveResponse("confirmed")
		m.ObserveDriverRun(0.2)
	})
}

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)

	m.ObserveReservation("conflict")
	m.ObserveReservation("conflict")
	m.ObserveReservation("confirmed")
	m.ObserveReminder("2", "sent")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.reservations.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reservations.WithLabelValues("confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.remindersSent.WithLabelValues("2", "sent")))
}
