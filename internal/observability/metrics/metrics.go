package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters for reservations, workflow transitions and
// the reminder pipeline. A nil *BookingMetrics is a valid no-op.
type BookingMetrics struct {
	reservations  *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	remindersSent *prometheus.CounterVec
	notifyFailed  *prometheus.CounterVec
	responses     *prometheus.CounterVec
	driverRun     prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "reservations_total",
			Help:      "Slot reservation attempts by outcome",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "workflow_transitions_total",
			Help:      "Booking workflow state transitions",
		}, []string{"from", "to"}),
		remindersSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "reminder",
			Name:      "sent_total",
			Help:      "Reminder tickets fired",
		}, []string{"tier", "status"}),
		notifyFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Notification sends that exhausted retries",
		}, []string{"channel", "template"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "reminder",
			Name:      "responses_total",
			Help:      "Inbound reminder responses by outcome",
		}, []string{"outcome"}),
		driverRun: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "reminder",
			Name:      "driver_run_seconds",
			Help:      "Duration of one reminder driver pass",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.reservations, m.transitions, m.remindersSent, m.notifyFailed, m.responses, m.driverRun)
	return m
}

func (m *BookingMetrics) ObserveReservation(outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *BookingMetrics) ObserveReminder(tier, status string) {
	if m == nil {
		return
	}
	m.remindersSent.WithLabelValues(tier, status).Inc()
}

func (m *BookingMetrics) ObserveNotifyFailure(channel, template string) {
	if m == nil {
		return
	}
	m.notifyFailed.WithLabelValues(channel, template).Inc()
}

func (m *BookingMetrics) ObserveResponse(outcome string) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveDriverRun(seconds float64) {
	if m == nil {
		return
	}
	m.driverRun.Observe(seconds)
}
