package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the status lifecycle Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	EventsApplied      *prometheus.CounterVec
	EventsRejected     prometheus.Counter
	EventsSkipped      *prometheus.CounterVec
	SideRecordsDropped *prometheus.CounterVec
	ApplyDuration      prometheus.Histogram
	Emissions          *prometheus.CounterVec
	EmissionFailures   *prometheus.CounterVec
	PersonsReset       prometheus.Counter
}

// New creates and registers the status metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the status metrics with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smregister_status_events_applied_total",
			Help: "Status events written to history, by kind",
		}, []string{"kind"}),
		EventsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "smregister_status_events_rejected_total",
			Help: "Status events rejected as invalid",
		}),
		EventsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smregister_status_events_skipped_total",
			Help: "Inbound records skipped without applying, by reason",
		}, []string{"reason"}),
		SideRecordsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smregister_status_side_records_dropped_total",
			Help: "Attributions and answer sets dropped because the event was not newer than the latest status",
		}, []string{"kind"}),
		ApplyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "smregister_status_apply_duration_seconds",
			Help:    "Time spent applying one status event",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		Emissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smregister_status_emissions_total",
			Help: "Derived messages published, by channel and type",
		}, []string{"channel", "type"}),
		EmissionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smregister_status_emission_failures_total",
			Help: "Derived messages that could not be published, by channel and reason",
		}, []string{"channel", "reason"}),
		PersonsReset: factory.NewCounter(prometheus.CounterOpts{
			Name: "smregister_status_persons_reset_total",
			Help: "Administrative person resets performed",
		}),
	}
}

func (m *Metrics) IncApplied(kind string) {
	if m == nil {
		return
	}
	m.EventsApplied.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncRejected() {
	if m == nil {
		return
	}
	m.EventsRejected.Inc()
}

func (m *Metrics) IncSkipped(reason string) {
	if m == nil {
		return
	}
	m.EventsSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncSideRecordsDropped(kind string) {
	if m == nil {
		return
	}
	m.SideRecordsDropped.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveApply(d time.Duration) {
	if m == nil {
		return
	}
	m.ApplyDuration.Observe(d.Seconds())
}

func (m *Metrics) IncEmission(channel, typ string) {
	if m == nil {
		return
	}
	m.Emissions.WithLabelValues(channel, typ).Inc()
}

func (m *Metrics) IncEmissionFailure(channel, reason string) {
	if m == nil {
		return
	}
	m.EmissionFailures.WithLabelValues(channel, reason).Inc()
}

func (m *Metrics) IncPersonsReset() {
	if m == nil {
		return
	}
	m.PersonsReset.Inc()
}
