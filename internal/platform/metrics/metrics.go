package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ingestion loop collectors, labelled by source name. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	RecordsPolled    *prometheus.CounterVec
	BatchesCommitted *prometheus.CounterVec
	LoopErrors       *prometheus.CounterVec
	Resubscribes     *prometheus.CounterVec
	SourceUp         *prometheus.GaugeVec
}

// New creates and registers the loop metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the loop metrics with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordsPolled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smregister_source_records_polled_total",
			Help: "Records polled from a status source",
		}, []string{"source"}),
		BatchesCommitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smregister_source_batches_committed_total",
			Help: "Fully handled batches whose offsets were committed",
		}, []string{"source"}),
		LoopErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smregister_source_loop_errors_total",
			Help: "Errors that aborted a batch, by source and stage",
		}, []string{"source", "stage"}),
		Resubscribes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smregister_source_resubscribes_total",
			Help: "Times a source was unsubscribed and subscribed again after an error",
		}, []string{"source"}),
		SourceUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smregister_source_up",
			Help: "1 while a source is subscribed and polling",
		}, []string{"source"}),
	}
}

func (m *Metrics) AddPolled(source string, n int) {
	if m == nil {
		return
	}
	m.RecordsPolled.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) IncCommitted(source string) {
	if m == nil {
		return
	}
	m.BatchesCommitted.WithLabelValues(source).Inc()
}

func (m *Metrics) IncLoopError(source, stage string) {
	if m == nil {
		return
	}
	m.LoopErrors.WithLabelValues(source, stage).Inc()
}

func (m *Metrics) IncResubscribe(source string) {
	if m == nil {
		return
	}
	m.Resubscribes.WithLabelValues(source).Inc()
}

func (m *Metrics) SetUp(source string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.SourceUp.WithLabelValues(source).Set(v)
}
