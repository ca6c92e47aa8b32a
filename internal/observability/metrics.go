// Package observability wires the ingestion pipeline's prometheus metrics
// and OpenTelemetry tracing. Grounded on the teacher's
// internal/observability package (NewXWithRegisterer constructors wrapping
// GaugeVec/CounterVec/HistogramVec fields behind Record* methods) and on
// internal/domain/agent/react/tracing.go's span-helper idiom for the tracer
// side.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the pipeline's runtime gauges and counters: queue depth,
// orphan pool occupancy, classifier decisions, and per-stage workflow
// latency (SPEC_FULL.md's dependency table: "queue depth / orphan count /
// classify latency gauges and counters").
type Metrics struct {
	queueDepth       prometheus.Gauge
	orphansHeld      prometheus.Gauge
	orphansDropped   prometheus.Counter
	visitsEnqueued   prometheus.Counter
	visitsRejected   prometheus.Counter
	classifyLatency  prometheus.Histogram
	workflowLatency  *prometheus.HistogramVec
	workflowFailures *prometheus.CounterVec
}

// NewMetrics constructs Metrics registered against the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer constructs Metrics against an explicit
// registerer, so tests can use a private prometheus.NewRegistry().
func NewMetricsWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := prometheus.WrapRegistererWith(prometheus.Labels{}, reg)

	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pkm",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of visits currently waiting in the Visit Queue.",
		}),
		orphansHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pkm",
			Subsystem: "orphan",
			Name:      "held",
			Help:      "Number of orphaned visits currently held awaiting resolution.",
		}),
		orphansDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pkm",
			Subsystem: "orphan",
			Name:      "dropped_total",
			Help:      "Orphans dropped after exceeding retry count or TTL.",
		}),
		visitsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pkm",
			Subsystem: "intake",
			Name:      "visits_enqueued_total",
			Help:      "Visits accepted and enqueued by the Intake Service.",
		}),
		visitsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pkm",
			Subsystem: "classifier",
			Name:      "visits_rejected_total",
			Help:      "Visits rejected by the classifier's filter gate.",
		}),
		classifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pkm",
			Subsystem: "classifier",
			Name:      "classify_seconds",
			Help:      "Latency of a single classification call.",
			Buckets:   prometheus.DefBuckets,
		}),
		workflowLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pkm",
			Subsystem: "workflow",
			Name:      "step_seconds",
			Help:      "Latency of each Reconciliation Workflow step.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		workflowFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pkm",
			Subsystem: "workflow",
			Name:      "step_failures_total",
			Help:      "Failures of each Reconciliation Workflow step.",
		}, []string{"step"}),
	}

	factory.MustRegister(
		m.queueDepth, m.orphansHeld, m.orphansDropped,
		m.visitsEnqueued, m.visitsRejected, m.classifyLatency,
		m.workflowLatency, m.workflowFailures,
	)
	return m
}

// SetQueueDepth records the Visit Queue's current length.
func (m *Metrics) SetQueueDepth(n int) { m.queueDepth.Set(float64(n)) }

// SetOrphansHeld records the Orphan Manager's current occupancy.
func (m *Metrics) SetOrphansHeld(n int) { m.orphansHeld.Set(float64(n)) }

// RecordOrphanDropped increments the dropped-orphan counter.
func (m *Metrics) RecordOrphanDropped() { m.orphansDropped.Inc() }

// RecordVisitEnqueued increments the enqueued-visit counter.
func (m *Metrics) RecordVisitEnqueued() { m.visitsEnqueued.Inc() }

// RecordVisitRejected increments the classifier-rejected counter.
func (m *Metrics) RecordVisitRejected() { m.visitsRejected.Inc() }

// ObserveClassifyLatency records one classification call's duration in
// seconds.
func (m *Metrics) ObserveClassifyLatency(seconds float64) { m.classifyLatency.Observe(seconds) }

// ObserveWorkflowStep records step's duration in seconds.
func (m *Metrics) ObserveWorkflowStep(step string, seconds float64) {
	m.workflowLatency.WithLabelValues(step).Observe(seconds)
}

// RecordWorkflowStepFailure increments step's failure counter.
func (m *Metrics) RecordWorkflowStepFailure(step string) {
	m.workflowFailures.WithLabelValues(step).Inc()
}
