package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordsQueueAndOrphanGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegisterer(reg)

	m.SetQueueDepth(7)
	m.SetOrphansHeld(3)
	m.RecordOrphanDropped()
	m.RecordOrphanDropped()

	assert.Equal(t, float64(7), testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.orphansHeld))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.orphansDropped))
}

func TestMetricsRecordsWorkflowStepFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegisterer(reg)

	m.RecordWorkflowStepFailure("extract_content")
	m.RecordWorkflowStepFailure("extract_content")
	m.RecordWorkflowStepFailure("analyze_page")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.workflowFailures.WithLabelValues("extract_content")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.workflowFailures.WithLabelValues("analyze_page")))
}

func TestMetricsRecordsVisitCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegisterer(reg)

	m.RecordVisitEnqueued()
	m.RecordVisitEnqueued()
	m.RecordVisitRejected()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.visitsEnqueued))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.visitsRejected))
}
