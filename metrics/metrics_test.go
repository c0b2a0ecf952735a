package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Registration("http", OutcomeRolledBack)
	m.Registration("http", OutcomeRolledBack)
	m.CategoryLookup("get", OutcomeTimeout)
	m.ShardOperation(3)
	m.EventConsumed(OutcomeSuccess)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.registrations.WithLabelValues("http", OutcomeRolledBack)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.categoryLookups.WithLabelValues("get", OutcomeTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.shardOps.WithLabelValues("3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsConsumed.WithLabelValues(OutcomeSuccess)))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Registration("event", OutcomeSuccess)
		m.CategoryLookup("batch", OutcomeFallback)
		m.ShardOperation(0)
		m.EventConsumed(OutcomeDeadLetter)
	})
}
