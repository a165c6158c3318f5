package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.IncRetry("price_research")
	m.IncRetry("price_research")
	m.IncPermanentFailure("TAVILY_SEARCH_FAILED")
	m.ObserveNode("research", 10*time.Millisecond)
	m.ObserveExternalCall("search", time.Millisecond, errors.New("x"))
	m.CarStarted()
	m.CarStarted()
	m.CarFinished(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.retries.WithLabelValues("price_research")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.permanentFailures.WithLabelValues("TAVILY_SEARCH_FAILED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.carsAnalyzed.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.carsInFlight))
	assert.Equal(t, 1, testutil.CollectAndCount(m.externalCalls))
}

func TestMustNewMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := MustNewMetrics(reg)
	b := MustNewMetrics(reg)

	a.IncRetry("llm_opinion")
	assert.Equal(t, 1.0, testutil.ToFloat64(b.retries.WithLabelValues("llm_opinion")))
}

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncRetry("x")
		m.ObserveNode("n", time.Second)
		m.CarStarted()
		m.CarFinished(false)
	})
}
