// Package metrics exposes Prometheus collectors that report pipeline activity.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dealmesh"

// Metrics bundles the pipeline collectors.
type Metrics struct {
	nodeDuration      *prometheus.HistogramVec
	retries           *prometheus.CounterVec
	permanentFailures *prometheus.CounterVec
	externalCalls     *prometheus.HistogramVec
	carsAnalyzed      *prometheus.CounterVec
	carsInFlight      prometheus.Gauge
}

// MustNewMetrics constructs the collectors and registers them with reg
// (prometheus.DefaultRegisterer when nil). Collectors that are already
// registered are reused, so several engines may share one registry. Any other
// registration error panics, which mirrors promauto.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		nodeDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Duration of single graph node executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node"})),
		retries: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retries scheduled per retry domain.",
		}, []string{"domain"})),
		permanentFailures: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permanent_failures_total",
			Help:      "Terminal analysis errors by error kind.",
		}, []string{"kind"})),
		externalCalls: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_call_duration_seconds",
			Help:      "Latency of calls to external collaborators.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 60},
		}, []string{"collaborator", "status"})),
		carsAnalyzed: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cars_analyzed_total",
			Help:      "Completed car analyses by final status.",
		}, []string{"status"})),
		carsInFlight: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cars_in_flight",
			Help:      "Car analyses currently running.",
		})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveNode records one node execution.
func (m *Metrics) ObserveNode(node string, d time.Duration) {
	if m == nil {
		return
	}
	m.nodeDuration.WithLabelValues(node).Observe(d.Seconds())
}

// IncRetry counts a scheduled retry of a domain.
func (m *Metrics) IncRetry(domain string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(domain).Inc()
}

// IncPermanentFailure counts a terminal analysis error.
func (m *Metrics) IncPermanentFailure(kind string) {
	if m == nil {
		return
	}
	m.permanentFailures.WithLabelValues(kind).Inc()
}

// ObserveExternalCall records the latency of a collaborator call.
func (m *Metrics) ObserveExternalCall(collaborator string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.externalCalls.WithLabelValues(collaborator, status).Observe(d.Seconds())
}

// CarStarted marks a car analysis as running.
func (m *Metrics) CarStarted() {
	if m == nil {
		return
	}
	m.carsInFlight.Inc()
}

// CarFinished marks a car analysis as done.
func (m *Metrics) CarFinished(success bool) {
	if m == nil {
		return
	}
	m.carsInFlight.Dec()
	status := "success"
	if !success {
		status = "failed"
	}
	m.carsAnalyzed.WithLabelValues(status).Inc()
}
