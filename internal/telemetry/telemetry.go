// Package telemetry registers the service instruments on a dedicated
// Prometheus registry so the scrape endpoint exposes exactly what the
// service records.
package telemetry

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service instruments. All methods are safe on a nil
// receiver so handlers can run without metrics wired.
type Metrics struct {
	registry *prometheus.Registry

	admissionDecisions *prometheus.CounterVec
	retrievalRequests  *prometheus.CounterVec
	questions          *prometheus.CounterVec
	chatLatency        prometheus.Histogram
}

// New builds the instrument set on a fresh registry.
func New(version string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		admissionDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docser_admission_decisions_total",
			Help: "Admission decisions partitioned by outcome.",
		}, []string{"outcome"}),
		retrievalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docser_retrieval_requests_total",
			Help: "Document retrieval calls partitioned by backend and outcome.",
		}, []string{"backend", "outcome"}),
		questions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docser_questions_total",
			Help: "Questions processed, partitioned by whether they were answered.",
		}, []string{"answered"}),
		chatLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docser_chat_latency_seconds",
			Help:    "End-to-end chat request latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
	}
	registry.MustRegister(m.admissionDecisions, m.retrievalRequests, m.questions, m.chatLatency)

	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "docser_build_info",
		Help: "Build information.",
	}, []string{"version"})
	buildInfo.WithLabelValues(version).Set(1)
	registry.MustRegister(buildInfo)

	return m
}

// RecordAdmission counts one admission decision.
func (m *Metrics) RecordAdmission(allowed bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "limited"
	}
	m.admissionDecisions.WithLabelValues(outcome).Inc()
}

// RecordRetrieval counts one retrieval call against the named backend.
func (m *Metrics) RecordRetrieval(backend string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.retrievalRequests.WithLabelValues(backend, outcome).Inc()
}

// RecordQuestion counts one processed question.
func (m *Metrics) RecordQuestion(answered bool) {
	if m == nil {
		return
	}
	m.questions.WithLabelValues(strconv.FormatBool(answered)).Inc()
}

// ObserveChatLatency records one end-to-end chat duration.
func (m *Metrics) ObserveChatLatency(seconds float64) {
	if m == nil {
		return
	}
	m.chatLatency.Observe(seconds)
}

// Handler serves the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
