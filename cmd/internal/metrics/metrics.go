// Package metrics holds lotgate's Prometheus collectors on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lotgate"

// Metrics is the process-wide collector set. Its methods satisfy the small
// Recorder interfaces declared by the packages that report into it.
type Metrics struct {
	reg *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	gateDecisions *prometheus.CounterVec
	abuseChecks   *prometheus.CounterVec
	registrations *prometheus.CounterVec
	verifications *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// New builds and registers all collectors, including Go runtime and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status class.",
		}, []string{"method", "class"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "decisions_total",
			Help:      "Gate decisions by route visibility and outcome.",
		}, []string{"visibility", "outcome"}),
		abuseChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "abuse",
			Name:      "checks_total",
			Help:      "Registration abuse checks by check and result.",
		}, []string{"check", "result"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "registrations_total",
			Help:      "Registration attempts by result.",
		}, []string{"result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "consume_total",
			Help:      "Verification token consume attempts by result.",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Outbound notifications by kind and result.",
		}, []string{"kind", "result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.gateDecisions,
		m.abuseChecks,
		m.registrations,
		m.verifications,
		m.notifications,
	)
	return m
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// HTTPRequest records one served request. Methods outside the standard set
// are folded into "other".
func (m *Metrics) HTTPRequest(method string, status int, d time.Duration) {
	method = methodLabel(method)
	m.httpRequests.WithLabelValues(method, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}

// GateDecision records a gateway decision.
func (m *Metrics) GateDecision(visibility, outcome string) {
	m.gateDecisions.WithLabelValues(visibility, outcome).Inc()
}

// AbuseDecision records an abuse check result.
func (m *Metrics) AbuseDecision(check, result string) {
	m.abuseChecks.WithLabelValues(check, result).Inc()
}

// Registration records a registration attempt outcome.
func (m *Metrics) Registration(result string) {
	m.registrations.WithLabelValues(result).Inc()
}

// VerificationResult records a consume attempt outcome.
func (m *Metrics) VerificationResult(result string) {
	m.verifications.WithLabelValues(result).Inc()
}

// Notification records a notification attempt.
func (m *Metrics) Notification(kind string, ok bool) {
	result := "failed"
	if ok {
		result = "sent"
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return method
	default:
		return "other"
	}
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
