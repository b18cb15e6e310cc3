// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tenantguard"

// Metrics groups the service's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Resolutions        *prometheus.CounterVec
	ResolutionDuration *prometheus.HistogramVec
	Violations         *prometheus.CounterVec
	SessionEvents      *prometheus.CounterVec
	RequestCount       *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. Collectors already
// registered (e.g. a second New against the default registry) are reused.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) (*Metrics, error) {
	m := &Metrics{
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Tenant resolutions by outcome.",
		}, []string{"outcome"}),
		ResolutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolution_duration_seconds",
			Help:      "Time spent resolving a host to a tenant.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 1.5, 2.5, 3.5, 5},
		}, []string{"outcome"}),
		Violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "violations_total",
			Help:      "Recorded security violations by kind and severity.",
		}, []string{"kind", "severity"}),
		SessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Session lifecycle events (created, refreshed, expired, destroyed, violated).",
		}, []string{"event"}),
		RequestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gatherer: gatherer,
	}

	var err error
	m.Resolutions, err = register(reg, m.Resolutions)
	if err != nil {
		return nil, err
	}
	m.ResolutionDuration, err = register(reg, m.ResolutionDuration)
	if err != nil {
		return nil, err
	}
	m.Violations, err = register(reg, m.Violations)
	if err != nil {
		return nil, err
	}
	m.SessionEvents, err = register(reg, m.SessionEvents)
	if err != nil {
		return nil, err
	}
	m.RequestCount, err = register(reg, m.RequestCount)
	if err != nil {
		return nil, err
	}
	m.RequestDuration, err = register(reg, m.RequestDuration)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// NewDefault registers against the process-wide default registry.
func NewDefault() (*Metrics, error) {
	return New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveResolution counts one resolution and its latency.
func (m *Metrics) ObserveResolution(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(outcome).Inc()
	m.ResolutionDuration.WithLabelValues(outcome).Observe(seconds)
}

// ObserveViolation counts one recorded violation.
func (m *Metrics) ObserveViolation(kind, severity string) {
	if m == nil {
		return
	}
	m.Violations.WithLabelValues(kind, severity).Inc()
}

// ObserveSession counts one session lifecycle event.
func (m *Metrics) ObserveSession(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

// ObserveRequest counts one HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestCount.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(seconds)
}
