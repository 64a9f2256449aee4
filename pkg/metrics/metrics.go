// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for vproxy.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for vproxy.
type Metrics struct {
	// Connection metrics
	ActiveConnections  prometheus.Gauge
	TotalConnections   *prometheus.CounterVec
	ConnectionDuration *prometheus.HistogramVec

	// Routing metrics
	RoutedRequests *prometheus.CounterVec
	RoutesLoaded   prometheus.Gauge
	RouteReloads   *prometheus.CounterVec

	// Backend metrics
	BackendDialDuration *prometheus.HistogramVec
	BackendErrors       *prometheus.CounterVec
	BytesRelayed        prometheus.Counter
	ResponseSize        prometheus.Histogram

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitedConnections prometheus.Counter

	// Resource metrics
	GoroutinesActive prometheus.Gauge
	MemoryAllocated  *prometheus.GaugeVec
}

// New creates a new Metrics instance and registers every collector with reg.
// A nil reg registers with the Prometheus default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "vproxy"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of currently active client connections",
			},
		),
		TotalConnections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total number of client connections by outcome",
			},
			[]string{"outcome"},
		),
		ConnectionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connection_duration_seconds",
				Help:      "Client connection duration in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"outcome"},
		),
		RoutedRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "routed_requests_total",
				Help:      "Total number of requests matched to a route",
			},
			[]string{"domain"},
		),
		RoutesLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "routes_loaded",
				Help:      "Number of routes in the active routing table",
			},
		),
		RouteReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "route_reloads_total",
				Help:      "Total number of routes file reloads",
			},
			[]string{"status"},
		),
		BackendDialDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_dial_duration_seconds",
				Help:      "Upstream dial duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		BackendErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_errors_total",
				Help:      "Total number of upstream errors",
			},
			[]string{"backend", "error_type"},
		),
		BytesRelayed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relayed_bytes_total",
				Help:      "Total number of response bytes relayed to clients",
			},
		),
		ResponseSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "response_size_bytes",
				Help:      "Response size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
		),
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"backend"},
		),
		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"backend"},
		),
		RateLimitedConnections: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_connections_total",
				Help:      "Total number of connections dropped by the rate limiter",
			},
		),
		GoroutinesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutines_active",
				Help:      "Number of active goroutines",
			},
		),
		MemoryAllocated: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_allocated_bytes",
				Help:      "Memory allocated in bytes",
			},
			[]string{"type"},
		),
	}

	return m
}

// ObserveConnection records a finished client connection.
func (m *Metrics) ObserveConnection(outcome string, duration time.Duration, bytes int64) {
	m.TotalConnections.WithLabelValues(outcome).Inc()
	m.ConnectionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if bytes > 0 {
		m.BytesRelayed.Add(float64(bytes))
		m.ResponseSize.Observe(float64(bytes))
	}
}

// ObserveReload records a routes file reload and the resulting table size.
func (m *Metrics) ObserveReload(routes int, err error) {
	if err != nil {
		m.RouteReloads.WithLabelValues("error").Inc()
		return
	}
	m.RouteReloads.WithLabelValues("success").Inc()
	m.RoutesLoaded.Set(float64(routes))
}

// ObserveBreaker records a circuit breaker state change. open reports whether
// the breaker tripped.
func (m *Metrics) ObserveBreaker(backend string, state int, open bool) {
	m.CircuitBreakerState.WithLabelValues(backend).Set(float64(state))
	if open {
		m.CircuitBreakerTrips.WithLabelValues(backend).Inc()
	}
}
