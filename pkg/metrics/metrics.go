// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for mstomp.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the STOMP server.
type Metrics struct {
	// Lifecycle metrics
	Listening prometheus.Gauge

	// Connection metrics
	ActiveConnections  *prometheus.GaugeVec
	TotalConnections   *prometheus.CounterVec
	ConnectionErrors   *prometheus.CounterVec
	ConnectionDuration *prometheus.HistogramVec
	RejectedUpgrades   *prometheus.CounterVec

	// Frame metrics
	FramesReceived *prometheus.CounterVec
	DecodeErrors   *prometheus.CounterVec
	HandlerErrors  *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitedConnections *prometheus.CounterVec
}

// New creates a new Metrics instance and registers it with reg.
// A nil registerer falls back to prometheus.DefaultRegisterer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "mstomp"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		Listening: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "listening",
				Help:      "Whether the STOMP server is listening (1) or idle (0)",
			},
		),
		ActiveConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of currently open connections",
			},
			[]string{"transport"},
		),
		TotalConnections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total number of accepted connections",
			},
			[]string{"transport"},
		),
		ConnectionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_errors_total",
				Help:      "Total number of transport errors that closed a connection",
			},
			[]string{"transport"},
		),
		ConnectionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connection_duration_seconds",
				Help:      "Connection duration in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"transport"},
		),
		RejectedUpgrades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_rejected_upgrades_total",
				Help:      "Total number of rejected WebSocket upgrade requests",
			},
			[]string{"reason"},
		),
		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_received_total",
				Help:      "Total number of decoded frames delivered to the handler",
			},
			[]string{"transport", "command"},
		),
		DecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_errors_total",
				Help:      "Total number of frames rejected by the parser",
			},
			[]string{"transport"},
		),
		HandlerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_errors_total",
				Help:      "Total number of errors returned by the application handler",
			},
			[]string{"transport", "command"},
		),
		RateLimitedConnections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_connections_total",
				Help:      "Total number of connections dropped by the rate limiter",
			},
			[]string{"transport"},
		),
	}

	reg.MustRegister(
		m.Listening,
		m.ActiveConnections,
		m.TotalConnections,
		m.ConnectionErrors,
		m.ConnectionDuration,
		m.RejectedUpgrades,
		m.FramesReceived,
		m.DecodeErrors,
		m.HandlerErrors,
		m.RateLimitedConnections,
	)

	return m
}

// SetListening records a lifecycle transition.
func (m *Metrics) SetListening(listening bool) {
	if m == nil {
		return
	}
	if listening {
		m.Listening.Set(1)
		return
	}
	m.Listening.Set(0)
}

// ConnectionOpened tracks an accepted connection and returns the function
// that records its end. The returned function must be called exactly once.
func (m *Metrics) ConnectionOpened(transport string) func() {
	if m == nil {
		return func() {}
	}

	m.TotalConnections.WithLabelValues(transport).Inc()
	m.ActiveConnections.WithLabelValues(transport).Inc()
	start := time.Now()

	return func() {
		m.ActiveConnections.WithLabelValues(transport).Dec()
		m.ConnectionDuration.WithLabelValues(transport).Observe(time.Since(start).Seconds())
	}
}

// FrameReceived counts a frame delivered to the handler.
func (m *Metrics) FrameReceived(transport, command string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(transport, command).Inc()
}

// HandlerError counts an error returned by the handler.
func (m *Metrics) HandlerError(transport, command string) {
	if m == nil {
		return
	}
	m.HandlerErrors.WithLabelValues(transport, command).Inc()
}

// DecodeError counts a rejected frame.
func (m *Metrics) DecodeError(transport string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(transport).Inc()
}

// TransportError counts a transport error.
func (m *Metrics) TransportError(transport string) {
	if m == nil {
		return
	}
	m.ConnectionErrors.WithLabelValues(transport).Inc()
}

// UpgradeRejected counts a rejected WebSocket upgrade.
func (m *Metrics) UpgradeRejected(reason string) {
	if m == nil {
		return
	}
	m.RejectedUpgrades.WithLabelValues(reason).Inc()
}

// RateLimited counts a connection dropped by the rate limiter.
func (m *Metrics) RateLimited(transport string) {
	if m == nil {
		return
	}
	m.RateLimitedConnections.WithLabelValues(transport).Inc()
}
