// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry exposes the server's Prometheus metrics. The host
// decides where (and whether) to serve them; a nil *Metrics disables
// collection without any call-site checks.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics bundles the server's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	tokensIssued          *prometheus.CounterVec
	endpointErrors        *prometheus.CounterVec
	backchannelDeliveries *prometheus.CounterVec
}

// New creates a Metrics with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "tokens_issued_total",
			Help:      "Token responses issued by the token endpoint, by grant type.",
		}, []string{"grant_type"}),
		endpointErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "endpoint_errors_total",
			Help:      "Protocol errors returned to clients, by endpoint and error code.",
		}, []string{"endpoint", "code"}),
		backchannelDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "backchannel_logout_deliveries_total",
			Help:      "Back-channel logout delivery attempts, by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.tokensIssued,
		m.endpointErrors,
		m.backchannelDeliveries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry for the host to expose.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// TokenIssued counts a successful token response.
func (m *Metrics) TokenIssued(grantType string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(grantType).Inc()
}

// EndpointError counts a protocol error response.
func (m *Metrics) EndpointError(endpoint, code string) {
	if m == nil {
		return
	}
	m.endpointErrors.WithLabelValues(endpoint, code).Inc()
}

// BackchannelDelivery counts one back-channel logout delivery outcome,
// "delivered" or "failed".
func (m *Metrics) BackchannelDelivery(outcome string) {
	if m == nil {
		return
	}
	m.backchannelDeliveries.WithLabelValues(outcome).Inc()
}
