/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package host

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/suparena/plmconnector/errors"
)

// Metrics holds the Prometheus collectors of the connector client.
type Metrics struct {
	Calls          *prometheus.CounterVec
	Latency        *prometheus.HistogramVec
	Pending        *prometheus.GaugeVec
	TokenRefreshes *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plmconnector_calls_total",
				Help: "Total number of connector calls by outcome",
			},
			[]string{"connector", "op", "outcome"},
		),
		Latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plmconnector_call_duration_seconds",
				Help:    "Connector call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"connector", "op"},
		),
		Pending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "plmconnector_pending_operations",
				Help: "Operations waiting for out-of-band completion",
			},
			[]string{"connector"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plmconnector_token_refreshes_total",
				Help: "Token refreshes triggered by unprocessable responses",
			},
			[]string{"connector", "outcome"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.Calls, m.Latency, m.Pending, m.TokenRefreshes)
	}
	return m
}

// Outcome labels a call result: "ok", "pending" or the HTTP status of the error.
func Outcome(pending bool, err error) string {
	switch {
	case err != nil:
		return strconv.Itoa(errors.StatusCode(err))
	case pending:
		return "pending"
	}
	return "ok"
}

func (m *Metrics) observe(conn, op, outcome string, elapsed time.Duration) {
	m.Calls.WithLabelValues(conn, op, outcome).Inc()
	m.Latency.WithLabelValues(conn, op).Observe(elapsed.Seconds())
}
