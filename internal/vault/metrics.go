// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package vault

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "juju_vaultkv"

const (
	opLogin   = "login"
	opUnwrap  = "unwrap"
	opRead    = "read"
	opWrite   = "write"
	opReplace = "replace"
	opDelete  = "delete"
)

// Collector is a prometheus.Collector that collects metrics about the
// requests made to Vault.
type Collector struct {
	requests *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "The number of requests made to Vault.",
			}, []string{"operation"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "request_failures_total",
				Help:      "The number of requests to Vault that failed.",
			}, []string{"operation"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "The time taken by requests to Vault.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			}, []string{"operation"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.requests.Describe(ch)
	c.failures.Describe(ch)
	c.duration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.requests.Collect(ch)
	c.failures.Collect(ch)
	c.duration.Collect(ch)
}

// observe records a request for op that started at start. It is safe to
// call on a nil Collector.
func (c *Collector) observe(op string, start time.Time, err error) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(op).Inc()
	if err != nil && !isNotFound(err) {
		c.failures.WithLabelValues(op).Inc()
	}
	c.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
