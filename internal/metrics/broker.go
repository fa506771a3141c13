// Copyright (c) 2025 halocam
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BrokerRequestDuration tracks broker round-trip latency per operation.
	BrokerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livedemo_broker_request_duration_seconds",
		Help:    "Session broker request latency by operation and result",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"op", "result"})

	// BrokerStopIgnoredTotal counts stop failures that were logged and swallowed.
	BrokerStopIgnoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livedemo_broker_stop_ignored_total",
		Help: "Total number of broker stop failures treated as non-fatal",
	})
)

// ObserveBrokerRequest records a broker request outcome and latency.
func ObserveBrokerRequest(op string, err error, d time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	BrokerRequestDuration.WithLabelValues(op, result).Observe(d.Seconds())
}
