// Copyright (c) 2025 halocam
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionStartTotal tracks the outcome of session start attempts.
	SessionStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livedemo_session_start_total",
		Help: "Total number of session start attempts by result, reason and flow",
	}, []string{"result", "reason", "flow"})

	// SessionTimeToActive tracks the time from start request to an attached adapter.
	SessionTimeToActive = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livedemo_session_time_to_active_seconds",
		Help:    "Time from start request to active playback",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13, 20},
	}, []string{"protocol"})

	// FallbackDepth tracks how many candidates a fallback walk consumed before settling.
	FallbackDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livedemo_fallback_depth",
		Help:    "Number of candidates tried per fallback walk",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 13},
	})

	// FallbackAttemptsTotal counts individual automatic fallback attempts.
	FallbackAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livedemo_fallback_attempts_total",
		Help: "Total number of automatic fallback attempts",
	})

	// SessionExpiriesTotal counts sessions terminated by the expiry timer.
	SessionExpiriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livedemo_session_expiries_total",
		Help: "Total number of sessions that reached their time limit",
	})

	// SessionExhaustedTotal counts fallback walks that ran out of candidates.
	SessionExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livedemo_session_exhausted_total",
		Help: "Total number of fallback walks that exhausted every candidate",
	})
)

// IncSessionStart records a session start attempt outcome.
func IncSessionStart(success bool, reason, flow string) {
	result := "failure"
	if success {
		result = "success"
	}
	if reason == "" {
		reason = "none"
	}
	SessionStartTotal.WithLabelValues(result, reason, flow).Inc()
}

// ObserveTimeToActive records the start-to-active latency for a protocol.
func ObserveTimeToActive(protocol string, d time.Duration) {
	SessionTimeToActive.WithLabelValues(protocol).Observe(d.Seconds())
}
