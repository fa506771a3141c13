// Copyright (c) 2025 halocam
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DetectionDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livedemo_detection_drop_total",
		Help: "Total number of detection events dropped by camera and reason",
	}, []string{"camera", "reason"})

	DetectionEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livedemo_detection_events_total",
		Help: "Total number of detection events delivered by origin stream",
	}, []string{"origin"})
)

// IncDetectionDrop records a dropped detection event with a concrete reason.
func IncDetectionDrop(camera, reason string) {
	if camera == "" {
		camera = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	DetectionDropsTotal.WithLabelValues(camera, reason).Inc()
}

// IncDetectionEvent records a delivered detection event for an origin stream.
func IncDetectionEvent(origin string) {
	DetectionEventsTotal.WithLabelValues(origin).Inc()
}
