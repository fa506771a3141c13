// Copyright (c) 2025 halocam
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Session attributes
	SessionIDKey       = "session.id"
	SessionSourceKey   = "session.source_id"
	SessionCategoryKey = "session.category"
	SessionProtocolKey = "session.protocol"

	// Detection attributes
	DetectionCameraKey = "detection.camera_id"
	DetectionLabelKey  = "detection.label"
	DetectionOriginKey = "detection.origin"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// SessionAttributes creates session-related span attributes.
func SessionAttributes(sessionID, sourceID, category, protocol string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SessionIDKey, sessionID),
		attribute.String(SessionSourceKey, sourceID),
		attribute.String(SessionCategoryKey, category),
		attribute.String(SessionProtocolKey, protocol),
	}
}

// DetectionAttributes creates detection-related span attributes.
func DetectionAttributes(cameraID, label, origin string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(DetectionCameraKey, cameraID),
		attribute.String(DetectionLabelKey, label),
		attribute.String(DetectionOriginKey, origin),
	}
}

// ErrorAttributes creates error span attributes.
func ErrorAttributes(errType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errType),
	}
}
