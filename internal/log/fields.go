// Copyright (c) 2025 halocam
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldSourceID  = "source_id"
	FieldCameraID  = "camera_id"
	FieldCategory  = "category"

	// Process fields
	FieldEvent      = "event"
	FieldComponent  = "component"
	FieldGeneration = "generation"

	// Stream fields
	FieldProtocol  = "protocol"
	FieldStreamURL = "stream_url"
	FieldExpiresAt = "expires_at"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldNotice   = "notice"
)
