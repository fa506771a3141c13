// Copyright (c) 2025 halocam
// Licensed under the PolyForm Noncommercial License 1.0.0

package live

import "github.com/halocam/livedemo/internal/fsm"

// State is the controller's lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateActive     State = "active"
	StateRetrying   State = "retrying"
	StateExpiring   State = "expiring"
	StateStopping   State = "stopping"
	StateExhausted  State = "exhausted"
)

// Event triggers a controller state transition.
type Event string

const (
	eventStart         Event = "start"
	eventAttached      Event = "attached"
	eventAbort         Event = "abort"
	eventStartFailed   Event = "start_failed"
	eventNextCandidate Event = "next_candidate"
	eventExhausted     Event = "exhausted"
	eventPlaybackError Event = "playback_error"
	eventExpire        Event = "expire"
	eventExpired       Event = "expired"
	eventStop          Event = "stop"
	eventStopped       Event = "stopped"
)

// newMachine builds the controller's strict transition table.
// ExhaustedFailure is terminal for automatic flows: only an explicit start
// or stop leaves it.
func newMachine() (*fsm.Machine[State, Event], error) {
	return fsm.New(StateIdle, []fsm.Transition[State, Event]{
		{From: StateIdle, Event: eventStart, To: StateRequesting},
		{From: StateExhausted, Event: eventStart, To: StateRequesting},

		{From: StateRequesting, Event: eventAttached, To: StateActive},
		{From: StateRequesting, Event: eventAbort, To: StateIdle},
		{From: StateRequesting, Event: eventStartFailed, To: StateRetrying},

		{From: StateRetrying, Event: eventNextCandidate, To: StateRequesting},
		{From: StateRetrying, Event: eventExhausted, To: StateExhausted},

		{From: StateActive, Event: eventPlaybackError, To: StateRetrying},
		{From: StateActive, Event: eventExpire, To: StateExpiring},
		{From: StateExpiring, Event: eventExpired, To: StateIdle},

		{From: StateActive, Event: eventStop, To: StateStopping},
		{From: StateRequesting, Event: eventStop, To: StateStopping},
		{From: StateRetrying, Event: eventStop, To: StateStopping},
		{From: StateExhausted, Event: eventStop, To: StateStopping},
		{From: StateStopping, Event: eventStopped, To: StateIdle},
	})
}
