// Package events defines the typed notifications emitted by the chat
// orchestrator. Callers register callbacks instead of polling for changes.
package events

import (
	"log/slog"
	"runtime/debug"
)

// Type identifies the kind of notification.
type Type string

const (
	// TypeMessageUpdated is emitted after every mutation of a streaming
	// placeholder message. Data is a MessageUpdate.
	TypeMessageUpdated Type = "message_updated"
	// TypeStreamTerminated is emitted exactly once per stream when it reaches
	// a terminal state. Data is a StreamTermination.
	TypeStreamTerminated Type = "stream_terminated"
)

// Outcome is the terminal state of a stream.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeErrored   Outcome = "errored"
	OutcomeCancelled Outcome = "cancelled"
)

// MessageUpdate carries the cumulative text of a message after a mutation.
type MessageUpdate struct {
	ConversationID int32
	MessageID      int32
	Text           string
}

// StreamTermination reports how a stream ended. Err is non-nil only for
// OutcomeErrored; cancellation is a normal, user-initiated terminal state and
// carries no error.
type StreamTermination struct {
	ConversationID int32
	MessageID      int32
	Outcome        Outcome
	Err            error
}

// Callback is the unified event callback type.
type Callback func(eventType Type, eventData any) error

// SafeCallback is a callback variant that does not propagate errors.
// Errors are logged internally instead of being returned to callers.
type SafeCallback func(eventType Type, eventData any)

// NoopCallback is a callback that does nothing.
var NoopCallback Callback = func(Type, any) error { return nil }

// WrapSafe converts a Callback to a SafeCallback.
// Errors from the original callback are logged but not propagated.
// Returns nil if the input callback is nil.
func WrapSafe(cb Callback) SafeCallback {
	if cb == nil {
		return nil
	}
	return func(eventType Type, eventData any) {
		if err := cb(eventType, eventData); err != nil {
			slog.Warn("event callback error (swallowed)",
				"event_type", eventType,
				"error", err,
				"stack", string(debug.Stack()))
		}
	}
}
