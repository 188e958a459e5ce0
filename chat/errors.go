package chat

import "errors"

// ErrAlreadyStreaming is returned by BeginStream when a stream is already
// active for the conversation. The controller absorbs it silently: it is a UI
// race, not a data-integrity problem.
var ErrAlreadyStreaming = errors.New("a response is already streaming for this conversation")

// Literal placeholder texts written into the transcript when a stream ends
// without producing content.
const (
	// CancelledPlaceholder fills an empty message finalized by cancellation.
	CancelledPlaceholder = "[Response cancelled]"
	// DrawingSubmittedPlaceholder is the user-message text when only a
	// drawing was sent.
	DrawingSubmittedPlaceholder = "[Canvas drawing submitted]"
	// AbandonedPlaceholder fills messages found still streaming after a
	// restart.
	AbandonedPlaceholder = "[Error: response interrupted before completion]"
)

// ErrorPlaceholder renders a failed stream's error as transcript text,
// matching the bracketed style of the other placeholders.
func ErrorPlaceholder(err error) string {
	return "[Error: " + err.Error() + "]"
}
