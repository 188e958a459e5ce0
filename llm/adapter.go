// Package llm abstracts the streaming transport to the language-model API.
// The adapter normalizes provider events into a small event vocabulary the
// orchestrator consumes; delta events always carry cumulative text so the
// consumer never has to re-accumulate.
package llm

import "context"

// EventKind classifies a normalized stream event.
type EventKind int

const (
	// EventDelta carries the cumulative response text so far.
	EventDelta EventKind = iota
	// EventRefusal signals a model-level policy refusal.
	EventRefusal
	// EventCompletion carries the final response text.
	EventCompletion
	// EventError carries a terminal transport or API error.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventRefusal:
		return "refusal"
	case EventCompletion:
		return "completion"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one normalized stream event. Text is the cumulative text for
// EventDelta and the final text for EventCompletion. Err is set only for
// EventError.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// ImageBlock is a base64-encoded image attached to a user turn.
type ImageBlock struct {
	MediaType string // e.g. "image/jpeg"
	Data      string // base64 payload
}

// Turn is one ordered entry of the request history. When Image is set the
// image block precedes the text block on the wire.
type Turn struct {
	Role  string // "user" or "assistant"
	Text  string
	Image *ImageBlock
}

// Request is a fully-specified streaming chat request.
type Request struct {
	Turns        []Turn
	SystemPrompt string
	Model        string
	MaxTokens    int
	Temperature  float32
}

// Adapter opens streamed responses against the model API.
//
// Open returns a channel of normalized events. The channel is closed when the
// stream ends; a close without a preceding EventCompletion or EventError is
// the end-of-sequence-without-terminal-event case, whose interpretation is
// the caller's policy. Cancellation is cooperative via ctx: the adapter
// checks it between events and stops delivering once it is done.
type Adapter interface {
	Open(ctx context.Context, req *Request) (<-chan Event, error)
}
