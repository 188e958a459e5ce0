package llm

import (
	"errors"
	"fmt"
)

// Domain errors surfaced to the user when a request or stream fails.
var (
	// ErrCredentialsNotConfigured means no API key has been stored yet.
	ErrCredentialsNotConfigured = errors.New("api key not set; store an API key before sending messages")

	// ErrModelRefused is a model-level policy refusal, distinct from a
	// transport failure.
	ErrModelRefused = errors.New("the model declined to respond; try rephrasing the message")

	// ErrEmptyResponse means the stream ended without producing any text.
	ErrEmptyResponse = errors.New("the model returned an empty response")

	// ErrContextTooLong means the conversation no longer fits the model's
	// context window.
	ErrContextTooLong = errors.New("conversation is too long; start a new one or delete some messages")
)

// TransportError wraps a failure in the request or stream transport.
type TransportError struct {
	Detail string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("api error: %s", e.Detail)
}

// RateLimitedError reports an upstream rate limit. RetryAfter is the number
// of seconds to wait, when the server provided one.
type RateLimitedError struct {
	RetryAfter *int
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter != nil {
		return fmt.Sprintf("rate limited; retry after %d seconds", *e.RetryAfter)
	}
	return "rate limited; wait a moment before trying again"
}
