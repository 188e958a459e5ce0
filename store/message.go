package store

// Role identifies the author of a message. The set is closed: no system or
// tool roles are representable in the transcript.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a conversation.
//
// CreatedTs is assigned at construction and never changes; it is the sole
// ordering key for the transcript (ties broken by ID, i.e. insertion order).
// Streaming marks an assistant response that is still being written by the
// orchestrator; such messages are excluded from request history.
type Message struct {
	UID            string
	Role           Role
	Text           string
	ImageData      string // base64-encoded image payload, user messages only
	ImageMediaType string // e.g. "image/jpeg", set iff ImageData is set
	CreatedTs      int64
	ID             int32
	ConversationID int32
	Streaming      bool
}

// HasImage reports whether the message carries an image payload.
func (m *Message) HasImage() bool {
	return m.Role == RoleUser && m.ImageData != ""
}

type FindMessage struct {
	ID             *int32
	UID            *string
	ConversationID *int32
	Streaming      *bool
}

type UpdateMessage struct {
	Text      *string
	Streaming *bool
	ID        int32
}

type DeleteMessage struct {
	ID int32
}
