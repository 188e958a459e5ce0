package store

// Conversation is a named, topic-scoped thread of messages with an attached
// drawing blob. The drawing is owned exclusively by the conversation and is
// deleted with it.
type Conversation struct {
	UID         string
	Name        string
	Topic       string
	DrawingData []byte // opaque drawing-surface blob, may be nil
	CreatedTs   int64
	UpdatedTs   int64
	ID          int32
}

type FindConversation struct {
	ID  *int32
	UID *string

	// WithDrawing loads the drawing blob; list queries leave it out to keep
	// result rows small.
	WithDrawing bool
}

type UpdateConversation struct {
	Name        *string
	Topic       *string
	DrawingData *[]byte
	UpdatedTs   *int64
	ID          int32
}

type DeleteConversation struct {
	ID int32
}
