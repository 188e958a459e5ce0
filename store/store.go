package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/inkmentor/inkmentor/internal/profile"
)

// Driver is an interface for database access.
type Driver interface {
	GetDB() *sql.DB
	Close() error
	Migrate(ctx context.Context) error

	CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error)
	ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error)
	DeleteConversation(ctx context.Context, delete *DeleteConversation) error

	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	UpdateMessage(ctx context.Context, update *UpdateMessage) (*Message, error)
	DeleteMessage(ctx context.Context, delete *DeleteMessage) error
	DeleteMessagesFrom(ctx context.Context, conversationID int32, createdTs int64, id int32) error

	FinalizeStreamingMessages(ctx context.Context, placeholderText string, updatedTs int64) (int64, error)
}

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error) {
	return s.driver.CreateConversation(ctx, create)
}

func (s *Store) ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error) {
	return s.driver.ListConversations(ctx, find)
}

// GetConversation returns the single conversation matching find, or nil if
// none matches.
func (s *Store) GetConversation(ctx context.Context, find *FindConversation) (*Conversation, error) {
	list, err := s.driver.ListConversations(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error) {
	if update.UpdatedTs == nil {
		now := time.Now().UnixMilli()
		update.UpdatedTs = &now
	}
	return s.driver.UpdateConversation(ctx, update)
}

func (s *Store) DeleteConversation(ctx context.Context, delete *DeleteConversation) error {
	return s.driver.DeleteConversation(ctx, delete)
}

// TouchConversation bumps the conversation's updated timestamp. Every message
// mutation goes through this so the conversation invariant (monotonically
// non-decreasing UpdatedTs) holds without each caller remembering to.
func (s *Store) TouchConversation(ctx context.Context, conversationID int32, updatedTs int64) error {
	_, err := s.driver.UpdateConversation(ctx, &UpdateConversation{
		ID:        conversationID,
		UpdatedTs: &updatedTs,
	})
	return err
}

func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	msg, err := s.driver.CreateMessage(ctx, create)
	if err != nil {
		return nil, err
	}
	if err := s.TouchConversation(ctx, msg.ConversationID, msg.CreatedTs); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

// GetMessage returns the single message matching find, or nil if none matches.
func (s *Store) GetMessage(ctx context.Context, find *FindMessage) (*Message, error) {
	list, err := s.driver.ListMessages(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) UpdateMessage(ctx context.Context, update *UpdateMessage) (*Message, error) {
	msg, err := s.driver.UpdateMessage(ctx, update)
	if err != nil {
		return nil, err
	}
	if err := s.TouchConversation(ctx, msg.ConversationID, time.Now().UnixMilli()); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Store) DeleteMessage(ctx context.Context, delete *DeleteMessage) error {
	return s.driver.DeleteMessage(ctx, delete)
}

// DeleteMessagesFrom deletes the message at (createdTs, id) and every message
// in the conversation that follows it in creation order.
func (s *Store) DeleteMessagesFrom(ctx context.Context, conversationID int32, createdTs int64, id int32) error {
	return s.driver.DeleteMessagesFrom(ctx, conversationID, createdTs, id)
}

// FinalizeStreamingMessages finalizes messages left in the streaming state by
// a previous process: the flag is cleared and empty messages receive
// placeholderText. Returns the number of affected rows. Called once at
// startup; a streaming flag that survived a restart means the stream was
// abandoned.
func (s *Store) FinalizeStreamingMessages(ctx context.Context, placeholderText string, updatedTs int64) (int64, error) {
	return s.driver.FinalizeStreamingMessages(ctx, placeholderText, updatedTs)
}
