package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/inkmentor/inkmentor/llm"
	"github.com/inkmentor/inkmentor/store"
)

// Canned prompts for the quick-action buttons.
const (
	helpRequestText     = "I'm stuck and need help with this step. Can you give me a hint?"
	finishedRequestText = "I think I'm done with this problem. Can you check my work?"
)

// Controller is the public chat surface consumed by UI and API layers. It
// validates preconditions, persists the transcript mutation, and delegates
// stream lifecycle to the orchestrator. Mutations are synchronous through
// persistence; the stream itself runs in the background and reports progress
// via event callbacks.
type Controller struct {
	store        Store
	orchestrator *Orchestrator
	systemPrompt string
}

// NewController creates a controller. systemPrompt defaults to the tutor
// prompt when empty.
func NewController(s Store, orchestrator *Orchestrator, systemPrompt string) *Controller {
	if systemPrompt == "" {
		systemPrompt = llm.TutorSystemPrompt
	}
	return &Controller{
		store:        s,
		orchestrator: orchestrator,
		systemPrompt: systemPrompt,
	}
}

// SendMessage appends a user message (optionally carrying a drawing export)
// plus a streaming assistant placeholder, then begins streaming against a
// history snapshot that excludes the placeholder.
//
// Silent no-op when both text and image are empty, or when a stream is
// already active for the conversation: those are UI races, not errors.
func (c *Controller) SendMessage(ctx context.Context, conversationID int32, text string, image *llm.ImageBlock) error {
	text = strings.TrimSpace(text)
	if text == "" && image == nil {
		return nil
	}
	if c.orchestrator.Active(conversationID) {
		return nil
	}

	conversation, err := c.store.GetConversation(ctx, &store.FindConversation{ID: &conversationID})
	if err != nil {
		return errors.Wrap(err, "failed to load conversation")
	}
	if conversation == nil {
		return errors.Errorf("conversation %d not found", conversationID)
	}

	now := time.Now().UnixMilli()
	userText := text
	if userText == "" {
		userText = DrawingSubmittedPlaceholder
	}
	userMessage := &store.Message{
		UID:            shortuuid.New(),
		ConversationID: conversationID,
		Role:           store.RoleUser,
		Text:           userText,
		CreatedTs:      now,
	}
	if image != nil {
		userMessage.ImageData = image.Data
		userMessage.ImageMediaType = image.MediaType
	}
	if _, err := c.store.CreateMessage(ctx, userMessage); err != nil {
		return errors.Wrap(err, "failed to persist user message")
	}

	return c.startResponse(ctx, conversationID)
}

// SendHelpRequest is the "I need help" quick action.
func (c *Controller) SendHelpRequest(ctx context.Context, conversationID int32, image *llm.ImageBlock) error {
	return c.SendMessage(ctx, conversationID, helpRequestText, image)
}

// SendFinishedRequest is the "I think I'm finished" quick action.
func (c *Controller) SendFinishedRequest(ctx context.Context, conversationID int32, image *llm.ImageBlock) error {
	return c.SendMessage(ctx, conversationID, finishedRequestText, image)
}

// TriggerInitialResponse starts the first assistant response for a fresh
// conversation: the newest message is a user turn and no assistant turn
// exists yet. Any other shape is a no-op.
func (c *Controller) TriggerInitialResponse(ctx context.Context, conversationID int32) error {
	msgs, err := c.store.ListMessages(ctx, &store.FindMessage{ConversationID: &conversationID})
	if err != nil {
		return errors.Wrap(err, "failed to list messages")
	}
	if len(msgs) == 0 {
		return nil
	}
	last := msgs[len(msgs)-1]
	if last.Role != store.RoleUser {
		return nil
	}
	for _, m := range msgs {
		if m.Role == store.RoleAssistant {
			return nil
		}
	}
	if c.orchestrator.Active(conversationID) {
		return nil
	}

	return c.startResponse(ctx, conversationID)
}

// DeleteMessage removes a message. Deleting a user message also removes
// everything after it in creation order, since the thread from that point
// answered a message that no longer exists. Deleting an assistant message
// removes only it.
func (c *Controller) DeleteMessage(ctx context.Context, messageID int32) error {
	msg, err := c.store.GetMessage(ctx, &store.FindMessage{ID: &messageID})
	if err != nil {
		return errors.Wrap(err, "failed to load message")
	}
	if msg == nil {
		return nil
	}

	if msg.Role == store.RoleUser {
		if err := c.store.DeleteMessagesFrom(ctx, msg.ConversationID, msg.CreatedTs, msg.ID); err != nil {
			return errors.Wrap(err, "failed to delete message thread")
		}
		return nil
	}
	if err := c.store.DeleteMessage(ctx, &store.DeleteMessage{ID: msg.ID}); err != nil {
		return errors.Wrap(err, "failed to delete message")
	}
	return nil
}

// EditMessage replaces a message's text in place. Ordering and streaming
// state are unaffected.
func (c *Controller) EditMessage(ctx context.Context, messageID int32, newText string) error {
	msg, err := c.store.GetMessage(ctx, &store.FindMessage{ID: &messageID})
	if err != nil {
		return errors.Wrap(err, "failed to load message")
	}
	if msg == nil {
		return errors.Errorf("message %d not found", messageID)
	}
	if _, err := c.store.UpdateMessage(ctx, &store.UpdateMessage{ID: messageID, Text: &newText}); err != nil {
		return errors.Wrap(err, "failed to edit message")
	}
	return nil
}

// Regenerate replaces an assistant response: the message is deleted, a fresh
// placeholder is created, and a new stream begins from the history up to that
// point. No-op when the target is not an assistant message or a stream is
// already active.
func (c *Controller) Regenerate(ctx context.Context, messageID int32) error {
	msg, err := c.store.GetMessage(ctx, &store.FindMessage{ID: &messageID})
	if err != nil {
		return errors.Wrap(err, "failed to load message")
	}
	if msg == nil || msg.Role != store.RoleAssistant {
		return nil
	}
	if c.orchestrator.Active(msg.ConversationID) {
		return nil
	}

	if err := c.store.DeleteMessage(ctx, &store.DeleteMessage{ID: msg.ID}); err != nil {
		return errors.Wrap(err, "failed to delete message for regeneration")
	}

	return c.startResponse(ctx, msg.ConversationID)
}

// Cancel stops the in-flight stream for the conversation, if any.
func (c *Controller) Cancel(conversationID int32) {
	c.orchestrator.Cancel(conversationID)
}

// startResponse creates the streaming placeholder and begins the stream with
// a history snapshot that excludes it.
func (c *Controller) startResponse(ctx context.Context, conversationID int32) error {
	placeholder := &store.Message{
		UID:            shortuuid.New(),
		ConversationID: conversationID,
		Role:           store.RoleAssistant,
		CreatedTs:      time.Now().UnixMilli(),
		Streaming:      true,
	}
	placeholder, err := c.store.CreateMessage(ctx, placeholder)
	if err != nil {
		return errors.Wrap(err, "failed to persist placeholder message")
	}

	msgs, err := c.store.ListMessages(ctx, &store.FindMessage{ConversationID: &conversationID})
	if err != nil {
		return errors.Wrap(err, "failed to snapshot history")
	}
	history := BuildHistory(msgs)

	if err := c.orchestrator.BeginStream(conversationID, placeholder, history, c.systemPrompt); err != nil {
		// Lost a race with another stream. Absorb it, but do not leave an
		// orphaned placeholder behind.
		if errors.Is(err, ErrAlreadyStreaming) {
			if derr := c.store.DeleteMessage(ctx, &store.DeleteMessage{ID: placeholder.ID}); derr != nil {
				slog.Error("failed to remove orphaned placeholder",
					"message_id", placeholder.ID, "error", derr)
			}
			return nil
		}
		return err
	}
	return nil
}
