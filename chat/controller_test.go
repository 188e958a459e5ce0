package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkmentor/inkmentor/chat/events"
	"github.com/inkmentor/inkmentor/llm"
	"github.com/inkmentor/inkmentor/store"
)

// completingAdapter yields a short delta sequence ending in the given text.
func completingAdapter(final string) *scriptAdapter {
	return &scriptAdapter{events: []llm.Event{
		{Kind: llm.EventDelta, Text: final[:1]},
		{Kind: llm.EventDelta, Text: final},
		{Kind: llm.EventCompletion, Text: final},
	}}
}

func newTestController(s *memStore, adapter llm.Adapter) (*Controller, *recorder) {
	rec := newRecorder()
	o := NewOrchestrator(s, adapter, rec.callback, nil)
	return NewController(s, o, ""), rec
}

func seedMessage(t *testing.T, s *memStore, conversationID int32, role store.Role, text string, createdTs int64) *store.Message {
	t.Helper()
	m, err := s.CreateMessage(context.Background(), &store.Message{
		UID:            text,
		ConversationID: conversationID,
		Role:           role,
		Text:           text,
		CreatedTs:      createdTs,
	})
	require.NoError(t, err)
	return m
}

func TestController_SendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		s := newMemStore()
		conv := s.addConversation("sketch")
		c, rec := newTestController(s, completingAdapter("Try lighter strokes."))

		require.NoError(t, c.SendMessage(ctx, conv.ID, "  How do I shade this?  ", nil))

		termination, _ := rec.waitTermination(t)
		assert.Equal(t, events.OutcomeCompleted, termination.Outcome)

		msgs, err := s.ListMessages(ctx, &store.FindMessage{ConversationID: &conv.ID})
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, store.RoleUser, msgs[0].Role)
		assert.Equal(t, "How do I shade this?", msgs[0].Text)
		assert.Equal(t, store.RoleAssistant, msgs[1].Role)
		assert.Equal(t, "Try lighter strokes.", msgs[1].Text)
		assert.False(t, msgs[1].Streaming)
	})

	t.Run("EmptyInput_SilentNoop", func(t *testing.T) {
		s := newMemStore()
		conv := s.addConversation("sketch")
		c, _ := newTestController(s, completingAdapter("unused"))

		require.NoError(t, c.SendMessage(ctx, conv.ID, "   ", nil))
		assert.Zero(t, s.count(conv.ID))
	})

	t.Run("ImageOnly_GetsPlaceholderText", func(t *testing.T) {
		s := newMemStore()
		conv := s.addConversation("sketch")
		c, rec := newTestController(s, completingAdapter("Nice drawing."))

		image := &llm.ImageBlock{MediaType: "image/jpeg", Data: "aGVsbG8="}
		require.NoError(t, c.SendMessage(ctx, conv.ID, "", image))
		rec.waitTermination(t)

		msgs, err := s.ListMessages(ctx, &store.FindMessage{ConversationID: &conv.ID})
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, DrawingSubmittedPlaceholder, msgs[0].Text)
		assert.Equal(t, "aGVsbG8=", msgs[0].ImageData)
		assert.True(t, msgs[0].HasImage())
	})

	t.Run("WhileStreaming_SilentNoop", func(t *testing.T) {
		s := newMemStore()
		conv := s.addConversation("sketch")
		c, rec := newTestController(s, &scriptAdapter{stayOpen: true})

		require.NoError(t, c.SendMessage(ctx, conv.ID, "first", nil))
		before := s.count(conv.ID)

		require.NoError(t, c.SendMessage(ctx, conv.ID, "second", nil))
		assert.Equal(t, before, s.count(conv.ID))

		c.Cancel(conv.ID)
		rec.waitTermination(t)
	})

	t.Run("UnknownConversation_Error", func(t *testing.T) {
		s := newMemStore()
		c, _ := newTestController(s, completingAdapter("unused"))
		assert.Error(t, c.SendMessage(ctx, 42, "hello", nil))
	})
}

func TestController_QuickActions(t *testing.T) {
	ctx := context.Background()

	t.Run("HelpRequest", func(t *testing.T) {
		s := newMemStore()
		conv := s.addConversation("sketch")
		c, rec := newTestController(s, completingAdapter("A hint: start with the outline."))

		require.NoError(t, c.SendHelpRequest(ctx, conv.ID, nil))
		rec.waitTermination(t)

		msgs, err := s.ListMessages(ctx, &store.FindMessage{ConversationID: &conv.ID})
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, helpRequestText, msgs[0].Text)
	})

	t.Run("FinishedRequest", func(t *testing.T) {
		s := newMemStore()
		conv := s.addConversation("sketch")
		c, rec := newTestController(s, completingAdapter("Let's review it together."))

		require.NoError(t, c.SendFinishedRequest(ctx, conv.ID, nil))
		rec.waitTermination(t)

		msgs, err := s.ListMessages(ctx, &store.FindMessage{ConversationID: &conv.ID})
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, finishedRequestText, msgs[0].Text)
	})
}

func TestController_TriggerInitialResponse(t *testing.T) {
	ctx := context.Background()

	t.Run("FreshConversation_StartsStream", func(t *testing.T) {
		s := newMemStore()
		conv := s.addConversation("sketch")
		seedMessage(t, s, conv.ID, store.RoleUser, "Teach me perspective", 100)
		c, rec := newTestController(s, completingAdapter("What do you see when lines recede?"))

		require.NoError(t, c.TriggerInitialResponse(ctx, conv.ID))
		termination, _ := rec.waitTermination(t)
		assert.Equal(t, events.OutcomeCompleted, termination.Outcome)
		assert.Equal(t, 2, s.count(conv.ID))
	})

	t.Run("AssistantAlreadyAnswered_Noop", func(t *testing.T) {
		s := newMemStore()
		conv := s.addConversation("sketch")
		seedMessage(t, s, conv.ID, store.RoleUser, "hi", 100)
		seedMessage(t, s, conv.ID, store.RoleAssistant, "hello", 200)
		seedMessage(t, s, conv.ID, store.RoleUser, "more", 300)
		c, _ := newTestController(s, completingAdapter("unused"))

		require.NoError(t, c.TriggerInitialResponse(ctx, conv.ID))
		assert.Equal(t, 3, s.count(conv.ID))
	})

	t.Run("EmptyConversation_Noop", func(t *testing.T) {
		s := newMemStore()
		conv := s.addConversation("sketch")
		c, _ := newTestController(s, completingAdapter("unused"))

		require.NoError(t, c.TriggerInitialResponse(ctx, conv.ID))
		assert.Zero(t, s.count(conv.ID))
	})
}

func TestController_DeleteMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("UserMessage_CascadesForward", func(t *testing.T) {
		s := newMemStore()
		conv := s.addConversation("sketch")
		first := seedMessage(t, s, conv.ID, store.RoleUser, "q1", 100)
		seedMessage(t, s, conv.ID, store.RoleAssistant, "a1", 200)
		target := seedMessage(t, s, conv.ID, store.RoleUser, "q2", 300)
		seedMessage(t, s, conv.ID, store.RoleAssistant, "a2", 400)
		c, _ := newTestController(s, completingAdapter("unused"))

		require.NoError(t, c.DeleteMessage(ctx, target.ID))

		msgs, err := s.ListMessages(ctx, &store.FindMessage{ConversationID: &conv.ID})
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, first.ID, msgs[0].ID)
		assert.Equal(t, "a1", msgs[1].Text)
	})

	t.Run("AssistantMessage_DeletesOnlyItself", func(t *testing.T) {
		s := newMemStore()
		conv := s.addConversation("sketch")
		seedMessage(t, s, conv.ID, store.RoleUser, "q1", 100)
		target := seedMessage(t, s, conv.ID, store.RoleAssistant, "a1", 200)
		seedMessage(t, s, conv.ID, store.RoleUser, "q2", 300)
		c, _ := newTestController(s, completingAdapter("unused"))

		require.NoError(t, c.DeleteMessage(ctx, target.ID))

		msgs, err := s.ListMessages(ctx, &store.FindMessage{ConversationID: &conv.ID})
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "q1", msgs[0].Text)
		assert.Equal(t, "q2", msgs[1].Text)
	})

	t.Run("UnknownMessage_Noop", func(t *testing.T) {
		s := newMemStore()
		c, _ := newTestController(s, completingAdapter("unused"))
		require.NoError(t, c.DeleteMessage(ctx, 42))
	})
}

func TestController_EditMessage(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	conv := s.addConversation("sketch")
	target := seedMessage(t, s, conv.ID, store.RoleUser, "original", 100)
	c, _ := newTestController(s, completingAdapter("unused"))

	require.NoError(t, c.EditMessage(ctx, target.ID, "edited"))
	assert.Equal(t, "edited", s.mustGet(t, target.ID).Text)

	assert.Error(t, c.EditMessage(ctx, 999, "whatever"))
}

func TestController_Regenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("ReplacesAssistantMessage", func(t *testing.T) {
		s := newMemStore()
		conv := s.addConversation("sketch")
		seedMessage(t, s, conv.ID, store.RoleUser, "q1", 100)
		old := seedMessage(t, s, conv.ID, store.RoleAssistant, "weak answer", 200)
		c, rec := newTestController(s, completingAdapter("A better answer."))

		require.NoError(t, c.Regenerate(ctx, old.ID))
		termination, _ := rec.waitTermination(t)
		assert.Equal(t, events.OutcomeCompleted, termination.Outcome)

		msgs, err := s.ListMessages(ctx, &store.FindMessage{ConversationID: &conv.ID})
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.NotEqual(t, old.ID, msgs[1].ID)
		assert.Equal(t, "A better answer.", msgs[1].Text)
		assert.False(t, msgs[1].Streaming)
	})

	t.Run("UserMessage_Noop", func(t *testing.T) {
		s := newMemStore()
		conv := s.addConversation("sketch")
		target := seedMessage(t, s, conv.ID, store.RoleUser, "q1", 100)
		c, _ := newTestController(s, completingAdapter("unused"))

		require.NoError(t, c.Regenerate(ctx, target.ID))
		assert.Equal(t, 1, s.count(conv.ID))
	})

	t.Run("WhileStreaming_Noop", func(t *testing.T) {
		s := newMemStore()
		conv := s.addConversation("sketch")
		seedMessage(t, s, conv.ID, store.RoleUser, "q1", 100)
		old := seedMessage(t, s, conv.ID, store.RoleAssistant, "a1", 200)
		c, rec := newTestController(s, &scriptAdapter{stayOpen: true})

		require.NoError(t, c.SendMessage(ctx, conv.ID, "q2", nil))
		before := s.count(conv.ID)

		require.NoError(t, c.Regenerate(ctx, old.ID))
		assert.Equal(t, before, s.count(conv.ID))
		assert.Equal(t, "a1", s.mustGet(t, old.ID).Text)

		c.Cancel(conv.ID)
		rec.waitTermination(t)
	})
}

func TestController_StreamingPlaceholderExcludedFromHistory(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	conv := s.addConversation("sketch")

	var captured []llm.Turn
	adapter := &captureAdapter{inner: completingAdapter("ok"), captured: &captured}
	c, rec := newTestController(s, adapter)

	require.NoError(t, c.SendMessage(ctx, conv.ID, "hello", nil))
	rec.waitTermination(t)

	require.Len(t, captured, 1)
	assert.Equal(t, "hello", captured[0].Text)
	assert.Equal(t, "user", captured[0].Role)
}

// captureAdapter records the request history before delegating.
type captureAdapter struct {
	inner    llm.Adapter
	captured *[]llm.Turn
}

func (a *captureAdapter) Open(ctx context.Context, req *llm.Request) (<-chan llm.Event, error) {
	*a.captured = req.Turns
	return a.inner.Open(ctx, req)
}
