package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkmentor/inkmentor/internal/profile"
	"github.com/inkmentor/inkmentor/store"
)

func newTestDriver(t *testing.T) store.Driver {
	t.Helper()
	p := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	}
	driver, err := NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	require.NoError(t, driver.Migrate(context.Background()))
	return driver
}

func createConversation(t *testing.T, d store.Driver, uid string) *store.Conversation {
	t.Helper()
	conv, err := d.CreateConversation(context.Background(), &store.Conversation{
		UID:       uid,
		Name:      "Sketching practice",
		Topic:     "perspective",
		CreatedTs: 1000,
		UpdatedTs: 1000,
	})
	require.NoError(t, err)
	return conv
}

func createMessage(t *testing.T, d store.Driver, m *store.Message) *store.Message {
	t.Helper()
	created, err := d.CreateMessage(context.Background(), m)
	require.NoError(t, err)
	return created
}

func TestConversationCRUD(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)

	conv := createConversation(t, d, "conv-1")
	require.NotZero(t, conv.ID)

	t.Run("FindByID", func(t *testing.T) {
		list, err := d.ListConversations(ctx, &store.FindConversation{ID: &conv.ID})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Sketching practice", list[0].Name)
		assert.Equal(t, "perspective", list[0].Topic)
	})

	t.Run("DrawingOnlyLoadedOnRequest", func(t *testing.T) {
		drawing := []byte{0x89, 0x50, 0x4e, 0x47}
		_, err := d.UpdateConversation(ctx, &store.UpdateConversation{ID: conv.ID, DrawingData: &drawing})
		require.NoError(t, err)

		list, err := d.ListConversations(ctx, &store.FindConversation{ID: &conv.ID})
		require.NoError(t, err)
		assert.Nil(t, list[0].DrawingData)

		list, err = d.ListConversations(ctx, &store.FindConversation{ID: &conv.ID, WithDrawing: true})
		require.NoError(t, err)
		assert.Equal(t, drawing, list[0].DrawingData)
	})

	t.Run("Update", func(t *testing.T) {
		name := "Renamed"
		updatedTs := int64(2000)
		updated, err := d.UpdateConversation(ctx, &store.UpdateConversation{
			ID:        conv.ID,
			Name:      &name,
			UpdatedTs: &updatedTs,
		})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", updated.Name)
		assert.Equal(t, int64(2000), updated.UpdatedTs)
	})

	t.Run("DeleteCascadesToMessages", func(t *testing.T) {
		victim := createConversation(t, d, "conv-victim")
		createMessage(t, d, &store.Message{
			UID: "msg-cascade", ConversationID: victim.ID,
			Role: store.RoleUser, Text: "hello", CreatedTs: 1500,
		})

		require.NoError(t, d.DeleteConversation(ctx, &store.DeleteConversation{ID: victim.ID}))

		msgs, err := d.ListMessages(ctx, &store.FindMessage{ConversationID: &victim.ID})
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestMessageCRUD(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)
	conv := createConversation(t, d, "conv-1")

	t.Run("OrderedByCreationTimeThenID", func(t *testing.T) {
		createMessage(t, d, &store.Message{UID: "m2", ConversationID: conv.ID, Role: store.RoleAssistant, Text: "second", CreatedTs: 200})
		createMessage(t, d, &store.Message{UID: "m1", ConversationID: conv.ID, Role: store.RoleUser, Text: "first", CreatedTs: 100})
		createMessage(t, d, &store.Message{UID: "m3", ConversationID: conv.ID, Role: store.RoleUser, Text: "third", CreatedTs: 200})

		msgs, err := d.ListMessages(ctx, &store.FindMessage{ConversationID: &conv.ID})
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "first", msgs[0].Text)
		assert.Equal(t, "second", msgs[1].Text)
		assert.Equal(t, "third", msgs[2].Text)
	})

	t.Run("RejectsUnknownRole", func(t *testing.T) {
		_, err := d.CreateMessage(ctx, &store.Message{
			UID: "bad-role", ConversationID: conv.ID, Role: "system", CreatedTs: 300,
		})
		assert.Error(t, err)
	})

	t.Run("FilterByStreaming", func(t *testing.T) {
		createMessage(t, d, &store.Message{
			UID: "m-streaming", ConversationID: conv.ID,
			Role: store.RoleAssistant, CreatedTs: 400, Streaming: true,
		})

		streaming := true
		msgs, err := d.ListMessages(ctx, &store.FindMessage{ConversationID: &conv.ID, Streaming: &streaming})
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "m-streaming", msgs[0].UID)
	})

	t.Run("UpdateTextAndStreaming", func(t *testing.T) {
		m := createMessage(t, d, &store.Message{
			UID: "m-update", ConversationID: conv.ID,
			Role: store.RoleAssistant, CreatedTs: 500, Streaming: true,
		})

		text := "final text"
		notStreaming := false
		updated, err := d.UpdateMessage(ctx, &store.UpdateMessage{ID: m.ID, Text: &text, Streaming: &notStreaming})
		require.NoError(t, err)
		assert.Equal(t, "final text", updated.Text)
		assert.False(t, updated.Streaming)
	})
}

func TestDeleteMessagesFrom(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)
	conv := createConversation(t, d, "conv-1")
	other := createConversation(t, d, "conv-2")

	first := createMessage(t, d, &store.Message{UID: "m1", ConversationID: conv.ID, Role: store.RoleUser, Text: "q1", CreatedTs: 100})
	createMessage(t, d, &store.Message{UID: "m2", ConversationID: conv.ID, Role: store.RoleAssistant, Text: "a1", CreatedTs: 200})
	target := createMessage(t, d, &store.Message{UID: "m3", ConversationID: conv.ID, Role: store.RoleUser, Text: "q2", CreatedTs: 300})
	createMessage(t, d, &store.Message{UID: "m4", ConversationID: conv.ID, Role: store.RoleAssistant, Text: "a2", CreatedTs: 400})
	untouched := createMessage(t, d, &store.Message{UID: "m5", ConversationID: other.ID, Role: store.RoleUser, Text: "elsewhere", CreatedTs: 300})

	require.NoError(t, d.DeleteMessagesFrom(ctx, conv.ID, target.CreatedTs, target.ID))

	msgs, err := d.ListMessages(ctx, &store.FindMessage{ConversationID: &conv.ID})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, first.ID, msgs[0].ID)

	msgs, err = d.ListMessages(ctx, &store.FindMessage{ConversationID: &other.ID})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, untouched.ID, msgs[0].ID)
}

func TestFinalizeStreamingMessages(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)
	conv := createConversation(t, d, "conv-1")

	empty := createMessage(t, d, &store.Message{
		UID: "m-empty", ConversationID: conv.ID,
		Role: store.RoleAssistant, CreatedTs: 100, Streaming: true,
	})
	partial := createMessage(t, d, &store.Message{
		UID: "m-partial", ConversationID: conv.ID,
		Role: store.RoleAssistant, Text: "partial answer", CreatedTs: 200, Streaming: true,
	})
	settled := createMessage(t, d, &store.Message{
		UID: "m-settled", ConversationID: conv.ID,
		Role: store.RoleAssistant, Text: "done", CreatedTs: 300,
	})

	count, err := d.FinalizeStreamingMessages(ctx, "[interrupted]", 999)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	msgs, err := d.ListMessages(ctx, &store.FindMessage{ConversationID: &conv.ID})
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	byID := map[int32]*store.Message{}
	for _, m := range msgs {
		byID[m.ID] = m
	}
	assert.Equal(t, "[interrupted]", byID[empty.ID].Text)
	assert.False(t, byID[empty.ID].Streaming)
	assert.Equal(t, "partial answer", byID[partial.ID].Text)
	assert.False(t, byID[partial.ID].Streaming)
	assert.Equal(t, "done", byID[settled.ID].Text)
}
