package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkmentor/inkmentor/store"
)

func TestBuildHistory(t *testing.T) {
	t.Run("OrdersByCreationTime", func(t *testing.T) {
		turns := BuildHistory([]*store.Message{
			{ID: 3, Role: store.RoleAssistant, Text: "second", CreatedTs: 200},
			{ID: 1, Role: store.RoleUser, Text: "first", CreatedTs: 100},
			{ID: 5, Role: store.RoleUser, Text: "third", CreatedTs: 300},
		})
		require.Len(t, turns, 3)
		assert.Equal(t, "first", turns[0].Text)
		assert.Equal(t, "second", turns[1].Text)
		assert.Equal(t, "third", turns[2].Text)
	})

	t.Run("TiesBrokenByInsertionOrder", func(t *testing.T) {
		turns := BuildHistory([]*store.Message{
			{ID: 2, Role: store.RoleAssistant, Text: "b", CreatedTs: 100},
			{ID: 1, Role: store.RoleUser, Text: "a", CreatedTs: 100},
		})
		require.Len(t, turns, 2)
		assert.Equal(t, "a", turns[0].Text)
		assert.Equal(t, "b", turns[1].Text)
	})

	t.Run("ExcludesStreamingMessages", func(t *testing.T) {
		turns := BuildHistory([]*store.Message{
			{ID: 1, Role: store.RoleUser, Text: "question", CreatedTs: 100},
			{ID: 2, Role: store.RoleAssistant, Text: "partial", CreatedTs: 200, Streaming: true},
		})
		require.Len(t, turns, 1)
		assert.Equal(t, "question", turns[0].Text)
	})

	t.Run("MapsUserImageToImageBlock", func(t *testing.T) {
		turns := BuildHistory([]*store.Message{
			{
				ID:             1,
				Role:           store.RoleUser,
				Text:           DrawingSubmittedPlaceholder,
				ImageData:      "aGVsbG8=",
				ImageMediaType: "image/jpeg",
				CreatedTs:      100,
			},
		})
		require.Len(t, turns, 1)
		require.NotNil(t, turns[0].Image)
		assert.Equal(t, "image/jpeg", turns[0].Image.MediaType)
		assert.Equal(t, "aGVsbG8=", turns[0].Image.Data)
	})

	t.Run("EmptyInput", func(t *testing.T) {
		assert.Empty(t, BuildHistory(nil))
	})

	t.Run("DoesNotMutateInput", func(t *testing.T) {
		messages := []*store.Message{
			{ID: 2, Role: store.RoleAssistant, Text: "b", CreatedTs: 200},
			{ID: 1, Role: store.RoleUser, Text: "a", CreatedTs: 100},
		}
		BuildHistory(messages)
		assert.Equal(t, int32(2), messages[0].ID)
		assert.Equal(t, int32(1), messages[1].ID)
	})
}
