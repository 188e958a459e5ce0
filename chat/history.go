package chat

import (
	"sort"

	"github.com/inkmentor/inkmentor/llm"
	"github.com/inkmentor/inkmentor/store"
)

// BuildHistory converts persisted messages into the ordered request turns
// sent to the model API.
//
// Messages still marked streaming are excluded: they are responses being
// written right now and must never be sent back as prior context. The rest
// are ordered by creation time ascending, ties broken by insertion order. A
// user message with an attached image becomes a turn with the image block
// before the text block; everything else is text-only.
//
// Pure function: no side effects, deterministic for a given input.
func BuildHistory(messages []*store.Message) []llm.Turn {
	filtered := make([]*store.Message, 0, len(messages))
	for _, m := range messages {
		if m.Streaming {
			continue
		}
		filtered = append(filtered, m)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].CreatedTs != filtered[j].CreatedTs {
			return filtered[i].CreatedTs < filtered[j].CreatedTs
		}
		return filtered[i].ID < filtered[j].ID
	})

	turns := make([]llm.Turn, 0, len(filtered))
	for _, m := range filtered {
		turn := llm.Turn{
			Role: string(m.Role),
			Text: m.Text,
		}
		if m.HasImage() {
			turn.Image = &llm.ImageBlock{
				MediaType: m.ImageMediaType,
				Data:      m.ImageData,
			}
		}
		turns = append(turns, turn)
	}

	return turns
}
