package server

import (
	"sync"

	"github.com/inkmentor/inkmentor/chat/events"
)

// StreamEvent is the wire form of an orchestrator notification delivered to
// SSE subscribers.
type StreamEvent struct {
	Type           string `json:"type"`
	ConversationID int32  `json:"conversation_id"`
	MessageID      int32  `json:"message_id"`
	Text           string `json:"text,omitempty"`
	Outcome        string `json:"outcome,omitempty"`
	Error          string `json:"error,omitempty"`
}

// hub fans orchestrator events out to per-conversation SSE subscribers.
// Slow subscribers are skipped rather than blocking the stream; the
// transcript in the store remains the source of truth.
type hub struct {
	mu   sync.RWMutex
	subs map[int32]map[chan StreamEvent]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[int32]map[chan StreamEvent]struct{})}
}

// subscribe registers a listener for one conversation. The returned cancel
// function must be called when the listener goes away.
func (h *hub) subscribe(conversationID int32) (<-chan StreamEvent, func()) {
	ch := make(chan StreamEvent, 64)

	h.mu.Lock()
	if h.subs[conversationID] == nil {
		h.subs[conversationID] = make(map[chan StreamEvent]struct{})
	}
	h.subs[conversationID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[conversationID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, conversationID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// notify is the events.Callback wired into the orchestrator.
func (h *hub) notify(eventType events.Type, eventData any) error {
	var ev StreamEvent
	switch data := eventData.(type) {
	case events.MessageUpdate:
		ev = StreamEvent{
			Type:           string(eventType),
			ConversationID: data.ConversationID,
			MessageID:      data.MessageID,
			Text:           data.Text,
		}
	case events.StreamTermination:
		ev = StreamEvent{
			Type:           string(eventType),
			ConversationID: data.ConversationID,
			MessageID:      data.MessageID,
			Outcome:        string(data.Outcome),
		}
		if data.Err != nil {
			ev.Error = data.Err.Error()
		}
	default:
		return nil
	}

	h.mu.RLock()
	for ch := range h.subs[ev.ConversationID] {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full; drop rather than stall the stream.
		}
	}
	h.mu.RUnlock()
	return nil
}
