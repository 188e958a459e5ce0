package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkmentor/inkmentor/chat/events"
	"github.com/inkmentor/inkmentor/llm"
	"github.com/inkmentor/inkmentor/metrics"
	"github.com/inkmentor/inkmentor/store"
)

// Store is the persistence surface the chat package needs. *store.Store
// satisfies it; tests substitute an in-memory implementation.
type Store interface {
	GetConversation(ctx context.Context, find *store.FindConversation) (*store.Conversation, error)
	CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error)
	GetMessage(ctx context.Context, find *store.FindMessage) (*store.Message, error)
	ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error)
	UpdateMessage(ctx context.Context, update *store.UpdateMessage) (*store.Message, error)
	DeleteMessage(ctx context.Context, delete *store.DeleteMessage) error
	DeleteMessagesFrom(ctx context.Context, conversationID int32, createdTs int64, id int32) error
}

// State is the orchestrator's position in the stream lifecycle. Terminal
// transitions discard the handle, so an observed state is always Idle,
// Requesting or Streaming.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateStreaming  State = "streaming"
)

// StreamHandle tracks one in-flight stream. At most one exists per
// conversation; it is discarded on any terminal transition. All fields after
// cancel are guarded by the orchestrator mutex.
type StreamHandle struct {
	id             string
	conversationID int32
	messageID      int32
	cancel         context.CancelFunc
	state          State
	terminated     bool
	lastText       string
	startedAt      time.Time
}

// Orchestrator drives at most one streamed response per conversation through
// to a terminal state while keeping the transcript consistent.
//
// Events are applied strictly in arrival order by the single goroutine that
// owns the stream; the mutex only arbitrates between that goroutine and
// Cancel. Once a terminal state is recorded, trailing events are discarded.
type Orchestrator struct {
	store   Store
	adapter llm.Adapter
	notify  events.SafeCallback
	metrics *metrics.StreamMetrics

	mu     sync.Mutex
	active map[int32]*StreamHandle
}

// NewOrchestrator creates an orchestrator. notify may be nil; m may be nil.
func NewOrchestrator(s Store, adapter llm.Adapter, notify events.Callback, m *metrics.StreamMetrics) *Orchestrator {
	return &Orchestrator{
		store:   s,
		adapter: adapter,
		notify:  events.WrapSafe(notify),
		metrics: m,
		active:  make(map[int32]*StreamHandle),
	}
}

// BeginStream opens a stream that will fill placeholder with the assistant
// response. Returns ErrAlreadyStreaming if a stream is already active for the
// conversation; the existing handle is undisturbed. The call returns
// immediately: a background goroutine consumes events and reports progress
// via the event callback.
func (o *Orchestrator) BeginStream(conversationID int32, placeholder *store.Message, history []llm.Turn, systemPrompt string) error {
	// The stream must outlive the request that started it, so it gets its own
	// context rather than the caller's.
	streamCtx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	if _, ok := o.active[conversationID]; ok {
		o.mu.Unlock()
		cancel()
		return ErrAlreadyStreaming
	}
	h := &StreamHandle{
		id:             uuid.NewString(),
		conversationID: conversationID,
		messageID:      placeholder.ID,
		cancel:         cancel,
		state:          StateRequesting,
		startedAt:      time.Now(),
	}
	o.active[conversationID] = h
	o.mu.Unlock()

	o.metrics.StreamStarted()
	slog.Info("stream started",
		"stream_id", h.id,
		"conversation_id", conversationID,
		"message_id", placeholder.ID,
		"history_turns", len(history),
	)

	go o.run(streamCtx, h, &llm.Request{
		Turns:        history,
		SystemPrompt: systemPrompt,
	})

	return nil
}

// Active reports whether a stream is in flight for the conversation.
func (o *Orchestrator) Active(conversationID int32) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[conversationID]
	return ok
}

// State returns the lifecycle state for the conversation.
func (o *Orchestrator) State(conversationID int32) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok := o.active[conversationID]; ok {
		return h.state
	}
	return StateIdle
}

// Cancel stops the active stream for the conversation, if any. The local
// state transition is immediate and unconditional: every message still marked
// streaming is finalized right away (empty ones receive the cancellation
// placeholder), regardless of when the adapter observes the cancelled
// context. Trailing adapter events are discarded. Calling Cancel with no
// active stream, or twice, is a no-op.
func (o *Orchestrator) Cancel(conversationID int32) {
	o.mu.Lock()
	h, ok := o.active[conversationID]
	if !ok {
		o.mu.Unlock()
		return
	}
	h.terminated = true
	delete(o.active, conversationID)

	ctx := context.Background()
	updates := o.sweepStreamingLocked(ctx, conversationID)
	o.mu.Unlock()

	h.cancel()

	for _, u := range updates {
		o.emit(events.TypeMessageUpdated, u)
	}
	o.emit(events.TypeStreamTerminated, events.StreamTermination{
		ConversationID: conversationID,
		MessageID:      h.messageID,
		Outcome:        events.OutcomeCancelled,
	})
	o.metrics.StreamTerminated(string(events.OutcomeCancelled), time.Since(h.startedAt))
	slog.Info("stream cancelled", "stream_id", h.id, "conversation_id", conversationID)
}

// sweepStreamingLocked finalizes every message still marked streaming in the
// conversation. Caller holds the mutex.
func (o *Orchestrator) sweepStreamingLocked(ctx context.Context, conversationID int32) []events.MessageUpdate {
	streaming := true
	msgs, err := o.store.ListMessages(ctx, &store.FindMessage{
		ConversationID: &conversationID,
		Streaming:      &streaming,
	})
	if err != nil {
		slog.Error("failed to list streaming messages during cancel",
			"conversation_id", conversationID, "error", err)
		return nil
	}

	var updates []events.MessageUpdate
	for _, m := range msgs {
		notStreaming := false
		update := &store.UpdateMessage{ID: m.ID, Streaming: &notStreaming}
		text := m.Text
		if text == "" {
			text = CancelledPlaceholder
			update.Text = &text
		}
		if _, err := o.store.UpdateMessage(ctx, update); err != nil {
			// Persistence failures do not roll back in-memory state.
			slog.Error("failed to finalize cancelled message",
				"message_id", m.ID, "error", err)
		}
		updates = append(updates, events.MessageUpdate{
			ConversationID: conversationID,
			MessageID:      m.ID,
			Text:           text,
		})
	}
	return updates
}

// run consumes adapter events for one stream. It is the only writer to the
// placeholder message while the stream lives.
func (o *Orchestrator) run(ctx context.Context, h *StreamHandle, req *llm.Request) {
	eventCh, err := o.adapter.Open(ctx, req)
	if err != nil {
		o.finishError(h, err)
		return
	}

	for ev := range eventCh {
		switch ev.Kind {
		case llm.EventDelta:
			o.applyDelta(h, ev.Text)
		case llm.EventRefusal:
			o.finishRefusal(h)
			return
		case llm.EventCompletion:
			o.finishCompleted(h, ev.Text)
			return
		case llm.EventError:
			o.finishError(h, ev.Err)
			return
		}
	}

	// End of sequence without an explicit terminal event: non-empty
	// accumulated text counts as a completion, an empty stream is an error.
	o.mu.Lock()
	accumulated := h.lastText
	o.mu.Unlock()
	if accumulated != "" {
		o.finishCompleted(h, accumulated)
	} else {
		o.finishError(h, llm.ErrEmptyResponse)
	}
}

// applyDelta overwrites the placeholder text with the cumulative text so far.
// The message stays in the streaming state.
func (o *Orchestrator) applyDelta(h *StreamHandle, text string) {
	ctx := context.Background()

	o.mu.Lock()
	if h.terminated {
		o.mu.Unlock()
		return
	}
	h.state = StateStreaming
	h.lastText = text
	if _, err := o.store.UpdateMessage(ctx, &store.UpdateMessage{ID: h.messageID, Text: &text}); err != nil {
		slog.Error("failed to persist delta", "message_id", h.messageID, "error", err)
	}
	o.mu.Unlock()

	o.metrics.DeltaApplied()
	o.emit(events.TypeMessageUpdated, events.MessageUpdate{
		ConversationID: h.conversationID,
		MessageID:      h.messageID,
		Text:           text,
	})
}

// finishCompleted finalizes the placeholder with the final text.
func (o *Orchestrator) finishCompleted(h *StreamHandle, text string) {
	ctx := context.Background()

	o.mu.Lock()
	if h.terminated {
		o.mu.Unlock()
		return
	}
	h.terminated = true
	delete(o.active, h.conversationID)

	notStreaming := false
	if _, err := o.store.UpdateMessage(ctx, &store.UpdateMessage{
		ID:        h.messageID,
		Text:      &text,
		Streaming: &notStreaming,
	}); err != nil {
		slog.Error("failed to persist completed message", "message_id", h.messageID, "error", err)
	}
	o.mu.Unlock()

	h.cancel()
	o.emit(events.TypeMessageUpdated, events.MessageUpdate{
		ConversationID: h.conversationID,
		MessageID:      h.messageID,
		Text:           text,
	})
	o.emit(events.TypeStreamTerminated, events.StreamTermination{
		ConversationID: h.conversationID,
		MessageID:      h.messageID,
		Outcome:        events.OutcomeCompleted,
	})
	o.metrics.StreamTerminated(string(events.OutcomeCompleted), time.Since(h.startedAt))
	slog.Info("stream completed",
		"stream_id", h.id,
		"conversation_id", h.conversationID,
		"content_length", len(text),
		"duration_ms", time.Since(h.startedAt).Milliseconds(),
	)
}

// finishRefusal finalizes the placeholder after a model-level refusal. The
// refusal is surfaced as a user-visible error, not transcript content, so an
// empty message stays empty.
func (o *Orchestrator) finishRefusal(h *StreamHandle) {
	ctx := context.Background()

	o.mu.Lock()
	if h.terminated {
		o.mu.Unlock()
		return
	}
	h.terminated = true
	delete(o.active, h.conversationID)

	notStreaming := false
	if _, err := o.store.UpdateMessage(ctx, &store.UpdateMessage{
		ID:        h.messageID,
		Streaming: &notStreaming,
	}); err != nil {
		slog.Error("failed to persist refused message", "message_id", h.messageID, "error", err)
	}
	o.mu.Unlock()

	h.cancel()
	o.emit(events.TypeStreamTerminated, events.StreamTermination{
		ConversationID: h.conversationID,
		MessageID:      h.messageID,
		Outcome:        events.OutcomeErrored,
		Err:            llm.ErrModelRefused,
	})
	o.metrics.StreamTerminated(string(events.OutcomeErrored), time.Since(h.startedAt))
	slog.Warn("stream refused", "stream_id", h.id, "conversation_id", h.conversationID)
}

// finishError finalizes the placeholder after a transport or API failure. An
// empty message receives a literal description of the failure.
func (o *Orchestrator) finishError(h *StreamHandle, cause error) {
	ctx := context.Background()

	o.mu.Lock()
	if h.terminated {
		o.mu.Unlock()
		return
	}
	h.terminated = true
	delete(o.active, h.conversationID)

	notStreaming := false
	update := &store.UpdateMessage{ID: h.messageID, Streaming: &notStreaming}
	text := h.lastText
	if text == "" {
		text = ErrorPlaceholder(cause)
		update.Text = &text
	}
	if _, err := o.store.UpdateMessage(ctx, update); err != nil {
		slog.Error("failed to persist errored message", "message_id", h.messageID, "error", err)
	}
	o.mu.Unlock()

	h.cancel()
	o.emit(events.TypeMessageUpdated, events.MessageUpdate{
		ConversationID: h.conversationID,
		MessageID:      h.messageID,
		Text:           text,
	})
	o.emit(events.TypeStreamTerminated, events.StreamTermination{
		ConversationID: h.conversationID,
		MessageID:      h.messageID,
		Outcome:        events.OutcomeErrored,
		Err:            cause,
	})
	o.metrics.StreamTerminated(string(events.OutcomeErrored), time.Since(h.startedAt))
	slog.Warn("stream errored",
		"stream_id", h.id,
		"conversation_id", h.conversationID,
		"error", cause,
	)
}

func (o *Orchestrator) emit(eventType events.Type, data any) {
	if o.notify == nil {
		return
	}
	o.notify(eventType, data)
}
