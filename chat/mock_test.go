package chat

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/inkmentor/inkmentor/chat/events"
	"github.com/inkmentor/inkmentor/llm"
	"github.com/inkmentor/inkmentor/store"
)

// memStore is an in-memory Store implementation for tests.
type memStore struct {
	mu            sync.Mutex
	conversations map[int32]*store.Conversation
	messages      map[int32]*store.Message
	nextID        int32

	// failUpdates makes UpdateMessage return an error while leaving the
	// stored state untouched.
	failUpdates bool
}

func newMemStore() *memStore {
	return &memStore{
		conversations: make(map[int32]*store.Conversation),
		messages:      make(map[int32]*store.Message),
	}
}

func (s *memStore) addConversation(name string) *store.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c := &store.Conversation{
		ID:        s.nextID,
		UID:       name,
		Name:      name,
		CreatedTs: time.Now().UnixMilli(),
		UpdatedTs: time.Now().UnixMilli(),
	}
	s.conversations[c.ID] = c
	return c
}

func (s *memStore) GetConversation(_ context.Context, find *store.FindConversation) (*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if find.ID != nil {
		if c, ok := s.conversations[*find.ID]; ok {
			clone := *c
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *memStore) CreateMessage(_ context.Context, create *store.Message) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	create.ID = s.nextID
	clone := *create
	s.messages[clone.ID] = &clone
	result := clone
	return &result, nil
}

func (s *memStore) GetMessage(_ context.Context, find *store.FindMessage) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if find.ID != nil {
		if m, ok := s.messages[*find.ID]; ok {
			clone := *m
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListMessages(_ context.Context, find *store.FindMessage) ([]*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*store.Message
	for _, m := range s.messages {
		if find.ConversationID != nil && m.ConversationID != *find.ConversationID {
			continue
		}
		if find.Streaming != nil && m.Streaming != *find.Streaming {
			continue
		}
		clone := *m
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedTs != result[j].CreatedTs {
			return result[i].CreatedTs < result[j].CreatedTs
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *memStore) UpdateMessage(_ context.Context, update *store.UpdateMessage) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdates {
		return nil, context.DeadlineExceeded
	}
	m, ok := s.messages[update.ID]
	if !ok {
		return nil, nil
	}
	if update.Text != nil {
		m.Text = *update.Text
	}
	if update.Streaming != nil {
		m.Streaming = *update.Streaming
	}
	clone := *m
	return &clone, nil
}

func (s *memStore) DeleteMessage(_ context.Context, d *store.DeleteMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, d.ID)
	return nil
}

func (s *memStore) DeleteMessagesFrom(_ context.Context, conversationID int32, createdTs int64, id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for mid, m := range s.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if m.CreatedTs > createdTs || (m.CreatedTs == createdTs && m.ID >= id) {
			delete(s.messages, mid)
		}
	}
	return nil
}

func (s *memStore) mustGet(t *testing.T, id int32) *store.Message {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		t.Fatalf("message %d not found", id)
	}
	clone := *m
	return &clone
}

func (s *memStore) count(conversationID int32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			n++
		}
	}
	return n
}

// scriptAdapter replays a fixed event sequence. With hold set it waits for
// the gate to be closed before sending; with stayOpen set it delivers the
// events and then keeps the channel open until the context is cancelled.
type scriptAdapter struct {
	events   []llm.Event
	openErr  error
	stayOpen bool
	hold     chan struct{}
}

func (a *scriptAdapter) Open(ctx context.Context, _ *llm.Request) (<-chan llm.Event, error) {
	if a.openErr != nil {
		return nil, a.openErr
	}
	ch := make(chan llm.Event)
	go func() {
		defer close(ch)
		if a.hold != nil {
			<-a.hold
		}
		for _, ev := range a.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if a.stayOpen {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

// recorder collects emitted events for assertion.
type recorder struct {
	ch chan recordedEvent
}

type recordedEvent struct {
	eventType events.Type
	data      any
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan recordedEvent, 64)}
}

func (r *recorder) callback(eventType events.Type, eventData any) error {
	r.ch <- recordedEvent{eventType: eventType, data: eventData}
	return nil
}

// waitTermination drains events until the stream terminates, returning the
// termination and all message updates seen on the way.
func (r *recorder) waitTermination(t *testing.T) (events.StreamTermination, []events.MessageUpdate) {
	t.Helper()
	var updates []events.MessageUpdate
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			switch data := ev.data.(type) {
			case events.MessageUpdate:
				updates = append(updates, data)
			case events.StreamTermination:
				return data, updates
			}
		case <-deadline:
			t.Fatal("timed out waiting for stream termination")
			return events.StreamTermination{}, nil
		}
	}
}

// expectQuiet asserts that no further events arrive within the window.
func (r *recorder) expectQuiet(t *testing.T, window time.Duration) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event %q after terminal state", ev.eventType)
	case <-time.After(window):
	}
}
