package llm

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Config represents streaming service configuration.
type Config struct {
	BaseURL     string
	Model       string
	MaxTokens   int     // default: 4096
	Temperature float32 // default: 0.7
	Timeout     int     // request timeout in seconds (default: 120)
}

// Service is the OpenAI-compatible Adapter implementation. It is created
// unconfigured; Configure installs an API key (loaded from the credential
// store) and Reset removes it again.
type Service struct {
	mu     sync.RWMutex
	client *openai.Client
	cfg    Config
}

// NewService creates a streaming service. The service stays unusable until
// Configure is called with an API key.
func NewService(cfg Config) *Service {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120
	}
	return &Service{cfg: cfg}
}

// Configure installs the API key and builds the underlying client.
func (s *Service) Configure(apiKey string) {
	clientConfig := openai.DefaultConfig(apiKey)
	if s.cfg.BaseURL != "" {
		clientConfig.BaseURL = s.cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient()

	s.mu.Lock()
	s.client = openai.NewClientWithConfig(clientConfig)
	s.mu.Unlock()

	slog.Info("llm: service configured", "base_url", s.cfg.BaseURL, "model", s.cfg.Model)
}

// Reset drops the installed API key.
func (s *Service) Reset() {
	s.mu.Lock()
	s.client = nil
	s.mu.Unlock()
}

// IsConfigured reports whether an API key has been installed.
func (s *Service) IsConfigured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil
}

// Open issues the streaming request and normalizes provider events.
//
// Delta events carry cumulative text; the accumulation happens here exactly
// once so consumers cannot double-apply increments. The returned channel is
// closed when the stream ends.
func (s *Service) Open(ctx context.Context, req *Request) (<-chan Event, error) {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client == nil {
		return nil, ErrCredentialsNotConfigured
	}

	model := req.Model
	if model == "" {
		model = s.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.cfg.MaxTokens
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = s.cfg.Temperature
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages:    convertTurns(req.SystemPrompt, req.Turns),
	}

	eventCh := make(chan Event, 10)

	go func() {
		defer close(eventCh)

		ctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.Timeout)*time.Second)
		defer cancel()

		slog.Debug("llm: opening stream", "model", model, "turns", len(req.Turns))
		stream, err := client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			emit(ctx, eventCh, Event{Kind: EventError, Err: normalizeError(err)})
			return
		}
		defer func() { _ = stream.Close() }() //nolint:errcheck // cleanup

		var accumulated strings.Builder
		chunkCount := 0

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
					// Cooperative cancellation: stop delivering, no error event.
					slog.Debug("llm: stream cancelled", "chunks", chunkCount)
					return
				}
				if isEOF(err) {
					// End of sequence without an explicit terminal event.
					slog.Debug("llm: stream ended without stop event", "chunks", chunkCount)
					return
				}
				slog.Error("llm: stream receive error", "error", err, "chunks", chunkCount)
				emit(ctx, eventCh, Event{Kind: EventError, Err: normalizeError(err)})
				return
			}

			if len(response.Choices) == 0 {
				continue
			}
			choice := response.Choices[0]

			if choice.Delta.Content != "" {
				chunkCount++
				accumulated.WriteString(choice.Delta.Content)
				if !emit(ctx, eventCh, Event{Kind: EventDelta, Text: accumulated.String()}) {
					return
				}
			}

			switch choice.FinishReason {
			case "":
				continue
			case openai.FinishReasonContentFilter:
				slog.Warn("llm: model refused", "chunks", chunkCount)
				emit(ctx, eventCh, Event{Kind: EventRefusal})
				return
			default:
				slog.Debug("llm: stream finished",
					"reason", choice.FinishReason,
					"chunks", chunkCount,
					"content_length", accumulated.Len(),
				)
				emit(ctx, eventCh, Event{Kind: EventCompletion, Text: accumulated.String()})
				return
			}
		}
	}()

	return eventCh, nil
}

// emit sends an event unless the context is done. Reports whether the event
// was delivered.
func emit(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func isEOF(err error) bool {
	return err.Error() == "EOF" || strings.Contains(err.Error(), "EOF")
}

// normalizeError maps provider errors onto the domain taxonomy.
func normalizeError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return &RateLimitedError{}
		case http.StatusBadRequest:
			if strings.Contains(strings.ToLower(apiErr.Message), "context") &&
				strings.Contains(strings.ToLower(apiErr.Message), "length") {
				return ErrContextTooLong
			}
		}
		return &TransportError{Detail: apiErr.Message}
	}
	return &TransportError{Detail: err.Error()}
}

// convertTurns maps normalized turns onto the wire message format. A user
// turn with an image becomes a multi-part message with the image block first
// and the text block second.
func convertTurns(systemPrompt string, turns []Turn) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, turn := range turns {
		role := openai.ChatMessageRoleUser
		if turn.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}

		if turn.Image != nil && role == openai.ChatMessageRoleUser {
			messages = append(messages, openai.ChatCompletionMessage{
				Role: role,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    "data:" + turn.Image.MediaType + ";base64," + turn.Image.Data,
							Detail: openai.ImageURLDetailAuto,
						},
					},
					{
						Type: openai.ChatMessagePartTypeText,
						Text: turn.Text,
					},
				},
			})
			continue
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Text,
		})
	}

	return messages
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
