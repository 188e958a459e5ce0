// Package server exposes the chat core over HTTP: a JSON API for transcript
// and conversation management plus an SSE feed for stream progress.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/inkmentor/inkmentor/canvas"
	"github.com/inkmentor/inkmentor/chat"
	"github.com/inkmentor/inkmentor/credentials"
	"github.com/inkmentor/inkmentor/internal/profile"
	"github.com/inkmentor/inkmentor/llm"
	"github.com/inkmentor/inkmentor/metrics"
	"github.com/inkmentor/inkmentor/store"
)

// Server wires the chat core together and serves the API.
type Server struct {
	e *echo.Echo

	Profile *profile.Profile
	Store   *store.Store

	controller   *chat.Controller
	orchestrator *chat.Orchestrator
	llmService   *llm.Service
	credStore    *credentials.Store
	exporter     *canvas.Exporter
	metrics      *metrics.StreamMetrics
	hub          *hub
}

// NewServer builds the full service graph on top of the store.
func NewServer(ctx context.Context, profile *profile.Profile, st *store.Store) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))
	e.Use(middleware.CORS())
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(30))))

	streamMetrics := metrics.New()
	eventHub := newHub()

	llmService := llm.NewService(llm.Config{
		BaseURL:     profile.LLMBaseURL,
		Model:       profile.LLMModel,
		MaxTokens:   profile.LLMMaxTokens,
		Temperature: profile.LLMTemperature,
		Timeout:     profile.LLMTimeout,
	})

	credStore := credentials.NewStore(profile.Data)
	if apiKey, err := credStore.Load(); err != nil {
		slog.Warn("failed to load stored api key", "error", err)
	} else if apiKey != "" {
		llmService.Configure(apiKey)
	}

	orchestrator := chat.NewOrchestrator(st, llmService, eventHub.notify, streamMetrics)
	controller := chat.NewController(st, orchestrator, "")

	s := &Server{
		e:            e,
		Profile:      profile,
		Store:        st,
		controller:   controller,
		orchestrator: orchestrator,
		llmService:   llmService,
		credStore:    credStore,
		exporter:     canvas.NewExporter(profile.ExportMaxDimension, profile.ExportMaxBytes),
		metrics:      streamMetrics,
		hub:          eventHub,
	}
	s.registerRoutes()

	// Any message still flagged streaming was abandoned by a previous
	// process; finalize it before serving traffic.
	finalized, err := st.FinalizeStreamingMessages(ctx, chat.AbandonedPlaceholder, time.Now().UnixMilli())
	if err != nil {
		return nil, errors.Wrap(err, "failed to finalize abandoned streams")
	}
	if finalized > 0 {
		slog.Info("finalized abandoned streaming messages", "count", finalized)
	}

	return s, nil
}

// Start begins serving. It returns immediately; failures surface on the
// returned error of Shutdown or in logs.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("server listening", "address", address, "version", s.Profile.Version)
	go func() {
		if err := s.e.Start(address); err != nil {
			slog.Error("server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.e.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down server", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("server shut down")
}
