package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/inkmentor/inkmentor/internal/version"
	"github.com/inkmentor/inkmentor/llm"
	"github.com/inkmentor/inkmentor/store"
)

type conversationResponse struct {
	ID        int32  `json:"id"`
	UID       string `json:"uid"`
	Name      string `json:"name"`
	Topic     string `json:"topic"`
	CreatedTs int64  `json:"created_ts"`
	UpdatedTs int64  `json:"updated_ts"`
}

type messageResponse struct {
	ID             int32  `json:"id"`
	UID            string `json:"uid"`
	ConversationID int32  `json:"conversation_id"`
	Role           string `json:"role"`
	Text           string `json:"text"`
	HasImage       bool   `json:"has_image"`
	CreatedTs      int64  `json:"created_ts"`
	Streaming      bool   `json:"streaming"`
}

type createConversationRequest struct {
	Name         string `json:"name"`
	Topic        string `json:"topic"`
	FirstMessage string `json:"first_message"`
}

type updateConversationRequest struct {
	Name  *string `json:"name"`
	Topic *string `json:"topic"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
	// AttachDrawing exports the conversation's current drawing and attaches
	// it to the message.
	AttachDrawing bool `json:"attach_drawing"`
	// DarkCanvas tells the exporter the drawing uses light strokes on a dark
	// surface.
	DarkCanvas bool `json:"dark_canvas"`
	// ImageData attaches an already-encoded image directly, bypassing the
	// export pipeline. Ignored when AttachDrawing is set.
	ImageData      string `json:"image_data"`
	ImageMediaType string `json:"image_media_type"`
}

// imageFromRequest resolves the attached image for a send request: the
// exported drawing when requested, otherwise any inline payload.
func (s *Server) imageFromRequest(c echo.Context, conversationID int32, req *sendMessageRequest) (*llm.ImageBlock, error) {
	if req.AttachDrawing {
		return s.exportDrawing(c, conversationID, req.DarkCanvas)
	}
	if req.ImageData != "" {
		mediaType := req.ImageMediaType
		if mediaType == "" {
			mediaType = "image/jpeg"
		}
		return &llm.ImageBlock{MediaType: mediaType, Data: req.ImageData}, nil
	}
	return nil, nil
}

type editMessageRequest struct {
	Text string `json:"text"`
}

type credentialsRequest struct {
	APIKey string `json:"api_key"`
}

func (s *Server) registerRoutes() {
	s.e.GET("/healthz", s.handleHealth)
	s.e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	g := s.e.Group("/api/v1")

	g.POST("/conversations", s.handleCreateConversation)
	g.GET("/conversations", s.handleListConversations)
	g.GET("/conversations/:id", s.handleGetConversation)
	g.PATCH("/conversations/:id", s.handleUpdateConversation)
	g.DELETE("/conversations/:id", s.handleDeleteConversation)

	g.GET("/conversations/:id/messages", s.handleListMessages)
	g.POST("/conversations/:id/messages", s.handleSendMessage)
	g.POST("/conversations/:id/help", s.handleSendHelp)
	g.POST("/conversations/:id/finished", s.handleSendFinished)
	g.POST("/conversations/:id/cancel", s.handleCancel)
	g.GET("/conversations/:id/events", s.handleEvents)

	g.GET("/conversations/:id/drawing", s.handleGetDrawing)
	g.PUT("/conversations/:id/drawing", s.handlePutDrawing)

	g.PATCH("/messages/:id", s.handleEditMessage)
	g.DELETE("/messages/:id", s.handleDeleteMessage)
	g.POST("/messages/:id/regenerate", s.handleRegenerate)

	g.GET("/credentials", s.handleGetCredentials)
	g.PUT("/credentials", s.handlePutCredentials)
	g.DELETE("/credentials", s.handleDeleteCredentials)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.GetCurrentVersion(s.Profile.Mode),
	})
}

func parseID(c echo.Context) (int32, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return int32(id), nil
}

func toConversationResponse(c *store.Conversation) *conversationResponse {
	return &conversationResponse{
		ID:        c.ID,
		UID:       c.UID,
		Name:      c.Name,
		Topic:     c.Topic,
		CreatedTs: c.CreatedTs,
		UpdatedTs: c.UpdatedTs,
	}
}

func toMessageResponse(m *store.Message) *messageResponse {
	return &messageResponse{
		ID:             m.ID,
		UID:            m.UID,
		ConversationID: m.ConversationID,
		Role:           string(m.Role),
		Text:           m.Text,
		HasImage:       m.HasImage(),
		CreatedTs:      m.CreatedTs,
		Streaming:      m.Streaming,
	}
}

func (s *Server) handleCreateConversation(c echo.Context) error {
	ctx := c.Request().Context()
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}

	now := time.Now().UnixMilli()
	conversation, err := s.Store.CreateConversation(ctx, &store.Conversation{
		UID:       shortuuid.New(),
		Name:      req.Name,
		Topic:     req.Topic,
		CreatedTs: now,
		UpdatedTs: now,
	})
	if err != nil {
		slog.Error("failed to create conversation", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create conversation")
	}

	// Seed the thread and kick off the first assistant response.
	if req.FirstMessage != "" {
		if _, err := s.Store.CreateMessage(ctx, &store.Message{
			UID:            shortuuid.New(),
			ConversationID: conversation.ID,
			Role:           store.RoleUser,
			Text:           req.FirstMessage,
			CreatedTs:      time.Now().UnixMilli(),
		}); err != nil {
			slog.Error("failed to seed conversation", "conversation_id", conversation.ID, "error", err)
		} else if err := s.controller.TriggerInitialResponse(ctx, conversation.ID); err != nil {
			slog.Error("failed to trigger initial response", "conversation_id", conversation.ID, "error", err)
		}
	}

	return c.JSON(http.StatusCreated, toConversationResponse(conversation))
}

func (s *Server) handleListConversations(c echo.Context) error {
	list, err := s.Store.ListConversations(c.Request().Context(), &store.FindConversation{})
	if err != nil {
		slog.Error("failed to list conversations", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list conversations")
	}
	resp := make([]*conversationResponse, 0, len(list))
	for _, conv := range list {
		resp = append(resp, toConversationResponse(conv))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetConversation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	conversation, err := s.Store.GetConversation(c.Request().Context(), &store.FindConversation{ID: &id})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load conversation")
	}
	if conversation == nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	return c.JSON(http.StatusOK, toConversationResponse(conversation))
}

func (s *Server) handleUpdateConversation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req updateConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == nil && req.Topic == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "nothing to update")
	}
	conversation, err := s.Store.UpdateConversation(c.Request().Context(), &store.UpdateConversation{
		ID:    id,
		Name:  req.Name,
		Topic: req.Topic,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update conversation")
	}
	return c.JSON(http.StatusOK, toConversationResponse(conversation))
}

func (s *Server) handleDeleteConversation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	// Stop any in-flight stream before the transcript disappears under it.
	s.orchestrator.Cancel(id)
	if err := s.Store.DeleteConversation(c.Request().Context(), &store.DeleteConversation{ID: id}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete conversation")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListMessages(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	list, err := s.Store.ListMessages(c.Request().Context(), &store.FindMessage{ConversationID: &id})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list messages")
	}
	resp := make([]*messageResponse, 0, len(list))
	for _, m := range list {
		resp = append(resp, toMessageResponse(m))
	}
	return c.JSON(http.StatusOK, resp)
}

// exportDrawing renders the conversation's stored drawing into an image
// payload, or nil when there is no drawing or it is blank.
func (s *Server) exportDrawing(c echo.Context, conversationID int32, darkCanvas bool) (*llm.ImageBlock, error) {
	ctx := c.Request().Context()
	conversation, err := s.Store.GetConversation(ctx, &store.FindConversation{ID: &conversationID, WithDrawing: true})
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to load conversation")
	}
	if conversation == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	image, err := s.exporter.Export(ctx, conversation.DrawingData, darkCanvas)
	if err != nil {
		slog.Error("failed to export drawing", "conversation_id", conversationID, "error", err)
		return nil, echo.NewHTTPError(http.StatusUnprocessableEntity, "failed to export drawing")
	}
	return image, nil
}

func (s *Server) handleSendMessage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	image, err := s.imageFromRequest(c, id, &req)
	if err != nil {
		return err
	}

	if err := s.controller.SendMessage(c.Request().Context(), id, req.Text, image); err != nil {
		slog.Error("failed to send message", "conversation_id", id, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to send message")
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleSendHelp(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	image, err := s.imageFromRequest(c, id, &req)
	if err != nil {
		return err
	}
	if err := s.controller.SendHelpRequest(c.Request().Context(), id, image); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to send message")
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleSendFinished(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	image, err := s.imageFromRequest(c, id, &req)
	if err != nil {
		return err
	}
	if err := s.controller.SendFinishedRequest(c.Request().Context(), id, image); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to send message")
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleCancel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	s.controller.Cancel(id)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleEditMessage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req editMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.controller.EditMessage(c.Request().Context(), id, req.Text); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to edit message")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDeleteMessage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := s.controller.DeleteMessage(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete message")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRegenerate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := s.controller.Regenerate(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to regenerate response")
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleGetDrawing(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	conversation, err := s.Store.GetConversation(c.Request().Context(), &store.FindConversation{ID: &id, WithDrawing: true})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load conversation")
	}
	if conversation == nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if len(conversation.DrawingData) == 0 {
		return c.NoContent(http.StatusNoContent)
	}
	return c.Blob(http.StatusOK, "application/octet-stream", conversation.DrawingData)
}

func (s *Server) handlePutDrawing(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read drawing body")
	}
	if _, err := s.Store.UpdateConversation(c.Request().Context(), &store.UpdateConversation{
		ID:          id,
		DrawingData: &data,
	}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save drawing")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetCredentials(c echo.Context) error {
	masked := s.credStore.Masked()
	return c.JSON(http.StatusOK, map[string]any{
		"configured": masked != "",
		"masked_key": masked,
	})
}

func (s *Server) handlePutCredentials(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.APIKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "api_key is required")
	}
	if err := s.credStore.Save(req.APIKey); err != nil {
		slog.Error("failed to save api key", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save api key")
	}
	s.llmService.Configure(req.APIKey)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDeleteCredentials(c echo.Context) error {
	if err := s.credStore.Delete(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete api key")
	}
	s.llmService.Reset()
	return c.NoContent(http.StatusNoContent)
}

// handleEvents streams orchestrator notifications for one conversation as
// server-sent events until the client disconnects.
func (s *Server) handleEvents(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	ch, cancel := s.hub.subscribe(id)
	defer cancel()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	ctx := c.Request().Context()
	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepalive.C:
			if _, err := fmt.Fprint(resp, ": keepalive\n\n"); err != nil {
				return nil
			}
			resp.Flush()
		case ev := <-ch:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(resp, "data: %s\n\n", payload); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}
