// Chat HTTP handlers - message send and reply stream endpoints
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumabook/lumabook/pkg/config"
	"github.com/lumabook/lumabook/pkg/models"
	"github.com/lumabook/lumabook/pkg/service"
)

// ChatHandler handles chat-related HTTP requests
type ChatHandler struct {
	chatService *service.ChatService
	liveness    service.LivenessStore
	cfg         *config.AppConfig
	logger      *slog.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *service.ChatService, liveness service.LivenessStore, cfg *config.AppConfig, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		liveness:    liveness,
		cfg:         cfg,
		logger:      logger,
	}
}

// RegisterRoutes registers chat routes on the authenticated API group.
func (h *ChatHandler) RegisterRoutes(r *gin.RouterGroup) {
	conversations := r.Group("/conversations")
	{
		conversations.POST("", h.CreateConversation)
		conversations.POST("/:id/messages", h.SendMessage)
		conversations.POST("/:id/messages/cancel", h.CancelStream)
	}
}

// RegisterStreamRoutes registers the reply stream endpoint. The caller
// mounts these behind the stream token middleware and the origin gate.
func (h *ChatHandler) RegisterStreamRoutes(r *gin.RouterGroup) {
	r.GET("/messages/:id", h.StreamMessage)
}

// CreateConversation handles POST /api/v1/conversations
func (h *ChatHandler) CreateConversation(c *gin.Context) {
	var req models.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.OwnerID = c.GetString(ContextUserID)

	conv, err := h.chatService.CreateConversation(&req)
	if err != nil {
		h.logger.Error("create conversation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversation"})
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// SendMessage handles POST /api/v1/conversations/:id/messages
//
// A provider failure is not an API failure: the assistant message comes back
// in a terminal error state with status 201. API errors are reserved for
// requests that never produced a message pair.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID := c.GetString(ContextUserID)
	conversationID := c.Param("id")

	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	idemKey := c.GetHeader("Idempotency-Key")

	resp, err := h.chatService.SendMessage(c.Request.Context(), userID, conversationID, &req, idemKey)
	if err != nil {
		h.writeSendError(c, err)
		return
	}

	if resp.Replayed {
		c.JSON(http.StatusOK, resp)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *ChatHandler) writeSendError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyContent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrModelNotConfigured):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConversationBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrIdempotencyConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrBudgetExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		h.logger.Error("send message failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
	}
}

// CancelStream handles POST /api/v1/conversations/:id/messages/cancel
func (h *ChatHandler) CancelStream(c *gin.Context) {
	userID := c.GetString(ContextUserID)

	var req struct {
		MessageID string `json:"message_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.chatService.CancelStream(req.MessageID, userID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "canceling"})
	case errors.Is(err, service.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNoActiveStream):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("cancel stream failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel stream"})
	}
}

// StreamMessage handles GET /stream/messages/:id
//
// Frames already emitted are replayed first, so a reconnecting client sees
// the full reply from the beginning. Keepalive comments go out between
// frames and each one refreshes the producer's liveness key on behalf of
// the attached viewer.
func (h *ChatHandler) StreamMessage(c *gin.Context) {
	userID := c.GetString(ContextUserID)
	messageID := c.Param("id")

	msg, err := h.chatService.GetMessage(messageID, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}

	session := h.chatService.Registry().Get(messageID)
	if session == nil {
		// Producer already finished (or never existed). Serve the stored
		// terminal state as a single frame so late attachers still converge.
		h.streamFinished(c, msg)
		return
	}

	events, unsubscribe := session.Subscribe()
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	w := c.Writer
	keepalive := time.NewTicker(h.cfg.KeepaliveInterval())
	defer keepalive.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeSSE(w, ev.Name, ev.Data)

		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			w.Flush()
			if err := h.liveness.Refresh(c.Request.Context(), messageID); err != nil {
				h.logger.Warn("refresh liveness failed", "messageID", messageID, "error", err)
			}

		case <-c.Request.Context().Done():
			return
		}
	}
}

// streamFinished emits the terminal frame for a message whose producer is
// gone. A still-pending row here means the producer died without finalizing;
// the sweeper owns that case, so the viewer just gets nothing yet.
func (h *ChatHandler) streamFinished(c *gin.Context, msg *models.Message) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	w := c.Writer

	switch msg.Status {
	case models.MessageStatusComplete:
		writeSSE(w, models.StreamEventDone, models.StreamDone{
			MessageID:         msg.ID,
			Content:           msg.Content,
			Usage:             msg.Usage,
			ProviderRequestID: msg.ProviderRequestID,
		})
	case models.MessageStatusError:
		writeSSE(w, models.StreamEventError, models.StreamError{
			MessageID: msg.ID,
			Code:      msg.ErrorCode,
			Message:   msg.ErrorMessage,
		})
	default:
		c.Status(http.StatusNoContent)
	}
}

func writeSSE(w gin.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	w.Flush()
}
