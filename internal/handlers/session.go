package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-core/internal/delivery"
	"chat-core/internal/directory"
	"chat-core/internal/models"
	"chat-core/internal/telemetry"
)

// SessionHandler exposes the delivery orchestrator to the rest of the
// product over HTTP. It hides whether push or poll is currently
// authoritative; callers only ever see the reconciled view.
type SessionHandler struct {
	orch      *delivery.Orchestrator
	directory *directory.Service
	emitter   *telemetry.AuditEmitter
	userID    string
	pageSize  int
}

// NewSessionHandler builds a SessionHandler.
func NewSessionHandler(orch *delivery.Orchestrator, dir *directory.Service, emitter *telemetry.AuditEmitter, userID string, pageSize int) *SessionHandler {
	return &SessionHandler{
		orch:      orch,
		directory: dir,
		emitter:   emitter,
		userID:    userID,
		pageSize:  pageSize,
	}
}

// ListConversations returns one page of the session user's conversations.
func (h *SessionHandler) ListConversations(c *gin.Context) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", h.pageSize)

	conversations, hasMore, err := h.directory.Conversations(c.Request.Context(), page, pageSize)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations, "has_more": hasMore})
}

// OpenConversation attaches a conversation view and loads its history.
func (h *SessionHandler) OpenConversation(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	if err := h.orch.Open(c.Request.Context(), conversationID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load conversation"})
		return
	}
	c.Status(http.StatusNoContent)
}

// CloseConversation detaches a conversation view.
func (h *SessionHandler) CloseConversation(c *gin.Context) {
	h.orch.Close(c.Param("conversation_id"))
	c.Status(http.StatusNoContent)
}

// GetMessages returns the reconciled message sequence.
func (h *SessionHandler) GetMessages(c *gin.Context) {
	msgs, err := h.orch.Messages(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not open"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage submits a message through the orchestrator. A rejected
// submission returns the trimmed content so the caller can restore the
// input field.
func (h *SessionHandler) PostMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.orch.Send(c.Request.Context(), conversationID, req.Content)
	if err != nil {
		var sendErr *delivery.SendError
		switch {
		case errors.Is(err, delivery.ErrEmptyMessage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "message content is empty"})
		case errors.Is(err, delivery.ErrConversationNotOpen):
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not open"})
		case errors.As(err, &sendErr):
			h.emitter.Emit(c.Request.Context(), "WARN", "message submission rejected", requestIDFromContext(c), h.userID)
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to send message", "content": sendErr.Content})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		}
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// PostTyping forwards a local typing signal.
func (h *SessionHandler) PostTyping(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	var req struct {
		State string `json:"state" binding:"required,oneof=start stop"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.State == "start" {
		h.orch.StartTyping(conversationID)
	} else {
		h.orch.StopTyping(conversationID)
	}
	c.Status(http.StatusAccepted)
}

// GetTyping returns the users currently typing.
func (h *SessionHandler) GetTyping(c *gin.Context) {
	typers := h.orch.Typing(c.Param("conversation_id"))
	if typers == nil {
		typers = []models.TypingState{}
	}
	c.JSON(http.StatusOK, gin.H{"typers": typers})
}

// GetConnection reports the push channel state.
func (h *SessionHandler) GetConnection(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": h.orch.ConnectionState()})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	val := c.Query(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}
