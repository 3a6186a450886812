package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-lms-api/internal/models"
	"github.com/noah-isme/sma-lms-api/internal/service"
	"github.com/noah-isme/sma-lms-api/pkg/response"
)

type chatService interface {
	StartConversation(ctx context.Context, creatorID string, req service.StartConversationRequest) (*models.Conversation, bool, error)
	ListConversations(ctx context.Context, userID string) ([]service.ConversationSummary, error)
	SendMessage(ctx context.Context, userID, conversationID string, req service.SendMessageRequest) (*models.Message, error)
	Poll(ctx context.Context, userID, conversationID string, since time.Time) ([]models.Message, error)
	MarkRead(ctx context.Context, userID, conversationID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	DeleteMessage(ctx context.Context, userID, messageID string) error
}

// ChatHandler serves the polling chat.
type ChatHandler struct {
	service chatService
}

// NewChatHandler constructs the handler.
func NewChatHandler(svc chatService) *ChatHandler {
	return &ChatHandler{service: svc}
}

// Start godoc
// @Summary Open (or reuse) a conversation
// @Tags Chat
// @Accept json
// @Produce json
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Router /conversations [post]
func (h *ChatHandler) Start(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req service.StartConversationRequest
	if !bindJSON(c, &req) {
		return
	}
	conv, created, err := h.service.StartConversation(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if created {
		response.Created(c, conv)
		return
	}
	response.OK(c, conv)
}

// List godoc
// @Summary Conversations of the caller with unread counts
// @Tags Chat
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /conversations [get]
func (h *ChatHandler) List(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	conversations, err := h.service.ListConversations(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, conversations)
}

// Unread godoc
// @Summary Total unread messages of the caller
// @Tags Chat
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /conversations/unread [get]
func (h *ChatHandler) Unread(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	count, err := h.service.UnreadCount(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"unread": count})
}

// Poll godoc
// @Summary Messages newer than since, oldest first
// @Tags Chat
// @Produce json
// @Param id path string true "Conversation ID"
// @Param since query string false "RFC3339 timestamp of the last message seen"
// @Success 200 {object} response.Envelope
// @Router /conversations/{id}/messages [get]
func (h *ChatHandler) Poll(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	since, ok := timeQuery(c, "since")
	if !ok {
		return
	}
	messages, err := h.service.Poll(c.Request.Context(), claims.UserID, c.Param("id"), since)
	if err != nil {
		response.Error(c, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	response.OK(c, messages)
}

// Send godoc
// @Summary Post a message
// @Tags Chat
// @Accept json
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 201 {object} response.Envelope
// @Router /conversations/{id}/messages [post]
func (h *ChatHandler) Send(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req service.SendMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.service.SendMessage(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, msg)
}

// MarkRead godoc
// @Summary Mark a conversation read
// @Tags Chat
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} response.Envelope
// @Router /conversations/{id}/read [post]
func (h *ChatHandler) MarkRead(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	marked, err := h.service.MarkRead(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"marked": marked}, nil)
}

// DeleteMessage godoc
// @Summary Hide one of the caller's messages
// @Tags Chat
// @Param id path string true "Message ID"
// @Success 204
// @Router /messages/{id} [delete]
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	if err := h.service.DeleteMessage(c.Request.Context(), claims.UserID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
