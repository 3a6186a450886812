package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-lms-api/internal/models"
	"github.com/noah-isme/sma-lms-api/internal/service"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
)

type chatFake struct {
	created   bool
	since     time.Time
	sent      service.SendMessageRequest
	deleteErr error
}

func (f *chatFake) StartConversation(_ context.Context, creatorID string, req service.StartConversationRequest) (*models.Conversation, bool, error) {
	return &models.Conversation{ID: primitive.NewObjectID(), ParticipantIDs: append(req.ParticipantIDs, creatorID), CreatedBy: creatorID}, f.created, nil
}

func (f *chatFake) ListConversations(context.Context, string) ([]service.ConversationSummary, error) {
	return []service.ConversationSummary{}, nil
}

func (f *chatFake) SendMessage(_ context.Context, userID, _ string, req service.SendMessageRequest) (*models.Message, error) {
	f.sent = req
	return &models.Message{ID: primitive.NewObjectID(), SenderID: userID, Body: req.Body}, nil
}

func (f *chatFake) Poll(_ context.Context, _, _ string, since time.Time) ([]models.Message, error) {
	f.since = since
	return nil, nil
}

func (f *chatFake) MarkRead(context.Context, string, string) (int64, error) {
	return 3, nil
}

func (f *chatFake) UnreadCount(context.Context, string) (int, error) {
	return 4, nil
}

func (f *chatFake) DeleteMessage(context.Context, string, string) error {
	return f.deleteErr
}

func chatRouter(svc chatService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	Register(router.Group(""), testTokens, Handlers{Chat: NewChatHandler(svc)}, zap.NewNop())
	return router
}

func sendAs(router *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestChatStartCreatedOrReused(t *testing.T) {
	svc := &chatFake{created: true}
	router := chatRouter(svc)

	rec := sendAs(router, http.MethodPost, "/conversations", "s1", `{"participant_ids":["tch"]}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	svc.created = false
	rec = sendAs(router, http.MethodPost, "/conversations", "s1", `{"participant_ids":["tch"]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChatPollSince(t *testing.T) {
	svc := &chatFake{}
	router := chatRouter(svc)
	id := primitive.NewObjectID().Hex()

	rec := sendAs(router, http.MethodGet, "/conversations/"+id+"/messages?since=2026-05-01T10:00:00Z", "s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC), svc.since.UTC())
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())

	rec = sendAs(router, http.MethodGet, "/conversations/"+id+"/messages?since=yesterday", "s1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatSendAndCounters(t *testing.T) {
	svc := &chatFake{}
	router := chatRouter(svc)
	id := primitive.NewObjectID().Hex()

	rec := sendAs(router, http.MethodPost, "/conversations/"+id+"/messages", "s1", `{"body":"hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "hello", svc.sent.Body)

	rec = sendAs(router, http.MethodPost, "/conversations/"+id+"/read", "s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"marked":3`)

	rec = sendAs(router, http.MethodGet, "/conversations/unread", "s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unread":4`)
}

func TestChatDeleteMessage(t *testing.T) {
	svc := &chatFake{}
	router := chatRouter(svc)

	rec := sendAs(router, http.MethodDelete, "/messages/abc", "s1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	svc.deleteErr = appErrors.Clone(appErrors.ErrNotFound, "message not found")
	rec = sendAs(router, http.MethodDelete, "/messages/abc", "s1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
