package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-lms-api/internal/models"
	"github.com/noah-isme/sma-lms-api/pkg/config"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
)

const maxConversationsScanned = 200

type chatStore interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	FindConversation(ctx context.Context, id primitive.ObjectID) (*models.Conversation, error)
	FindByParticipants(ctx context.Context, participantIDs []string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]models.Conversation, error)
	InsertMessage(ctx context.Context, msg *models.Message) error
	ListMessagesSince(ctx context.Context, conversationID primitive.ObjectID, since time.Time, limit int) ([]models.Message, error)
	MarkRead(ctx context.Context, conversationID primitive.ObjectID, userID string) (int64, error)
	UnreadByConversation(ctx context.Context, userID string, conversationIDs []primitive.ObjectID) (map[primitive.ObjectID]int, error)
	SoftDeleteMessage(ctx context.Context, id primitive.ObjectID, senderID string) error
}

type chatUserReader interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

// StartConversationRequest opens a thread with other users.
type StartConversationRequest struct {
	ParticipantIDs []string `json:"participant_ids" validate:"required,min=1,dive,required"`
	Title          string   `json:"title" validate:"max=120"`
}

// SendMessageRequest posts a message to a conversation.
type SendMessageRequest struct {
	Body string `json:"body" validate:"required"`
}

// ConversationSummary is a conversation with the caller's unread count.
type ConversationSummary struct {
	models.Conversation
	Unread int `json:"unread"`
}

// ChatService is a polling chat between school users.
type ChatService struct {
	store     chatStore
	users     chatUserReader
	cache     *CacheService
	metrics   *MetricsService
	cfg       config.ChatConfig
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewChatService constructs the service.
func NewChatService(store chatStore, users chatUserReader, cache *CacheService, metrics *MetricsService, cfg config.ChatConfig, validate *validator.Validate, logger *zap.Logger) *ChatService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollLimit <= 0 {
		cfg.PollLimit = 50
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 4000
	}
	return &ChatService{store: store, users: users, cache: cache, metrics: metrics, cfg: cfg, validator: validate, logger: logger, now: time.Now}
}

func unreadKey(userID string) string {
	return "chat:unread:" + userID
}

// StartConversation returns the existing thread for the same participants or
// creates a new one.
func (s *ChatService) StartConversation(ctx context.Context, creatorID string, req StartConversationRequest) (*models.Conversation, bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid conversation payload")
	}
	participants := normalizeParticipants(creatorID, req.ParticipantIDs)
	if len(participants) < 2 {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "a conversation needs at least one other participant")
	}
	users, err := s.users.FindByIDs(ctx, participants)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participants")
	}
	if len(users) != len(participants) {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "unknown participant")
	}

	existing, err := s.store.FindByParticipants(ctx, participants)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, mongo.ErrNoDocuments):
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up conversation")
	}

	conv := &models.Conversation{
		ParticipantIDs: participants,
		Title:          strings.TrimSpace(req.Title),
		CreatedBy:      creatorID,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create conversation")
	}
	s.logger.Info("conversation started", zap.String("conversation_id", conv.ID.Hex()), zap.Int("participants", len(participants)))
	return conv, true, nil
}

// ListConversations returns the user's conversations with unread counts.
func (s *ChatService) ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	conversations, err := s.store.ListConversations(ctx, userID, maxConversationsScanned)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list conversations")
	}
	unread, err := s.store.UnreadByConversation(ctx, userID, conversationIDs(conversations))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count unread messages")
	}
	out := make([]ConversationSummary, 0, len(conversations))
	for _, conv := range conversations {
		out = append(out, ConversationSummary{Conversation: conv, Unread: unread[conv.ID]})
	}
	return out, nil
}

// SendMessage posts body as userID.
func (s *ChatService) SendMessage(ctx context.Context, userID, conversationID string, req SendMessageRequest) (*models.Message, error) {
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "message body is required")
	}
	if len(body) > s.cfg.MaxMessageBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("message exceeds %d bytes", s.cfg.MaxMessageBytes))
	}
	conv, err := s.participantConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       userID,
		Body:           body,
		ReadBy:         []string{userID},
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to send message")
	}
	s.metrics.RecordChatMessage()

	keys := make([]string, 0, len(conv.ParticipantIDs))
	for _, id := range conv.ParticipantIDs {
		if id != userID {
			keys = append(keys, unreadKey(id))
		}
	}
	s.cache.Delete(ctx, keys...)
	return msg, nil
}

// Poll returns messages newer than since, oldest first.
func (s *ChatService) Poll(ctx context.Context, userID, conversationID string, since time.Time) ([]models.Message, error) {
	conv, err := s.participantConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessagesSince(ctx, conv.ID, since, s.cfg.PollLimit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load messages")
	}
	return messages, nil
}

// MarkRead marks every message in the conversation read for userID.
func (s *ChatService) MarkRead(ctx context.Context, userID, conversationID string) (int64, error) {
	conv, err := s.participantConversation(ctx, userID, conversationID)
	if err != nil {
		return 0, err
	}
	n, err := s.store.MarkRead(ctx, conv.ID, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark messages read")
	}
	if n > 0 {
		s.cache.Delete(ctx, unreadKey(userID))
	}
	return n, nil
}

// UnreadCount totals unread messages across the user's conversations.
func (s *ChatService) UnreadCount(ctx context.Context, userID string) (int, error) {
	var cached int
	if s.cache.Get(ctx, unreadKey(userID), &cached) {
		return cached, nil
	}
	conversations, err := s.store.ListConversations(ctx, userID, maxConversationsScanned)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list conversations")
	}
	unread, err := s.store.UnreadByConversation(ctx, userID, conversationIDs(conversations))
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count unread messages")
	}
	total := 0
	for _, n := range unread {
		total += n
	}
	s.cache.Set(ctx, unreadKey(userID), total, s.cfg.UnreadCacheTTL)
	return total, nil
}

// DeleteMessage hides one of the caller's own messages.
func (s *ChatService) DeleteMessage(ctx context.Context, userID, messageID string) error {
	id, err := primitive.ObjectIDFromHex(messageID)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "invalid message id")
	}
	if err := s.store.SoftDeleteMessage(ctx, id, userID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return appErrors.Clone(appErrors.ErrNotFound, "message not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete message")
	}
	return nil
}

func (s *ChatService) participantConversation(ctx context.Context, userID, conversationID string) (*models.Conversation, error) {
	id, err := primitive.ObjectIDFromHex(conversationID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid conversation id")
	}
	conv, err := s.store.FindConversation(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "conversation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load conversation")
	}
	if !conv.HasParticipant(userID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a participant of this conversation")
	}
	return conv, nil
}

func normalizeParticipants(creatorID string, others []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(others)+1)
	for _, id := range append([]string{creatorID}, others...) {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func conversationIDs(conversations []models.Conversation) []primitive.ObjectID {
	ids := make([]primitive.ObjectID, 0, len(conversations))
	for _, c := range conversations {
		ids = append(ids, c.ID)
	}
	return ids
}
