package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/noah-isme/sma-lms-api/internal/models"
)

const (
	conversationCollection = "conversations"
	messageCollection      = "messages"
)

// ChatRepository stores conversations and messages in MongoDB.
type ChatRepository struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
}

// NewChatRepository binds the repository to db.
func NewChatRepository(db *mongo.Database) *ChatRepository {
	return &ChatRepository{
		conversations: db.Collection(conversationCollection),
		messages:      db.Collection(messageCollection),
	}
}

// EnsureIndexes creates the indexes the chat queries rely on.
func (r *ChatRepository) EnsureIndexes(ctx context.Context) error {
	if _, err := r.conversations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "participantIds", Value: 1}, {Key: "lastMessageAt", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("conversation indexes: %w", err)
	}
	if _, err := r.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversationId", Value: 1}, {Key: "createdAt", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("message indexes: %w", err)
	}
	return nil
}

// CreateConversation inserts conv and sets its id.
func (r *ChatRepository) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	res, err := r.conversations.InsertOne(ctx, conv)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		conv.ID = id
	}
	return nil
}

// FindConversation returns mongo.ErrNoDocuments when id is unknown or deleted.
func (r *ChatRepository) FindConversation(ctx context.Context, id primitive.ObjectID) (*models.Conversation, error) {
	var conv models.Conversation
	filter := bson.M{"_id": id, "deletedAt": nil}
	if err := r.conversations.FindOne(ctx, filter).Decode(&conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// FindByParticipants finds a live conversation with exactly these participants.
func (r *ChatRepository) FindByParticipants(ctx context.Context, participantIDs []string) (*models.Conversation, error) {
	filter := bson.M{
		"participantIds": bson.M{"$all": participantIDs, "$size": len(participantIDs)},
		"deletedAt":      nil,
	}
	var conv models.Conversation
	if err := r.conversations.FindOne(ctx, filter).Decode(&conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns the user's live conversations, most recently
// active first.
func (r *ChatRepository) ListConversations(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	filter := bson.M{"participantIds": userID, "deletedAt": nil}
	opts := options.Find().
		SetSort(bson.D{{Key: "lastMessageAt", Value: -1}, {Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := r.conversations.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find conversations: %w", err)
	}
	conversations := make([]models.Conversation, 0)
	if err := cursor.All(ctx, &conversations); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return conversations, nil
}

// InsertMessage stores msg and bumps the conversation's last activity.
func (r *ChatRepository) InsertMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []string{}
	}
	res, err := r.messages.InsertOne(ctx, msg)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		msg.ID = id
	}
	_, err = r.conversations.UpdateOne(ctx,
		bson.M{"_id": msg.ConversationID},
		bson.M{"$max": bson.M{"lastMessageAt": msg.CreatedAt}},
	)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// ListMessagesSince returns live messages created strictly after since,
// oldest first.
func (r *ChatRepository) ListMessagesSince(ctx context.Context, conversationID primitive.ObjectID, since time.Time, limit int) ([]models.Message, error) {
	filter := bson.M{"conversationId": conversationID, "deletedAt": nil}
	if !since.IsZero() {
		filter["createdAt"] = bson.M{"$gt": since}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	cursor, err := r.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	messages := make([]models.Message, 0)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return messages, nil
}

// MarkRead adds userID to readBy on every unread message from others.
func (r *ChatRepository) MarkRead(ctx context.Context, conversationID primitive.ObjectID, userID string) (int64, error) {
	filter := bson.M{
		"conversationId": conversationID,
		"senderId":       bson.M{"$ne": userID},
		"readBy":         bson.M{"$ne": userID},
		"deletedAt":      nil,
	}
	res, err := r.messages.UpdateMany(ctx, filter, bson.M{"$addToSet": bson.M{"readBy": userID}})
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return res.ModifiedCount, nil
}

// UnreadByConversation counts unread messages per conversation for userID.
func (r *ChatRepository) UnreadByConversation(ctx context.Context, userID string, conversationIDs []primitive.ObjectID) (map[primitive.ObjectID]int, error) {
	counts := make(map[primitive.ObjectID]int, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return counts, nil
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"conversationId": bson.M{"$in": conversationIDs},
			"senderId":       bson.M{"$ne": userID},
			"readBy":         bson.M{"$ne": userID},
			"deletedAt":      nil,
		}}},
		{{Key: "$group", Value: bson.M{"_id": "$conversationId", "count": bson.M{"$sum": 1}}}},
	}
	cursor, err := r.messages.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate unread: %w", err)
	}
	var rows []struct {
		ID    primitive.ObjectID `bson:"_id"`
		Count int                `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode unread: %w", err)
	}
	for _, row := range rows {
		counts[row.ID] = row.Count
	}
	return counts, nil
}

// SoftDeleteMessage hides a message sent by senderID.
func (r *ChatRepository) SoftDeleteMessage(ctx context.Context, id primitive.ObjectID, senderID string) error {
	filter := bson.M{"_id": id, "senderId": senderID, "deletedAt": nil}
	res, err := r.messages.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"deletedAt": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}
