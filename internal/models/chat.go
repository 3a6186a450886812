package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Conversation is a chat thread between two or more users.
type Conversation struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ParticipantIDs []string           `bson:"participantIds" json:"participant_ids"`
	Title          string             `bson:"title,omitempty" json:"title,omitempty"`
	LastMessageAt  *time.Time         `bson:"lastMessageAt,omitempty" json:"last_message_at,omitempty"`
	CreatedBy      string             `bson:"createdBy" json:"created_by"`
	CreatedAt      time.Time          `bson:"createdAt" json:"created_at"`
	DeletedAt      *time.Time         `bson:"deletedAt,omitempty" json:"-"`
}

// DeletedAtTime implements SoftDeletable.
func (c *Conversation) DeletedAtTime() *time.Time { return c.DeletedAt }

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Message is a single chat message.
type Message struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ConversationID primitive.ObjectID `bson:"conversationId" json:"conversation_id"`
	SenderID       string             `bson:"senderId" json:"sender_id"`
	Body           string             `bson:"body" json:"body"`
	ReadBy         []string           `bson:"readBy" json:"read_by"`
	CreatedAt      time.Time          `bson:"createdAt" json:"created_at"`
	DeletedAt      *time.Time         `bson:"deletedAt,omitempty" json:"-"`
}

// DeletedAtTime implements SoftDeletable.
func (m *Message) DeletedAtTime() *time.Time { return m.DeletedAt }
