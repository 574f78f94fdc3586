package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hirehub/internal/messaging"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("mongo: conversation not found")

// ErrFacilitatorAssigned is returned when a different facilitator
// already occupies the slot. The participant set only grows and the
// facilitator is attached at most once.
var ErrFacilitatorAssigned = errors.New("mongo: facilitator already assigned")

// Conversation is the durable registry record for a chat thread.
type Conversation struct {
	ID              string    `bson:"_id"`
	RequesterID     string    `bson:"requester_id"`
	RequesterName   string    `bson:"requester_name"`
	ProviderID      string    `bson:"provider_id"`
	ProviderName    string    `bson:"provider_name"`
	FacilitatorID   string    `bson:"facilitator_id,omitempty"`
	FacilitatorName string    `bson:"facilitator_name,omitempty"`
	LinkedJobID     string    `bson:"linked_job_id,omitempty"`
	CreatedAt       time.Time `bson:"created_at"`
	LastMessageAt   time.Time `bson:"last_message_at"`
	LastSenderID    string    `bson:"last_sender_id,omitempty"`
	LastMessageText string    `bson:"last_message_text,omitempty"`

	ReadAt map[string]time.Time `bson:"read_at,omitempty"`
}

// Participants maps the record onto the wire-visible membership shape.
func (c Conversation) Participants() messaging.Participants {
	return messaging.Participants{
		RequesterID:     c.RequesterID,
		RequesterName:   c.RequesterName,
		ProviderID:      c.ProviderID,
		ProviderName:    c.ProviderName,
		FacilitatorID:   c.FacilitatorID,
		FacilitatorName: c.FacilitatorName,
	}
}

// ConversationRepository persists the conversation registry.
type ConversationRepository struct {
	col *mongo.Collection
}

func NewConversationRepository(client *Client) *ConversationRepository {
	return &ConversationRepository{col: client.DB.Collection("conversations")}
}

// Create inserts a new requester/provider thread and assigns its
// durable id.
func (r *ConversationRepository) Create(ctx context.Context, p messaging.Participants, linkedJobID string) (Conversation, error) {
	if p.RequesterID == "" || p.ProviderID == "" {
		return Conversation{}, fmt.Errorf("mongo: requester and provider are required")
	}
	now := time.Now().UTC()
	doc := Conversation{
		ID:              uuid.NewString(),
		RequesterID:     p.RequesterID,
		RequesterName:   p.RequesterName,
		ProviderID:      p.ProviderID,
		ProviderName:    p.ProviderName,
		FacilitatorID:   p.FacilitatorID,
		FacilitatorName: p.FacilitatorName,
		LinkedJobID:     linkedJobID,
		CreatedAt:       now,
		LastMessageAt:   now,
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return Conversation{}, fmt.Errorf("mongo: insert conversation: %w", err)
	}
	return doc, nil
}

// Get loads one conversation by id.
func (r *ConversationRepository) Get(ctx context.Context, id string) (Conversation, error) {
	var doc Conversation
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("mongo: load conversation: %w", err)
	}
	return doc, nil
}

// ForUser lists the conversations a user participates in, most
// recently active first.
func (r *ConversationRepository) ForUser(ctx context.Context, userID string) ([]Conversation, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"requester_id": userID},
		bson.M{"provider_id": userID},
		bson.M{"facilitator_id": userID},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}})
	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: list conversations: %w", err)
	}
	defer cursor.Close(ctx)
	var out []Conversation
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongo: decode conversations: %w", err)
	}
	return out, nil
}

// AddFacilitator fills the facilitator slot. Returns false without
// error when the same user is already attached; a different occupant
// yields ErrFacilitatorAssigned.
func (r *ConversationRepository) AddFacilitator(ctx context.Context, id, userID, name string) (bool, error) {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id, "$or": bson.A{
			bson.M{"facilitator_id": bson.M{"$exists": false}},
			bson.M{"facilitator_id": ""},
		}},
		bson.M{"$set": bson.M{"facilitator_id": userID, "facilitator_name": name}},
	)
	if err != nil {
		return false, fmt.Errorf("mongo: add facilitator: %w", err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}
	doc, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if doc.FacilitatorID == userID {
		return false, nil
	}
	return false, ErrFacilitatorAssigned
}

// TouchLastMessage records the newest message's metadata on the
// registry entry.
func (r *ConversationRepository) TouchLastMessage(ctx context.Context, id, senderID, text string, at time.Time) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"last_message_at":   at.UTC(),
		"last_sender_id":    senderID,
		"last_message_text": text,
	}})
	if err != nil {
		return fmt.Errorf("mongo: touch last message: %w", err)
	}
	return nil
}

// MarkRead stores the user's read position.
func (r *ConversationRepository) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"read_at." + userID: at.UTC(),
	}})
	if err != nil {
		return fmt.Errorf("mongo: mark read: %w", err)
	}
	return nil
}
