package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"hirehub/internal/messaging"
)

// ErrSessionInvalid is returned for unknown or expired credentials.
// Authentication issuance lives elsewhere; the gateway only verifies.
var ErrSessionInvalid = errors.New("mongo: session invalid or expired")

// Session is an issued bearer credential and its principal.
type Session struct {
	Token     string         `bson:"_id"`
	UserID    string         `bson:"user_id"`
	Name      string         `bson:"name"`
	Role      messaging.Role `bson:"role"`
	ExpiresAt time.Time      `bson:"expires_at"`
}

// SessionRepository verifies bearer credentials against the sessions
// collection.
type SessionRepository struct {
	col *mongo.Collection
}

func NewSessionRepository(client *Client) *SessionRepository {
	return &SessionRepository{col: client.DB.Collection("sessions")}
}

// Lookup resolves a bearer token. Expired and missing tokens both
// yield ErrSessionInvalid; the distinction is not leaked to clients.
func (r *SessionRepository) Lookup(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrSessionInvalid
	}
	var doc Session
	err := r.col.FindOne(ctx, bson.M{"_id": token}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Session{}, ErrSessionInvalid
	}
	if err != nil {
		return Session{}, fmt.Errorf("mongo: lookup session: %w", err)
	}
	if !doc.ExpiresAt.IsZero() && doc.ExpiresAt.Before(time.Now()) {
		return Session{}, ErrSessionInvalid
	}
	return doc, nil
}
