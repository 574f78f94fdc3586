package gateway

import (
	"context"
	"errors"
	"time"

	"hirehub/internal/infra/db/mongo"
	"hirehub/internal/messaging"
)

// MongoRegistry adapts the Mongo conversation repository to the
// gateway's Registry port.
type MongoRegistry struct {
	Repo *mongo.ConversationRepository
}

func (r MongoRegistry) Create(ctx context.Context, p messaging.Participants, linkedJobID string) (ConversationInfo, error) {
	doc, err := r.Repo.Create(ctx, p, linkedJobID)
	if err != nil {
		return ConversationInfo{}, err
	}
	return toInfo(doc), nil
}

func (r MongoRegistry) Get(ctx context.Context, id string) (ConversationInfo, error) {
	doc, err := r.Repo.Get(ctx, id)
	if errors.Is(err, mongo.ErrNotFound) {
		return ConversationInfo{}, ErrNotFound
	}
	if err != nil {
		return ConversationInfo{}, err
	}
	return toInfo(doc), nil
}

func (r MongoRegistry) ForUser(ctx context.Context, userID string) ([]ConversationInfo, error) {
	docs, err := r.Repo.ForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationInfo, 0, len(docs))
	for _, doc := range docs {
		out = append(out, toInfo(doc))
	}
	return out, nil
}

func (r MongoRegistry) AddFacilitator(ctx context.Context, id, userID, name string) (bool, error) {
	added, err := r.Repo.AddFacilitator(ctx, id, userID, name)
	switch {
	case errors.Is(err, mongo.ErrFacilitatorAssigned):
		return false, ErrFacilitatorAssigned
	case errors.Is(err, mongo.ErrNotFound):
		return false, ErrNotFound
	}
	return added, err
}

func (r MongoRegistry) TouchLastMessage(ctx context.Context, id, senderID, text string, at time.Time) error {
	return r.Repo.TouchLastMessage(ctx, id, senderID, text, at)
}

func (r MongoRegistry) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	return r.Repo.MarkRead(ctx, id, userID, at)
}

func toInfo(doc mongo.Conversation) ConversationInfo {
	return ConversationInfo{
		ID:            doc.ID,
		Participants:  doc.Participants(),
		LinkedJobID:   doc.LinkedJobID,
		CreatedAt:     doc.CreatedAt,
		LastMessageAt: doc.LastMessageAt,
		ReadAt:        doc.ReadAt,
	}
}

// MongoVerifier adapts the session repository to the Verifier port.
type MongoVerifier struct {
	Repo *mongo.SessionRepository
}

func (v MongoVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	session, err := v.Repo.Lookup(ctx, token)
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: session.UserID, Name: session.Name}, nil
}

var (
	_ Registry = MongoRegistry{}
	_ Verifier = MongoVerifier{}
)
