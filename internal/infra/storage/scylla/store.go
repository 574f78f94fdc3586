package scylla

import (
	"context"
	"errors"
	"time"

	"github.com/gocql/gocql"

	"hirehub/internal/messaging"
)

// Store persists conversation messages. Conversation metadata lives in
// the Mongo registry; this table only holds the ordered message log.
type Store struct {
	session *gocql.Session
}

// NewStore builds a Store over an established session.
func NewStore(session *gocql.Session) *Store {
	return &Store{session: session}
}

// Append stores one message, assigning the durable timeuuid id. The
// client-supplied correlation id is persisted so a history page can
// still reconcile an optimistic entry after a reconnect.
func (s *Store) Append(ctx context.Context, conversationID, senderID string, role messaging.Role, content string, msgType messaging.MessageType, correlationID string) (messaging.WireMessage, error) {
	if s.session == nil {
		return messaging.WireMessage{}, errors.New("scylla session not initialized")
	}
	messageID := gocql.TimeUUID()
	createdAt := time.Now().UTC()
	if err := s.session.
		Query(`INSERT INTO messages (conversation_id, message_id, sender_id, sender_role, content, message_type, correlation_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			conversationID, messageID, senderID, string(role), content, string(msgType), correlationID, createdAt).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return messaging.WireMessage{}, err
	}
	return messaging.WireMessage{
		ID:             messageID.String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderRole:     role,
		Content:        content,
		Type:           msgType,
		CreatedAt:      createdAt,
		CorrelationID:  correlationID,
	}, nil
}

// Page returns up to limit messages ordered oldest-first, ending
// before the cursor when one is given. The second return value is the
// cursor for the next older page, or "" when the log is exhausted.
func (s *Store) Page(ctx context.Context, conversationID string, limit int, before string) ([]messaging.WireMessage, string, error) {
	if s.session == nil {
		return nil, "", errors.New("scylla session not initialized")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var iter *gocql.Iter
	if before != "" {
		beforeID, err := gocql.ParseUUID(before)
		if err != nil {
			return nil, "", err
		}
		iter = s.session.
			Query(`SELECT conversation_id, message_id, sender_id, sender_role, content, message_type, correlation_id, created_at FROM messages WHERE conversation_id = ? AND message_id < ? ORDER BY message_id DESC LIMIT ?`,
				conversationID, beforeID, limit+1).
			WithContext(ctx).
			Consistency(gocql.One).
			Iter()
	} else {
		iter = s.session.
			Query(`SELECT conversation_id, message_id, sender_id, sender_role, content, message_type, correlation_id, created_at FROM messages WHERE conversation_id = ? ORDER BY message_id DESC LIMIT ?`,
				conversationID, limit+1).
			WithContext(ctx).
			Consistency(gocql.One).
			Iter()
	}

	newestFirst := make([]messaging.WireMessage, 0, limit+1)
	var (
		cID           string
		messageID     gocql.UUID
		senderID      string
		senderRole    string
		content       string
		messageType   string
		correlationID string
		createdAt     time.Time
	)
	for iter.Scan(&cID, &messageID, &senderID, &senderRole, &content, &messageType, &correlationID, &createdAt) {
		newestFirst = append(newestFirst, messaging.WireMessage{
			ID:             messageID.String(),
			ConversationID: cID,
			SenderID:       senderID,
			SenderRole:     messaging.Role(senderRole),
			Content:        content,
			Type:           messaging.MessageType(messageType),
			CreatedAt:      createdAt,
			CorrelationID:  correlationID,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(newestFirst) > limit {
		newestFirst = newestFirst[:limit]
		nextCursor = newestFirst[limit-1].ID
	}
	// flip to oldest-first, the order clients render
	for i, j := 0, len(newestFirst)-1; i < j; i, j = i+1, j-1 {
		newestFirst[i], newestFirst[j] = newestFirst[j], newestFirst[i]
	}
	return newestFirst, nextCursor, nil
}
