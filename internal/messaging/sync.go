package messaging

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Synchronizer owns the outbound send path and inbound reconciliation.
// Sends are optimistic: the local echo appears immediately as pending
// and is upgraded in place when the gateway confirms it. There is no
// offline queue; a send while disconnected fails fast and visibly.
type Synchronizer struct {
	conn     *Connection
	store    *Store
	logger   *slog.Logger
	selfID   string
	selfRole Role

	now   func() time.Time
	newID func() string
}

// NewSynchronizer builds the send/reconcile pipeline for one session
// user.
func NewSynchronizer(conn *Connection, store *Store, selfID string, selfRole Role, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		conn:     conn,
		store:    store,
		logger:   logger,
		selfID:   selfID,
		selfRole: selfRole,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Send transmits a text message. The returned Message is the pending
// local echo; its id is a placeholder until confirmation. Fails with
// *SendFailure when the connection is not up.
func (s *Synchronizer) Send(conversationID, content string) (Message, error) {
	return s.send(conversationID, content, TypeText)
}

// SendFile transmits a file-reference message (the upload itself
// happens out of band; ref is the stored object's locator).
func (s *Synchronizer) SendFile(conversationID, ref string) (Message, error) {
	return s.send(conversationID, ref, TypeFile)
}

func (s *Synchronizer) send(conversationID, content string, msgType MessageType) (Message, error) {
	if s.conn.State() != StateConnected {
		return Message{}, &SendFailure{ConversationID: conversationID, Err: ErrNotConnected}
	}
	correlationID := s.newID()
	msg := Message{
		ID:             "tmp-" + correlationID,
		ConversationID: conversationID,
		SenderID:       s.selfID,
		SenderRole:     s.selfRole,
		Content:        content,
		Type:           msgType,
		CreatedAt:      s.now(),
		Status:         StatusPending,
		CorrelationID:  correlationID,
	}
	s.store.AppendPending(conversationID, msg)
	if err := s.transmit(msg); err != nil {
		s.store.SetMessageStatus(conversationID, msg.ID, StatusFailed)
		return msg, &SendFailure{ConversationID: conversationID, Err: err}
	}
	return msg, nil
}

// Resend retries a message that previously failed. The correlation id
// is reused so a late confirmation of the original transmit still
// reconciles against the same entry.
func (s *Synchronizer) Resend(conversationID, messageID string) error {
	var target Message
	found := false
	for _, m := range s.store.Messages(conversationID) {
		if m.ID == messageID {
			target = m
			found = true
			break
		}
	}
	if !found {
		return &SendFailure{ConversationID: conversationID, Err: fmt.Errorf("unknown message %s", messageID)}
	}
	if target.Status != StatusFailed {
		return &SendFailure{ConversationID: conversationID, Err: fmt.Errorf("message %s is %s, not failed", messageID, target.Status)}
	}
	if s.conn.State() != StateConnected {
		return &SendFailure{ConversationID: conversationID, Err: ErrNotConnected}
	}
	s.store.SetMessageStatus(conversationID, messageID, StatusPending)
	if err := s.transmit(target); err != nil {
		s.store.SetMessageStatus(conversationID, messageID, StatusFailed)
		return &SendFailure{ConversationID: conversationID, Err: err}
	}
	return nil
}

func (s *Synchronizer) transmit(msg Message) error {
	env, err := NewEnvelope(EventSend, SendPayload{
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		Type:           msg.Type,
		CorrelationID:  msg.CorrelationID,
	})
	if err != nil {
		return err
	}
	return s.conn.Send(env)
}

// HandleInbound consumes a live gateway message. Reconciliation lives
// in the store; this is the dispatcher-facing entry point.
func (s *Synchronizer) HandleInbound(wm WireMessage) {
	if wm.ConversationID == "" || wm.ID == "" {
		s.logger.Warn("dropping malformed inbound message", "id", wm.ID, "conversation_id", wm.ConversationID)
		return
	}
	s.store.ApplyInbound(wm)
}
