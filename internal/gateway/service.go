package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"hirehub/internal/messaging"
)

// ErrNotFound is returned for unknown conversations.
var ErrNotFound = errors.New("gateway: conversation not found")

// ErrForbidden is returned when the principal is not a participant.
var ErrForbidden = errors.New("gateway: not a conversation participant")

// ErrFacilitatorAssigned is returned when the facilitator slot is
// already taken by someone else.
var ErrFacilitatorAssigned = errors.New("gateway: facilitator already assigned")

// ConversationInfo is the registry's view of a thread.
type ConversationInfo struct {
	ID            string
	Participants  messaging.Participants
	LinkedJobID   string
	CreatedAt     time.Time
	LastMessageAt time.Time
	ReadAt        map[string]time.Time
}

// Registry persists conversation membership and metadata.
type Registry interface {
	Create(ctx context.Context, p messaging.Participants, linkedJobID string) (ConversationInfo, error)
	Get(ctx context.Context, id string) (ConversationInfo, error)
	ForUser(ctx context.Context, userID string) ([]ConversationInfo, error)
	AddFacilitator(ctx context.Context, id, userID, name string) (bool, error)
	TouchLastMessage(ctx context.Context, id, senderID, text string, at time.Time) error
	MarkRead(ctx context.Context, id, userID string, at time.Time) error
}

// MessageLog persists the ordered message stream of each conversation.
type MessageLog interface {
	Append(ctx context.Context, conversationID, senderID string, role messaging.Role, content string, msgType messaging.MessageType, correlationID string) (messaging.WireMessage, error)
	Page(ctx context.Context, conversationID string, limit int, before string) ([]messaging.WireMessage, string, error)
}

// Publisher fans persisted messages out to the other gateway
// instances. May be nil in single-instance deployments.
type Publisher interface {
	PublishMessage(ctx context.Context, wm messaging.WireMessage) error
}

// Service glues the hub to the durable stores. It owns all wire-event
// semantics: membership checks, persistence, echo and fan-out.
type Service struct {
	Hub       *Hub
	Registry  Registry
	Log       MessageLog
	Publisher Publisher
	Logger    *slog.Logger
}

// HandleFrame decodes one inbound client frame and applies it.
func (s *Service) HandleFrame(ctx context.Context, c *client, raw []byte) {
	var env messaging.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.sendError(c, "bad_frame", "frame is not valid JSON")
		return
	}
	switch env.Event {
	case messaging.EventJoin:
		var p messaging.JoinPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			s.sendError(c, "bad_payload", "invalid join payload")
			return
		}
		s.handleJoin(ctx, c, p)
	case messaging.EventLeave:
		var p messaging.JoinPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		s.Hub.leave(p.ConversationID, c)
	case messaging.EventSend:
		var p messaging.SendPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			s.sendError(c, "bad_payload", "invalid send payload")
			return
		}
		s.handleSend(ctx, c, p)
	case messaging.EventTyping:
		var p messaging.TypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		s.handleTyping(c, p)
	case messaging.EventMarkRead:
		var p messaging.MarkReadPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if _, err := s.MarkRead(ctx, p.ConversationID, c.principal.UserID); err != nil {
			s.Logger.Warn("mark read failed", "conversation_id", p.ConversationID, "user_id", c.principal.UserID, "error", err)
		}
	default:
		s.sendError(c, "unknown_event", "unsupported event "+env.Event)
	}
}

func (s *Service) handleJoin(ctx context.Context, c *client, p messaging.JoinPayload) {
	conv, err := s.Registry.Get(ctx, p.ConversationID)
	if err != nil {
		s.sendError(c, "not_found", "conversation not found")
		return
	}
	if !conv.Participants.Includes(c.principal.UserID) {
		s.sendError(c, "forbidden", "not a conversation participant")
		return
	}
	s.Hub.join(p.ConversationID, c)
	s.reply(c, messaging.EventJoined, messaging.JoinAck{ConversationID: p.ConversationID})
}

func (s *Service) handleSend(ctx context.Context, c *client, p messaging.SendPayload) {
	content := strings.TrimSpace(p.Content)
	if content == "" || p.ConversationID == "" {
		s.sendError(c, "bad_payload", "conversation id and content are required")
		return
	}
	msgType := p.Type
	if msgType == "" {
		msgType = messaging.TypeText
	}
	conv, err := s.Registry.Get(ctx, p.ConversationID)
	if err != nil {
		s.sendError(c, "not_found", "conversation not found")
		return
	}
	role := conv.Participants.RoleOf(c.principal.UserID)
	if role == "" {
		s.sendError(c, "forbidden", "not a conversation participant")
		return
	}
	wm, err := s.Log.Append(ctx, p.ConversationID, c.principal.UserID, role, content, msgType, p.CorrelationID)
	if err != nil {
		s.Logger.Error("message persist failed", "conversation_id", p.ConversationID, "error", err)
		s.sendError(c, "store_unavailable", "message could not be stored")
		return
	}
	if err := s.Registry.TouchLastMessage(ctx, p.ConversationID, wm.SenderID, wm.Content, wm.CreatedAt); err != nil {
		s.Logger.Warn("last message metadata not updated", "conversation_id", p.ConversationID, "error", err)
	}
	s.deliver(ctx, wm)
}

// deliver echoes a persisted message to the local room, sender
// included: the echo carries the correlation id that confirms the
// optimistic entry. The fan-out gets a copy for the other instances.
func (s *Service) deliver(ctx context.Context, wm messaging.WireMessage) {
	frame, err := encodeFrame(messaging.EventMessage, wm)
	if err != nil {
		s.Logger.Error("message frame encode failed", "error", err)
		return
	}
	s.Hub.Broadcast(wm.ConversationID, frame, nil)
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.PublishMessage(ctx, wm); err != nil {
		s.Logger.Warn("message fan-out failed", "conversation_id", wm.ConversationID, "error", err)
	}
}

// DeliverRemote injects a message that another gateway instance
// persisted into the local room.
func (s *Service) DeliverRemote(wm messaging.WireMessage) {
	frame, err := encodeFrame(messaging.EventMessage, wm)
	if err != nil {
		return
	}
	s.Hub.Broadcast(wm.ConversationID, frame, nil)
}

func (s *Service) handleTyping(c *client, p messaging.TypingPayload) {
	// typing is ephemeral: membership was checked at join, nothing is
	// persisted, and frames to unjoined rooms are dropped
	if !s.Hub.inRoom(p.ConversationID, c) {
		return
	}
	evt := messaging.TypingEvent{
		ConversationID: p.ConversationID,
		UserID:         c.principal.UserID,
		IsTyping:       p.IsTyping,
		At:             time.Now().UTC(),
	}
	frame, err := encodeFrame(messaging.EventTyping, evt)
	if err != nil {
		return
	}
	s.Hub.Broadcast(p.ConversationID, frame, c)
}

// MarkRead records the read position and tells the other participants.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string) (time.Time, error) {
	conv, err := s.Registry.Get(ctx, conversationID)
	if err != nil {
		return time.Time{}, err
	}
	if !conv.Participants.Includes(userID) {
		return time.Time{}, ErrForbidden
	}
	readAt := time.Now().UTC()
	if err := s.Registry.MarkRead(ctx, conversationID, userID, readAt); err != nil {
		return time.Time{}, err
	}
	frame, err := encodeFrame(messaging.EventReadReceipt, messaging.ReadReceipt{
		ConversationID: conversationID,
		UserID:         userID,
		ReadAt:         readAt,
	})
	if err == nil {
		s.Hub.Broadcast(conversationID, frame, nil)
	}
	return readAt, nil
}

// AddFacilitator appends the facilitator to the membership set,
// records a synthetic system message, and announces both to the room.
// Re-adding the same facilitator is a membership no-op.
func (s *Service) AddFacilitator(ctx context.Context, conversationID, userID, name string) (bool, error) {
	added, err := s.Registry.AddFacilitator(ctx, conversationID, userID, name)
	if err != nil || !added {
		return false, err
	}
	wm, err := s.Log.Append(ctx, conversationID, userID, messaging.RoleFacilitator, name+" joined the conversation", messaging.TypeSystem, "")
	if err != nil {
		s.Logger.Error("system message persist failed", "conversation_id", conversationID, "error", err)
		return true, nil
	}
	if err := s.Registry.TouchLastMessage(ctx, conversationID, wm.SenderID, wm.Content, wm.CreatedAt); err != nil {
		s.Logger.Warn("last message metadata not updated", "conversation_id", conversationID, "error", err)
	}
	s.deliver(ctx, wm)
	return true, nil
}

// Disconnect detaches a dead socket from every room.
func (s *Service) Disconnect(c *client) {
	s.Hub.drop(c)
}

func (s *Service) reply(c *client, event string, data any) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		return
	}
	c.enqueue(frame)
}

func (s *Service) sendError(c *client, code, message string) {
	s.reply(c, messaging.EventError, messaging.WireError{Code: code, Message: message})
}

func encodeFrame(event string, data any) ([]byte, error) {
	env, err := messaging.NewEnvelope(event, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
