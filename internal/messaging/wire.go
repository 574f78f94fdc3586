package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// Client -> server events.
const (
	EventJoin     = "join"
	EventLeave    = "leave"
	EventSend     = "send"
	EventTyping   = "typing"
	EventMarkRead = "mark_read"
)

// Server -> client events.
const (
	EventConnected   = "connected"
	EventJoined      = "joined"
	EventMessage     = "message"
	EventReadReceipt = "read_receipt"
	EventError       = "error"
)

// Envelope frames every websocket payload in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into a framed event.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("wire: encode %s: %w", event, err)
	}
	return Envelope{Event: event, Data: raw}, nil
}

// WireMessage is the gateway's representation of a delivered message.
// CorrelationID is echoed back unchanged from the originating send so
// the sender can reconcile its optimistic entry.
type WireMessage struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	SenderRole     Role        `json:"sender_role"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	CreatedAt      time.Time   `json:"created_at"`
	CorrelationID  string      `json:"correlation_id,omitempty"`
}

// ConnectedAck is sent by the gateway once the session is established.
type ConnectedAck struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
}

// JoinAck confirms room membership for a conversation.
type JoinAck struct {
	ConversationID string `json:"conversation_id"`
}

// TypingEvent signals that a user started or stopped typing.
type TypingEvent struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
	At             time.Time `json:"at,omitempty"`
}

// ReadReceipt reports that a user has read a conversation.
type ReadReceipt struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}

// WireError is a gateway-reported failure scoped to the session.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JoinPayload asks the gateway for room membership.
type JoinPayload struct {
	ConversationID string `json:"conversation_id"`
}

// SendPayload transmits message content with its correlation id.
type SendPayload struct {
	ConversationID string      `json:"conversation_id"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	CorrelationID  string      `json:"correlation_id"`
}

// TypingPayload is the outbound half of TypingEvent.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

// MarkReadPayload tells the gateway the conversation was read.
type MarkReadPayload struct {
	ConversationID string `json:"conversation_id"`
}

// Dispatcher routes inbound frames to one typed handler per event
// kind. Nil handlers drop their events silently; unknown events are
// reported as errors so the connection layer can log them.
type Dispatcher struct {
	Connected   func(ConnectedAck)
	Joined      func(JoinAck)
	Message     func(WireMessage)
	Typing      func(TypingEvent)
	ReadReceipt func(ReadReceipt)
	WireError   func(WireError)
}

// Dispatch decodes a raw frame and invokes the matching handler.
func (d *Dispatcher) Dispatch(raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("wire: decode frame: %w", err)
	}
	switch env.Event {
	case EventConnected:
		return dispatchTo(env, d.Connected)
	case EventJoined:
		return dispatchTo(env, d.Joined)
	case EventMessage:
		return dispatchTo(env, d.Message)
	case EventTyping:
		return dispatchTo(env, d.Typing)
	case EventReadReceipt:
		return dispatchTo(env, d.ReadReceipt)
	case EventError:
		return dispatchTo(env, d.WireError)
	}
	return fmt.Errorf("wire: unknown event %q", env.Event)
}

func dispatchTo[T any](env Envelope, handler func(T)) error {
	if handler == nil {
		return nil
	}
	var payload T
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return fmt.Errorf("wire: decode %s payload: %w", env.Event, err)
	}
	handler(payload)
	return nil
}
