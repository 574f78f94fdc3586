package messaging

import (
	"log/slog"
	"sync"
)

// Presence carries ephemeral typing state over the session connection.
// Everything here is best-effort: no retry, no ordering, no
// persistence. The latest event per (user, conversation) wins.
type Presence struct {
	conn   *Connection
	logger *slog.Logger

	mu     sync.Mutex
	typing map[string]map[string]TypingEvent
	subs   []func(TypingEvent)
}

// NewPresence builds the typing/presence layer.
func NewPresence(conn *Connection, logger *slog.Logger) *Presence {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presence{
		conn:   conn,
		logger: logger,
		typing: make(map[string]map[string]TypingEvent),
	}
}

// EmitTyping signals the session user's typing state. Fire and forget;
// delivery failures are logged and dropped.
func (p *Presence) EmitTyping(conversationID string, isTyping bool) {
	env, err := NewEnvelope(EventTyping, TypingPayload{ConversationID: conversationID, IsTyping: isTyping})
	if err != nil {
		return
	}
	if err := p.conn.Send(env); err != nil {
		p.logger.Debug("typing signal dropped", "conversation_id", conversationID, "error", err)
	}
}

// Subscribe registers a listener for inbound typing changes.
func (p *Presence) Subscribe(fn func(TypingEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, fn)
}

// HandleTyping consumes an inbound typing event, overwriting any
// stale state for that user.
func (p *Presence) HandleTyping(evt TypingEvent) {
	p.mu.Lock()
	byUser, ok := p.typing[evt.ConversationID]
	if !ok {
		byUser = make(map[string]TypingEvent)
		p.typing[evt.ConversationID] = byUser
	}
	byUser[evt.UserID] = evt
	subs := append([]func(TypingEvent){}, p.subs...)
	p.mu.Unlock()
	for _, fn := range subs {
		fn(evt)
	}
}

// TypingUsers lists the users currently typing in a conversation.
func (p *Presence) TypingUsers(conversationID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var users []string
	for userID, evt := range p.typing[conversationID] {
		if evt.IsTyping {
			users = append(users, userID)
		}
	}
	return users
}
