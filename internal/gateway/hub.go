package gateway

import (
	"log/slog"
	"sync"
)

// Hub tracks live sockets and the conversation rooms they joined. One
// hub per gateway instance; cross-instance delivery goes through the
// Kafka fan-out.
type Hub struct {
	logger *slog.Logger

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

// NewHub builds an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		rooms:  make(map[string]map[*client]struct{}),
	}
}

func (h *Hub) join(conversationID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[conversationID] = room
	}
	room[c] = struct{}{}
	c.rooms[conversationID] = struct{}{}
}

func (h *Hub) leave(conversationID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(conversationID, c)
}

func (h *Hub) leaveLocked(conversationID string, c *client) {
	if room, ok := h.rooms[conversationID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	delete(c.rooms, conversationID)
}

// drop removes a disconnected socket from every room.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range c.rooms {
		h.leaveLocked(id, c)
	}
}

func (h *Hub) inRoom(conversationID string, c *client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[conversationID][c]
	return ok
}

// Broadcast delivers a frame to every socket in the room, optionally
// skipping one. Slow consumers are dropped rather than blocking the
// room: detached from every room first, then closed.
func (h *Hub) Broadcast(conversationID string, frame []byte, except *client) {
	h.mu.RLock()
	room := h.rooms[conversationID]
	targets := make([]*client, 0, len(room))
	for c := range room {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	var dropped []*client
	for _, c := range targets {
		if !c.enqueue(frame) {
			h.logger.Warn("dropping slow websocket consumer", "user_id", c.principal.UserID, "conversation_id", conversationID)
			dropped = append(dropped, c)
		}
	}
	for _, c := range dropped {
		h.drop(c)
		c.close()
	}
}
