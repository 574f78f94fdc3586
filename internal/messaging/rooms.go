package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RoomCoordinator tracks which conversation rooms the session intends
// to be in and keeps the gateway's view in line with that intent. The
// gateway forgets room membership on a transport-level reconnect, so
// every tracked room is re-joined when the connection comes back.
type RoomCoordinator struct {
	conn       *Connection
	logger     *slog.Logger
	ackTimeout time.Duration

	mu      sync.Mutex
	joined  map[string]struct{}
	pending map[string]*joinWait
}

type joinWait struct {
	done     chan struct{}
	err      error
	resolved bool
}

// NewRoomCoordinator builds a coordinator over conn. ackTimeout bounds
// the wait for a join acknowledgment.
func NewRoomCoordinator(conn *Connection, ackTimeout time.Duration, logger *slog.Logger) *RoomCoordinator {
	if ackTimeout <= 0 {
		ackTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomCoordinator{
		conn:       conn,
		logger:     logger,
		ackTimeout: ackTimeout,
		joined:     make(map[string]struct{}),
		pending:    make(map[string]*joinWait),
	}
}

// Join sends a join intent and waits for the gateway's acknowledgment.
// Joining an already-joined room is a no-op; concurrent joins for the
// same room share one round-trip. Failures are *JoinTimeoutError and
// recoverable on the next activation.
func (r *RoomCoordinator) Join(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	if _, ok := r.joined[conversationID]; ok {
		r.mu.Unlock()
		return nil
	}
	if w, ok := r.pending[conversationID]; ok {
		r.mu.Unlock()
		return r.await(ctx, conversationID, w)
	}
	r.mu.Unlock()
	return r.roundTrip(ctx, conversationID)
}

// roundTrip arms an ack waiter, transmits the join and awaits the
// result.
func (r *RoomCoordinator) roundTrip(ctx context.Context, conversationID string) error {
	if r.conn.State() != StateConnected {
		return &JoinTimeoutError{ConversationID: conversationID, Reason: "not connected"}
	}
	w := &joinWait{done: make(chan struct{})}
	r.mu.Lock()
	r.pending[conversationID] = w
	r.mu.Unlock()

	env, err := NewEnvelope(EventJoin, JoinPayload{ConversationID: conversationID})
	if err == nil {
		err = r.conn.Send(env)
	}
	if err != nil {
		r.resolve(conversationID, w, err)
		return &JoinTimeoutError{ConversationID: conversationID, Reason: err.Error()}
	}
	return r.await(ctx, conversationID, w)
}

func (r *RoomCoordinator) await(ctx context.Context, conversationID string, w *joinWait) error {
	timer := time.NewTimer(r.ackTimeout)
	defer timer.Stop()
	select {
	case <-w.done:
	case <-timer.C:
		r.resolve(conversationID, w, context.DeadlineExceeded)
		<-w.done
	case <-ctx.Done():
		r.resolve(conversationID, w, ctx.Err())
		<-w.done
	}
	if w.err != nil {
		return &JoinTimeoutError{ConversationID: conversationID, Reason: w.err.Error()}
	}
	return nil
}

// resolve finishes a pending join exactly once. A nil err marks the
// room joined.
func (r *RoomCoordinator) resolve(conversationID string, w *joinWait, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.resolved {
		return
	}
	w.resolved = true
	w.err = err
	delete(r.pending, conversationID)
	if err == nil {
		r.joined[conversationID] = struct{}{}
	}
	close(w.done)
}

// HandleJoined consumes the gateway's join acknowledgment.
func (r *RoomCoordinator) HandleJoined(ack JoinAck) {
	r.mu.Lock()
	w, ok := r.pending[ack.ConversationID]
	r.mu.Unlock()
	if !ok {
		// ack for a rejoin we already gave up on, or a duplicate
		r.mu.Lock()
		r.joined[ack.ConversationID] = struct{}{}
		r.mu.Unlock()
		return
	}
	r.resolve(ack.ConversationID, w, nil)
}

// Leave drops the room intent and tells the gateway on a best-effort
// basis. It never fails; the connection may already be gone.
func (r *RoomCoordinator) Leave(conversationID string) {
	r.mu.Lock()
	delete(r.joined, conversationID)
	r.mu.Unlock()
	env, err := NewEnvelope(EventLeave, JoinPayload{ConversationID: conversationID})
	if err != nil {
		return
	}
	if err := r.conn.Send(env); err != nil {
		r.logger.Debug("leave not delivered", "conversation_id", conversationID, "error", err)
	}
}

// Joined reports whether the room is currently tracked as joined.
func (r *RoomCoordinator) Joined(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.joined[conversationID]
	return ok
}

// HandleStatus reacts to connection state changes. On every return to
// Connected the full room set is re-joined: gateway-side membership
// does not survive a reconnect.
func (r *RoomCoordinator) HandleStatus(state ConnState) {
	if state != StateConnected {
		return
	}
	r.mu.Lock()
	ids := make([]string, 0, len(r.joined))
	for id := range r.joined {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	if len(ids) == 0 {
		return
	}
	go r.rejoin(ids)
}

func (r *RoomCoordinator) rejoin(ids []string) {
	for _, id := range ids {
		if err := r.roundTrip(context.Background(), id); err != nil {
			// drop the intent; the next activation retries the join
			r.mu.Lock()
			delete(r.joined, id)
			r.mu.Unlock()
			r.logger.Warn("room rejoin failed", "conversation_id", id, "error", err)
			continue
		}
		r.logger.Info("room rejoined", "conversation_id", id)
	}
}
