package messaging

import (
	"context"
	"log/slog"
	"time"
)

// SessionConfig describes one user's realtime session.
type SessionConfig struct {
	// GatewayURL is the websocket endpoint (ws://host/ws).
	GatewayURL string
	// HistoryURL is the HTTP base of the gateway's REST API.
	HistoryURL string
	Credential string
	UserID     string
	Role       Role

	Logger *slog.Logger

	// Optional overrides, used by tests and embedders.
	Transport Transport
	Fetcher   HistoryFetcher

	JoinAckTimeout   time.Duration
	HistoryTimeout   time.Duration
	ReconnectMax     int
	ReconnectBackoff time.Duration
	BackoffCap       time.Duration
}

// Session composes the connection, room, sync, history, store and
// presence layers for a single signed-in user. It is created at login
// and shut down at logout; there is no package-level state.
type Session struct {
	Conn     *Connection
	Rooms    *RoomCoordinator
	Sync     *Synchronizer
	History  *HistoryLoader
	Store    *Store
	Presence *Presence

	credential string
	logger     *slog.Logger
}

// NewSession wires the components and the typed event dispatcher.
func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	transport := cfg.Transport
	if transport == nil {
		transport = WebsocketTransport{URL: cfg.GatewayURL}
	}
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = HTTPHistoryFetcher{BaseURL: cfg.HistoryURL, Credential: cfg.Credential}
	}

	dispatcher := &Dispatcher{}
	conn := NewConnection(ConnConfig{
		Transport:   transport,
		Dispatcher:  dispatcher,
		Logger:      logger,
		MaxAttempts: cfg.ReconnectMax,
		BaseBackoff: cfg.ReconnectBackoff,
		MaxBackoff:  cfg.BackoffCap,
	})
	store := NewStore(cfg.UserID, logger)
	rooms := NewRoomCoordinator(conn, cfg.JoinAckTimeout, logger)
	history := NewHistoryLoader(store, fetcher, cfg.HistoryTimeout, logger)
	store.Bind(rooms, history)
	sync := NewSynchronizer(conn, store, cfg.UserID, cfg.Role, logger)
	presence := NewPresence(conn, logger)

	dispatcher.Connected = func(ack ConnectedAck) {
		logger.Info("session established", "session_id", ack.SessionID, "user_id", ack.UserID)
	}
	dispatcher.Joined = rooms.HandleJoined
	dispatcher.Message = sync.HandleInbound
	dispatcher.Typing = presence.HandleTyping
	dispatcher.ReadReceipt = store.ApplyReadReceipt
	dispatcher.WireError = func(we WireError) {
		logger.Warn("gateway error", "code", we.Code, "message", we.Message)
	}
	conn.OnStatus(rooms.HandleStatus)

	return &Session{
		Conn:       conn,
		Rooms:      rooms,
		Sync:       sync,
		History:    history,
		Store:      store,
		Presence:   presence,
		credential: cfg.Credential,
		logger:     logger,
	}
}

// Connect establishes the session connection with the configured
// credential.
func (s *Session) Connect(ctx context.Context) error {
	return s.Conn.Connect(ctx, s.credential)
}

// Open makes a conversation visible, joining its room and loading
// history on first sight.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	return s.Store.Open(ctx, conversationID)
}

// Close hides a conversation and leaves its room.
func (s *Session) Close(conversationID string) {
	s.Store.Close(conversationID)
}

// Send transmits a text message with an optimistic local echo.
func (s *Session) Send(conversationID, content string) (Message, error) {
	return s.Sync.Send(conversationID, content)
}

// MarkRead clears the local unread counter and notifies the gateway on
// a best-effort basis.
func (s *Session) MarkRead(conversationID string) {
	s.Store.MarkRead(conversationID)
	env, err := NewEnvelope(EventMarkRead, MarkReadPayload{ConversationID: conversationID})
	if err != nil {
		return
	}
	if err := s.Conn.Send(env); err != nil {
		s.logger.Debug("mark_read not delivered", "conversation_id", conversationID, "error", err)
	}
}

// Shutdown tears the session down: the connection is closed and all
// in-memory conversation state dropped.
func (s *Session) Shutdown() {
	if err := s.Conn.Close(); err != nil {
		s.logger.Debug("connection close", "error", err)
	}
	s.Store.Reset()
}
