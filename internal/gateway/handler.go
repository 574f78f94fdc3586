package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"hirehub/internal/messaging"
)

// Verifier resolves a bearer credential to its principal. Issuance is
// someone else's job; a failed lookup is a terminal auth error for the
// client.
type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// Handler exposes the websocket upgrade and the conversation REST API.
type Handler struct {
	Service  *Service
	Verifier Verifier
	Logger   *slog.Logger

	WriteWait    time.Duration
	PongWait     time.Duration
	MaxFrameSize int64

	upgrader websocket.Upgrader
}

// NewHandler builds the HTTP surface over svc.
func NewHandler(svc *Service, verifier Verifier, logger *slog.Logger, writeWait, pongWait time.Duration, maxFrameSize int64) *Handler {
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	return &Handler{
		Service:      svc,
		Verifier:     verifier,
		Logger:       logger,
		WriteWait:    writeWait,
		PongWait:     pongWait,
		MaxFrameSize: maxFrameSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// cross-origin policy is enforced by the CORS layer
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// WS authenticates and upgrades the session connection. Browsers
// cannot set websocket handshake headers, so the credential is also
// accepted as a query parameter.
func (h *Handler) WS(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		token = c.Query("token")
	}
	principal, err := h.Verifier.Verify(c.Request.Context(), token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", "user_id", principal.UserID, "error", err)
		return
	}
	cl := newClient(conn, principal)
	go cl.writePump(h.WriteWait, h.PongWait)
	h.Service.reply(cl, messaging.EventConnected, messaging.ConnectedAck{
		SessionID: uuid.NewString(),
		UserID:    principal.UserID,
		Name:      principal.Name,
	})
	h.Logger.Info("websocket session opened", "user_id", principal.UserID)
	go cl.readPump(h.Service, h.PongWait, h.MaxFrameSize)
}

// AuthMiddleware verifies the bearer credential on REST routes and
// stashes the principal in the request context.
func (h *Handler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := h.Verifier.Verify(c.Request.Context(), bearerToken(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
			return
		}
		c.Set("principal", principal)
		c.Next()
	}
}

// ListConversations returns the caller's threads, most recent first.
func (h *Handler) ListConversations(c *gin.Context) {
	principal := mustPrincipal(c)
	conversations, err := h.Service.Registry.ForUser(c.Request.Context(), principal.UserID)
	if err != nil {
		h.Logger.Error("list conversations failed", "user_id", principal.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot list conversations"})
		return
	}
	out := conversationList{Items: make([]conversationDTO, 0, len(conversations))}
	for _, conv := range conversations {
		out.Items = append(out.Items, toConversationDTO(conv))
	}
	c.JSON(http.StatusOK, out)
}

// CreateConversation starts a requester/provider thread, optionally
// linked to a job. The caller must be one of the two parties.
func (h *Handler) CreateConversation(c *gin.Context) {
	principal := mustPrincipal(c)
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	participants := messaging.Participants{
		RequesterID:   strings.TrimSpace(req.RequesterID),
		RequesterName: strings.TrimSpace(req.RequesterName),
		ProviderID:    strings.TrimSpace(req.ProviderID),
		ProviderName:  strings.TrimSpace(req.ProviderName),
	}
	if participants.RequesterID == "" || participants.ProviderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "requester_id and provider_id are required"})
		return
	}
	if participants.RequesterID == participants.ProviderID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot start a conversation with yourself"})
		return
	}
	if !participants.Includes(principal.UserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "caller must be a participant"})
		return
	}
	conv, err := h.Service.Registry.Create(c.Request.Context(), participants, strings.TrimSpace(req.LinkedJobID))
	if err != nil {
		h.Logger.Error("create conversation failed", "user_id", principal.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot create conversation"})
		return
	}
	c.JSON(http.StatusCreated, toConversationDTO(conv))
}

// ListMessages serves one history page, oldest first, with a cursor to
// the next older page.
func (h *Handler) ListMessages(c *gin.Context) {
	principal := mustPrincipal(c)
	conversationID := c.Param("id")
	conv, err := h.Service.Registry.Get(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if !conv.Participants.Includes(principal.UserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}
	limit := parsePositiveInt(c.Query("limit"), 50)
	messages, next, err := h.Service.Log.Page(c.Request.Context(), conversationID, limit, c.Query("cursor"))
	if err != nil {
		h.Logger.Error("history page failed", "conversation_id", conversationID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot load history"})
		return
	}
	if messages == nil {
		messages = []messaging.WireMessage{}
	}
	c.JSON(http.StatusOK, messageList{Items: messages, NextCursor: next})
}

// AddParticipant attaches a facilitator to the conversation.
func (h *Handler) AddParticipant(c *gin.Context) {
	principal := mustPrincipal(c)
	conversationID := c.Param("id")
	var req addParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Name = strings.TrimSpace(req.Name)
	if req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	conv, err := h.Service.Registry.Get(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if !conv.Participants.Includes(principal.UserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}
	added, err := h.Service.AddFacilitator(c.Request.Context(), conversationID, req.UserID, req.Name)
	if errors.Is(err, ErrFacilitatorAssigned) {
		c.JSON(http.StatusConflict, gin.H{"error": "facilitator already assigned"})
		return
	}
	if err != nil {
		h.Logger.Error("add facilitator failed", "conversation_id", conversationID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot add participant"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

// MarkRead records the caller's read position over HTTP.
func (h *Handler) MarkRead(c *gin.Context) {
	principal := mustPrincipal(c)
	conversationID := c.Param("id")
	readAt, err := h.Service.MarkRead(c.Request.Context(), conversationID, principal.UserID)
	if errors.Is(err, ErrForbidden) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"read_at": readAt})
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func mustPrincipal(c *gin.Context) Principal {
	p, _ := c.Get("principal")
	principal, _ := p.(Principal)
	return principal
}

func parsePositiveInt(raw string, def int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return def
	}
	return value
}
