package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrFacilitatorAssigned is returned when a different facilitator is
// already attached to the conversation. Membership only grows and the
// facilitator slot is filled at most once.
var ErrFacilitatorAssigned = errors.New("messaging: facilitator already assigned")

type roomJoiner interface {
	Join(ctx context.Context, conversationID string) error
	Leave(conversationID string)
}

type historyLoader interface {
	Load(ctx context.Context, conversationID string) error
}

// Store is the session's registry of conversations. Every mutation is
// an append or a replace-by-id, so optimistic local writes, live
// inbound events and history merges compose in any arrival order.
// Construct one per session and tear it down on logout.
type Store struct {
	selfID string
	logger *slog.Logger

	rooms   roomJoiner
	history historyLoader

	mu            sync.RWMutex
	conversations map[string]*Conversation
	seq           uint64
	subs          []func(conversationID string)
}

// NewStore builds an empty registry for the given session user.
func NewStore(selfID string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		selfID:        selfID,
		logger:        logger,
		conversations: make(map[string]*Conversation),
	}
}

// Bind attaches the room and history collaborators. Called once during
// session wiring; resolves the store<->loader construction cycle.
func (s *Store) Bind(rooms roomJoiner, history historyLoader) {
	s.rooms = rooms
	s.history = history
}

// Subscribe registers a change listener. Listeners receive the id of
// every conversation whose snapshot changed.
func (s *Store) Subscribe(fn func(conversationID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Track registers conversation metadata (from the gateway's list or a
// create call) without changing visibility. Existing message state is
// kept; metadata is replaced.
func (s *Store) Track(conv Conversation) {
	s.mu.Lock()
	existing, ok := s.conversations[conv.ID]
	if ok {
		existing.Participants = conv.Participants
		existing.LinkedJobID = conv.LinkedJobID
	} else {
		if conv.Visibility == "" {
			conv.Visibility = VisibilityClosed
		}
		c := conv
		s.conversations[conv.ID] = &c
	}
	s.mu.Unlock()
	s.notify(conv.ID)
}

// Open marks the conversation visible, joins its room and, when no
// messages are cached yet, loads history. Join and history errors are
// recoverable; the conversation stays open and browsable either way.
// History travels over HTTP, so it is loaded even when the join fails.
func (s *Store) Open(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = &Conversation{ID: conversationID}
		s.conversations[conversationID] = conv
	}
	conv.Visibility = VisibilityOpen
	conv.Unread = 0
	cached := len(conv.Messages)
	s.mu.Unlock()
	s.notify(conversationID)

	var joinErr error
	if s.rooms != nil {
		joinErr = s.rooms.Join(ctx, conversationID)
	}
	if cached == 0 && s.history != nil {
		if err := s.history.Load(ctx, conversationID); err != nil && joinErr == nil {
			return err
		}
	}
	return joinErr
}

// Close removes the conversation from the visible set and leaves its
// room. The durable record is untouched; reopening reloads it.
func (s *Store) Close(conversationID string) {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if ok {
		conv.Visibility = VisibilityClosed
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if s.rooms != nil {
		s.rooms.Leave(conversationID)
	}
	s.notify(conversationID)
}

// SetVisibility switches between the minimized presentation states
// without touching room membership.
func (s *Store) SetVisibility(conversationID string, v Visibility) {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if ok {
		conv.Visibility = v
	}
	s.mu.Unlock()
	if ok {
		s.notify(conversationID)
	}
}

// AddParticipant appends a facilitator to the membership set and
// records the change as a synthetic system message. Re-adding the same
// facilitator is a no-op; a different one is rejected. There is no
// removal operation.
func (s *Store) AddParticipant(conversationID, userID, name string, role Role) error {
	if role != RoleFacilitator {
		return fmt.Errorf("messaging: only a facilitator can join an existing conversation, got %q", role)
	}
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("messaging: unknown conversation %s", conversationID)
	}
	if conv.Participants.FacilitatorID == userID {
		s.mu.Unlock()
		return nil
	}
	if conv.Participants.FacilitatorID != "" {
		s.mu.Unlock()
		return ErrFacilitatorAssigned
	}
	conv.Participants.FacilitatorID = userID
	conv.Participants.FacilitatorName = name
	s.seq++
	conv.Messages = append(conv.Messages, Message{
		ID:             "sys-" + uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       userID,
		SenderRole:     RoleFacilitator,
		Content:        name + " joined the conversation",
		Type:           TypeSystem,
		CreatedAt:      time.Now().UTC(),
		Status:         StatusConfirmed,
		seq:            s.seq,
	})
	s.mu.Unlock()
	s.notify(conversationID)
	return nil
}

// AppendPending adds an optimistic local echo for an outbound send.
func (s *Store) AppendPending(conversationID string, msg Message) {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = &Conversation{ID: conversationID, Visibility: VisibilityOpen}
		s.conversations[conversationID] = conv
	}
	s.seq++
	msg.seq = s.seq
	msg.Status = StatusPending
	conv.Messages = append(conv.Messages, msg)
	s.mu.Unlock()
	s.notify(conversationID)
}

// SetMessageStatus updates one message's delivery status in place.
func (s *Store) SetMessageStatus(conversationID, messageID string, status DeliveryStatus) {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	changed := false
	if ok {
		for i := range conv.Messages {
			if conv.Messages[i].ID == messageID {
				conv.Messages[i].Status = status
				changed = true
				break
			}
		}
	}
	s.mu.Unlock()
	if changed {
		s.notify(conversationID)
	}
}

// ApplyInbound folds one live gateway message into its conversation.
// A correlation id matching a local pending entry upgrades that entry
// in place (pending -> confirmed, durable id assigned); a duplicate
// durable id is dropped; anything else inserts in timestamp order.
func (s *Store) ApplyInbound(wm WireMessage) {
	s.mu.Lock()
	conv, ok := s.conversations[wm.ConversationID]
	if !ok {
		conv = &Conversation{ID: wm.ConversationID, Visibility: VisibilityClosed}
		s.conversations[wm.ConversationID] = conv
	}
	if wm.CorrelationID != "" {
		if i := indexByCorrelation(conv.Messages, wm.CorrelationID); i >= 0 {
			seq := conv.Messages[i].seq
			conv.Messages[i] = fromWire(wm)
			conv.Messages[i].seq = seq
			s.mu.Unlock()
			s.notify(wm.ConversationID)
			return
		}
	}
	if conv.hasMessage(wm.ID) {
		s.mu.Unlock()
		return
	}
	msg := fromWire(wm)
	s.seq++
	msg.seq = s.seq
	conv.Messages = insertOrdered(conv.Messages, msg)
	if wm.SenderID != s.selfID && conv.Visibility != VisibilityOpen {
		conv.Unread++
	}
	s.mu.Unlock()
	s.notify(wm.ConversationID)
}

// MergeHistory unions a fetched page into the cached list: existing
// entries win by id, confirmations adopt their pending counterparts by
// correlation id, and the result is re-sorted. Never an overwrite:
// live messages that arrived while the fetch was in flight survive.
func (s *Store) MergeHistory(conversationID string, page []Message, nextCursor string) {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = &Conversation{ID: conversationID, Visibility: VisibilityClosed}
		s.conversations[conversationID] = conv
	}
	for _, msg := range page {
		if conv.hasMessage(msg.ID) {
			continue
		}
		if msg.CorrelationID != "" {
			if i := indexByCorrelation(conv.Messages, msg.CorrelationID); i >= 0 {
				seq := conv.Messages[i].seq
				msg.Status = StatusConfirmed
				conv.Messages[i] = msg
				conv.Messages[i].seq = seq
				continue
			}
		}
		s.seq++
		msg.seq = s.seq
		msg.Status = StatusConfirmed
		conv.Messages = append(conv.Messages, msg)
	}
	sortMessages(conv.Messages)
	conv.HistoryCursor = nextCursor
	s.mu.Unlock()
	s.notify(conversationID)
}

// ApplyReadReceipt records when another participant last read the
// conversation.
func (s *Store) ApplyReadReceipt(rr ReadReceipt) {
	s.mu.Lock()
	conv, ok := s.conversations[rr.ConversationID]
	if ok {
		if conv.ReadAt == nil {
			conv.ReadAt = make(map[string]time.Time)
		}
		conv.ReadAt[rr.UserID] = rr.ReadAt
	}
	s.mu.Unlock()
	if ok {
		s.notify(rr.ConversationID)
	}
}

// MarkRead clears the local unread counter.
func (s *Store) MarkRead(conversationID string) {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if ok {
		conv.Unread = 0
	}
	s.mu.Unlock()
	if ok {
		s.notify(conversationID)
	}
}

// beginHistoryLoad flips the conversation's loading flag; returns
// false when a load is already in flight.
func (s *Store) beginHistoryLoad(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = &Conversation{ID: conversationID, Visibility: VisibilityClosed}
		s.conversations[conversationID] = conv
	}
	if conv.Loading {
		return false
	}
	conv.Loading = true
	return true
}

func (s *Store) endHistoryLoad(conversationID string) {
	s.mu.Lock()
	if conv, ok := s.conversations[conversationID]; ok {
		conv.Loading = false
	}
	s.mu.Unlock()
}

// Get returns a snapshot of one conversation.
func (s *Store) Get(conversationID string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return Conversation{}, false
	}
	return snapshot(conv), true
}

// Messages returns a snapshot of one conversation's message list.
func (s *Store) Messages(conversationID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	return append([]Message(nil), conv.Messages...)
}

// List returns snapshots of every tracked conversation.
func (s *Store) List() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, snapshot(conv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Visible returns the ids of conversations currently on screen.
func (s *Store) Visible() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, conv := range s.conversations {
		if conv.Visibility != VisibilityClosed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Reset drops all in-memory state. Used at session teardown.
func (s *Store) Reset() {
	s.mu.Lock()
	s.conversations = make(map[string]*Conversation)
	s.mu.Unlock()
}

func (s *Store) notify(conversationID string) {
	s.mu.RLock()
	subs := append([]func(string){}, s.subs...)
	s.mu.RUnlock()
	for _, fn := range subs {
		fn(conversationID)
	}
}

func snapshot(conv *Conversation) Conversation {
	out := *conv
	out.Messages = append([]Message(nil), conv.Messages...)
	if conv.ReadAt != nil {
		out.ReadAt = make(map[string]time.Time, len(conv.ReadAt))
		for k, v := range conv.ReadAt {
			out.ReadAt[k] = v
		}
	}
	return out
}

func fromWire(wm WireMessage) Message {
	return Message{
		ID:             wm.ID,
		ConversationID: wm.ConversationID,
		SenderID:       wm.SenderID,
		SenderRole:     wm.SenderRole,
		Content:        wm.Content,
		Type:           wm.Type,
		CreatedAt:      wm.CreatedAt,
		Status:         StatusConfirmed,
		CorrelationID:  wm.CorrelationID,
	}
}

func indexByCorrelation(msgs []Message, correlationID string) int {
	for i := range msgs {
		if msgs[i].CorrelationID == correlationID {
			return i
		}
	}
	return -1
}

// insertOrdered appends in the common steady-state case (monotonic
// arrival) and falls back to a sorted insert for stragglers.
func insertOrdered(msgs []Message, msg Message) []Message {
	if n := len(msgs); n == 0 || !msgs[n-1].CreatedAt.After(msg.CreatedAt) {
		return append(msgs, msg)
	}
	i := sort.Search(len(msgs), func(i int) bool {
		return msgs[i].CreatedAt.After(msg.CreatedAt)
	})
	msgs = append(msgs, Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = msg
	return msgs
}

func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].seq < msgs[j].seq
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
