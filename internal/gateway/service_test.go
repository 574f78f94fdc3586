package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hirehub/internal/messaging"
)

type fakeRegistry struct {
	conversations map[string]ConversationInfo
	touched       int
	readMarks     map[string]time.Time
}

func newFakeRegistry(convs ...ConversationInfo) *fakeRegistry {
	r := &fakeRegistry{
		conversations: make(map[string]ConversationInfo),
		readMarks:     make(map[string]time.Time),
	}
	for _, c := range convs {
		r.conversations[c.ID] = c
	}
	return r
}

func (r *fakeRegistry) Create(_ context.Context, p messaging.Participants, linkedJobID string) (ConversationInfo, error) {
	info := ConversationInfo{ID: fmt.Sprintf("c-%d", len(r.conversations)+1), Participants: p, LinkedJobID: linkedJobID, CreatedAt: time.Now()}
	r.conversations[info.ID] = info
	return info, nil
}

func (r *fakeRegistry) Get(_ context.Context, id string) (ConversationInfo, error) {
	info, ok := r.conversations[id]
	if !ok {
		return ConversationInfo{}, ErrNotFound
	}
	return info, nil
}

func (r *fakeRegistry) ForUser(_ context.Context, userID string) ([]ConversationInfo, error) {
	var out []ConversationInfo
	for _, c := range r.conversations {
		if c.Participants.Includes(userID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeRegistry) AddFacilitator(_ context.Context, id, userID, name string) (bool, error) {
	info, ok := r.conversations[id]
	if !ok {
		return false, ErrNotFound
	}
	switch info.Participants.FacilitatorID {
	case "":
		info.Participants.FacilitatorID = userID
		info.Participants.FacilitatorName = name
		r.conversations[id] = info
		return true, nil
	case userID:
		return false, nil
	}
	return false, ErrFacilitatorAssigned
}

func (r *fakeRegistry) TouchLastMessage(_ context.Context, _, _, _ string, _ time.Time) error {
	r.touched++
	return nil
}

func (r *fakeRegistry) MarkRead(_ context.Context, id, userID string, at time.Time) error {
	r.readMarks[id+"/"+userID] = at
	return nil
}

type fakeLog struct {
	appended []messaging.WireMessage
	err      error
}

func (l *fakeLog) Append(_ context.Context, conversationID, senderID string, role messaging.Role, content string, msgType messaging.MessageType, correlationID string) (messaging.WireMessage, error) {
	if l.err != nil {
		return messaging.WireMessage{}, l.err
	}
	wm := messaging.WireMessage{
		ID:             fmt.Sprintf("m-%d", len(l.appended)+1),
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderRole:     role,
		Content:        content,
		Type:           msgType,
		CreatedAt:      time.Now().UTC(),
		CorrelationID:  correlationID,
	}
	l.appended = append(l.appended, wm)
	return wm, nil
}

func (l *fakeLog) Page(_ context.Context, conversationID string, _ int, _ string) ([]messaging.WireMessage, string, error) {
	var out []messaging.WireMessage
	for _, wm := range l.appended {
		if wm.ConversationID == conversationID {
			out = append(out, wm)
		}
	}
	return out, "", nil
}

var (
	_ Registry   = (*fakeRegistry)(nil)
	_ MessageLog = (*fakeLog)(nil)
)

func testConversation() ConversationInfo {
	return ConversationInfo{
		ID: "c-1",
		Participants: messaging.Participants{
			RequesterID: "r-1", RequesterName: "Rita",
			ProviderID: "p-1", ProviderName: "Pat",
		},
	}
}

func newTestService(reg Registry, log MessageLog) *Service {
	return &Service{
		Hub:      NewHub(slog.Default()),
		Registry: reg,
		Log:      log,
		Logger:   slog.Default(),
	}
}

// drainFrames decodes everything queued on the client's send channel.
func drainFrames(t *testing.T, c *client) []messaging.Envelope {
	t.Helper()
	var out []messaging.Envelope
	for {
		select {
		case frame := <-c.send:
			var env messaging.Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func frameOf(t *testing.T, event string, data any) []byte {
	t.Helper()
	env, err := messaging.NewEnvelope(event, data)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

func decodeFrame[T any](t *testing.T, env messaging.Envelope) T {
	t.Helper()
	var payload T
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	return payload
}

func TestJoinRequiresMembership(t *testing.T) {
	svc := newTestService(newFakeRegistry(testConversation()), &fakeLog{})
	member := newClient(nil, Principal{UserID: "r-1", Name: "Rita"})
	stranger := newClient(nil, Principal{UserID: "x-1", Name: "Eve"})

	svc.HandleFrame(context.Background(), member, frameOf(t, messaging.EventJoin, messaging.JoinPayload{ConversationID: "c-1"}))
	svc.HandleFrame(context.Background(), stranger, frameOf(t, messaging.EventJoin, messaging.JoinPayload{ConversationID: "c-1"}))

	memberFrames := drainFrames(t, member)
	require.Len(t, memberFrames, 1)
	assert.Equal(t, messaging.EventJoined, memberFrames[0].Event)
	assert.True(t, svc.Hub.inRoom("c-1", member))

	strangerFrames := drainFrames(t, stranger)
	require.Len(t, strangerFrames, 1)
	assert.Equal(t, messaging.EventError, strangerFrames[0].Event)
	assert.Equal(t, "forbidden", decodeFrame[messaging.WireError](t, strangerFrames[0]).Code)
	assert.False(t, svc.Hub.inRoom("c-1", stranger))
}

func TestJoinUnknownConversation(t *testing.T) {
	svc := newTestService(newFakeRegistry(), &fakeLog{})
	c := newClient(nil, Principal{UserID: "r-1"})

	svc.HandleFrame(context.Background(), c, frameOf(t, messaging.EventJoin, messaging.JoinPayload{ConversationID: "ghost"}))

	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, "not_found", decodeFrame[messaging.WireError](t, frames[0]).Code)
}

func TestSendPersistsAndEchoesToRoom(t *testing.T) {
	reg := newFakeRegistry(testConversation())
	log := &fakeLog{}
	svc := newTestService(reg, log)
	sender := newClient(nil, Principal{UserID: "r-1", Name: "Rita"})
	peer := newClient(nil, Principal{UserID: "p-1", Name: "Pat"})
	svc.Hub.join("c-1", sender)
	svc.Hub.join("c-1", peer)

	svc.HandleFrame(context.Background(), sender, frameOf(t, messaging.EventSend, messaging.SendPayload{
		ConversationID: "c-1",
		Content:        "  hello  ",
		CorrelationID:  "corr-1",
	}))

	require.Len(t, log.appended, 1)
	assert.Equal(t, "hello", log.appended[0].Content)
	assert.Equal(t, messaging.RoleRequester, log.appended[0].SenderRole)
	assert.Equal(t, 1, reg.touched)

	// both sockets get the echo; the sender's copy carries the
	// correlation id that confirms the optimistic entry
	for _, c := range []*client{sender, peer} {
		frames := drainFrames(t, c)
		require.Len(t, frames, 1)
		wm := decodeFrame[messaging.WireMessage](t, frames[0])
		assert.Equal(t, "m-1", wm.ID)
		assert.Equal(t, "corr-1", wm.CorrelationID)
	}
}

func TestSendRejectsEmptyContent(t *testing.T) {
	svc := newTestService(newFakeRegistry(testConversation()), &fakeLog{})
	c := newClient(nil, Principal{UserID: "r-1"})

	svc.HandleFrame(context.Background(), c, frameOf(t, messaging.EventSend, messaging.SendPayload{
		ConversationID: "c-1",
		Content:        "   ",
	}))

	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, "bad_payload", decodeFrame[messaging.WireError](t, frames[0]).Code)
}

func TestSendFromNonParticipantIsForbidden(t *testing.T) {
	log := &fakeLog{}
	svc := newTestService(newFakeRegistry(testConversation()), log)
	c := newClient(nil, Principal{UserID: "x-1"})

	svc.HandleFrame(context.Background(), c, frameOf(t, messaging.EventSend, messaging.SendPayload{
		ConversationID: "c-1",
		Content:        "hi",
	}))

	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, "forbidden", decodeFrame[messaging.WireError](t, frames[0]).Code)
	assert.Empty(t, log.appended)
}

func TestSendSurfacesStoreFailure(t *testing.T) {
	log := &fakeLog{err: fmt.Errorf("scylla timeout")}
	svc := newTestService(newFakeRegistry(testConversation()), log)
	c := newClient(nil, Principal{UserID: "r-1"})
	svc.Hub.join("c-1", c)

	svc.HandleFrame(context.Background(), c, frameOf(t, messaging.EventSend, messaging.SendPayload{
		ConversationID: "c-1",
		Content:        "hi",
	}))

	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, "store_unavailable", decodeFrame[messaging.WireError](t, frames[0]).Code)
}

func TestTypingExcludesSenderAndUnjoinedRooms(t *testing.T) {
	svc := newTestService(newFakeRegistry(testConversation()), &fakeLog{})
	sender := newClient(nil, Principal{UserID: "r-1"})
	peer := newClient(nil, Principal{UserID: "p-1"})
	svc.Hub.join("c-1", sender)
	svc.Hub.join("c-1", peer)

	svc.HandleFrame(context.Background(), sender, frameOf(t, messaging.EventTyping, messaging.TypingPayload{
		ConversationID: "c-1",
		IsTyping:       true,
	}))

	assert.Empty(t, drainFrames(t, sender))
	frames := drainFrames(t, peer)
	require.Len(t, frames, 1)
	evt := decodeFrame[messaging.TypingEvent](t, frames[0])
	assert.Equal(t, "r-1", evt.UserID)
	assert.True(t, evt.IsTyping)

	// typing into a room the sender never joined is dropped
	svc.HandleFrame(context.Background(), sender, frameOf(t, messaging.EventTyping, messaging.TypingPayload{
		ConversationID: "c-2",
		IsTyping:       true,
	}))
	assert.Empty(t, drainFrames(t, sender))
	assert.Empty(t, drainFrames(t, peer))
}

func TestMarkReadBroadcastsReceipt(t *testing.T) {
	reg := newFakeRegistry(testConversation())
	svc := newTestService(reg, &fakeLog{})
	reader := newClient(nil, Principal{UserID: "r-1"})
	peer := newClient(nil, Principal{UserID: "p-1"})
	svc.Hub.join("c-1", reader)
	svc.Hub.join("c-1", peer)

	readAt, err := svc.MarkRead(context.Background(), "c-1", "r-1")
	require.NoError(t, err)
	assert.Equal(t, readAt, reg.readMarks["c-1/r-1"])

	frames := drainFrames(t, peer)
	require.Len(t, frames, 1)
	rr := decodeFrame[messaging.ReadReceipt](t, frames[0])
	assert.Equal(t, "r-1", rr.UserID)

	_, err = svc.MarkRead(context.Background(), "c-1", "x-1")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAddFacilitatorAnnouncesSystemMessage(t *testing.T) {
	reg := newFakeRegistry(testConversation())
	log := &fakeLog{}
	svc := newTestService(reg, log)
	member := newClient(nil, Principal{UserID: "r-1"})
	svc.Hub.join("c-1", member)

	added, err := svc.AddFacilitator(context.Background(), "c-1", "f-1", "Fay")
	require.NoError(t, err)
	assert.True(t, added)

	require.Len(t, log.appended, 1)
	assert.Equal(t, messaging.TypeSystem, log.appended[0].Type)
	assert.Equal(t, "Fay joined the conversation", log.appended[0].Content)

	frames := drainFrames(t, member)
	require.Len(t, frames, 1)
	assert.Equal(t, messaging.EventMessage, frames[0].Event)

	// same facilitator again: membership no-op, nothing persisted
	added, err = svc.AddFacilitator(context.Background(), "c-1", "f-1", "Fay")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Len(t, log.appended, 1)

	// a different facilitator is rejected
	_, err = svc.AddFacilitator(context.Background(), "c-1", "f-2", "Finn")
	assert.ErrorIs(t, err, ErrFacilitatorAssigned)
}

func TestDeliverRemoteReachesLocalRoom(t *testing.T) {
	svc := newTestService(newFakeRegistry(testConversation()), &fakeLog{})
	c := newClient(nil, Principal{UserID: "r-1"})
	svc.Hub.join("c-1", c)

	svc.DeliverRemote(messaging.WireMessage{ID: "m-9", ConversationID: "c-1", Content: "from another instance"})

	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, "m-9", decodeFrame[messaging.WireMessage](t, frames[0]).ID)
}

func TestUnknownEventIsReported(t *testing.T) {
	svc := newTestService(newFakeRegistry(), &fakeLog{})
	c := newClient(nil, Principal{UserID: "r-1"})

	svc.HandleFrame(context.Background(), c, []byte(`{"event":"mystery","data":{}}`))

	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, "unknown_event", decodeFrame[messaging.WireError](t, frames[0]).Code)
}
