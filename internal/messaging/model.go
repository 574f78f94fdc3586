package messaging

import "time"

// Role identifies a participant's function inside a conversation.
type Role string

const (
	RoleRequester   Role = "requester"
	RoleProvider    Role = "provider"
	RoleFacilitator Role = "facilitator"
)

// MessageType distinguishes user content from synthetic entries.
type MessageType string

const (
	TypeText   MessageType = "text"
	TypeFile   MessageType = "file"
	TypeSystem MessageType = "system"
)

// DeliveryStatus tracks an outbound message through confirmation.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusConfirmed DeliveryStatus = "confirmed"
	StatusFailed    DeliveryStatus = "failed"
)

// Visibility is the UI state of a conversation within the session.
type Visibility string

const (
	VisibilityOpen    Visibility = "open"
	VisibilityPreview Visibility = "preview"
	VisibilityCompact Visibility = "compact"
	VisibilityClosed  Visibility = "closed"
)

// Participants holds the membership of a conversation. The facilitator
// slot starts empty and may be filled exactly once; membership never
// shrinks.
type Participants struct {
	RequesterID     string `json:"requester_id"`
	RequesterName   string `json:"requester_name"`
	ProviderID      string `json:"provider_id"`
	ProviderName    string `json:"provider_name"`
	FacilitatorID   string `json:"facilitator_id,omitempty"`
	FacilitatorName string `json:"facilitator_name,omitempty"`
}

// Includes reports whether userID is a member.
func (p Participants) Includes(userID string) bool {
	if userID == "" {
		return false
	}
	return p.RequesterID == userID || p.ProviderID == userID || p.FacilitatorID == userID
}

// RoleOf returns the role userID plays, or "" when not a member.
func (p Participants) RoleOf(userID string) Role {
	switch userID {
	case "":
		return ""
	case p.RequesterID:
		return RoleRequester
	case p.ProviderID:
		return RoleProvider
	case p.FacilitatorID:
		return RoleFacilitator
	}
	return ""
}

// Message is one entry in a conversation. ID is a client-local
// placeholder ("tmp-" prefix) until the gateway confirms a durable id.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderRole     Role
	Content        string
	Type           MessageType
	CreatedAt      time.Time
	Status         DeliveryStatus
	CorrelationID  string

	// arrival sequence, breaks ordering ties between equal timestamps
	seq uint64
}

// Conversation is the in-memory projection of a chat thread. Values
// handed out by the store are snapshots; mutate only through Store
// operations.
type Conversation struct {
	ID            string
	Participants  Participants
	LinkedJobID   string
	Messages      []Message
	Visibility    Visibility
	Loading       bool
	HistoryCursor string
	Unread        int
	ReadAt        map[string]time.Time
}

func (c Conversation) hasMessage(id string) bool {
	for _, m := range c.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}
