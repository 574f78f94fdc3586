package gateway

import (
	"time"

	"hirehub/internal/messaging"
)

type conversationDTO struct {
	ID            string                 `json:"id"`
	Participants  messaging.Participants `json:"participants"`
	LinkedJobID   string                 `json:"linked_job_id,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	LastMessageAt time.Time              `json:"last_message_at,omitempty"`
	ReadAt        map[string]time.Time   `json:"read_at,omitempty"`
}

type conversationList struct {
	Items []conversationDTO `json:"items"`
}

type messageList struct {
	Items      []messaging.WireMessage `json:"items"`
	NextCursor string                  `json:"next_cursor,omitempty"`
}

type createConversationRequest struct {
	RequesterID   string `json:"requester_id"`
	RequesterName string `json:"requester_name"`
	ProviderID    string `json:"provider_id"`
	ProviderName  string `json:"provider_name"`
	LinkedJobID   string `json:"linked_job_id"`
}

type addParticipantRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

func toConversationDTO(conv ConversationInfo) conversationDTO {
	return conversationDTO{
		ID:            conv.ID,
		Participants:  conv.Participants,
		LinkedJobID:   conv.LinkedJobID,
		CreatedAt:     conv.CreatedAt,
		LastMessageAt: conv.LastMessageAt,
		ReadAt:        conv.ReadAt,
	}
}
