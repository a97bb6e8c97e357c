package events

import (
	"time"

	"github.com/wolfman30/clinicdesk/internal/conversation"
)

// ConversationUrgentV1 is emitted when a conversation is tagged urgent.
type ConversationUrgentV1 struct {
	ConversationID string    `json:"conversation_id"`
	Phone          string    `json:"phone"`
	Snippet        string    `json:"snippet"`
	Keyword        string    `json:"keyword,omitempty"`
	TaggedBy       string    `json:"tagged_by"`
	TaggedAt       time.Time `json:"tagged_at"`
}

func (ConversationUrgentV1) EventType() string {
	return "conversation.urgent.v1"
}

// NewConversationUrgentV1 converts a processor alert to its event form.
func NewConversationUrgentV1(alert conversation.UrgentAlert) ConversationUrgentV1 {
	return ConversationUrgentV1{
		ConversationID: alert.ConversationID.String(),
		Phone:          alert.Phone,
		Snippet:        alert.Text,
		Keyword:        alert.Keyword,
		TaggedBy:       alert.TaggedBy,
		TaggedAt:       alert.TaggedAt.UTC(),
	}
}

// ConversationAggregate is the aggregate key used for conversation events.
func ConversationAggregate(id string) string {
	return "conversation:" + id
}
