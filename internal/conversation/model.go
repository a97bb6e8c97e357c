package conversation

import (
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ThreadWindow is how long after its last message a conversation stays current.
const ThreadWindow = 24 * time.Hour

// SnippetLength caps LastMessageSnippet, in runes.
const SnippetLength = 500

// Attribution values recorded on urgency tags.
const (
	TaggedByAISystem = "AI_SYSTEM"
	TaggedByAIEngine = "AI_ENGINE"
)

// UrgencyNotes is written on tags placed by the classifier.
const UrgencyNotes = "Urgencia detectada automáticamente: el mensaje contiene palabras clave de emergencia"

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation: not found")

type TagColor string

const (
	TagOrange TagColor = "orange"
	TagNormal TagColor = "normal"
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageMedia MessageType = "media"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type TagAction string

const (
	TagActionTagged   TagAction = "tagged"
	TagActionUntagged TagAction = "untagged"
)

// Conversation is a thread of messages with one phone number.
type Conversation struct {
	ID                 uuid.UUID  `json:"id"`
	Phone              string     `json:"phone"`
	PatientID          *string    `json:"patient_id,omitempty"`
	LastMessageAt      time.Time  `json:"last_message_at"`
	MessageCount       int        `json:"message_count"`
	LastMessageSnippet string     `json:"last_message_snippet"`
	Urgent             bool       `json:"urgent"`
	TagColor           TagColor   `json:"tag_color"`
	TagNotes           string     `json:"tag_notes,omitempty"`
	TaggedBy           string     `json:"tagged_by,omitempty"`
	TaggedAt           *time.Time `json:"tagged_at,omitempty"`
	Active             bool       `json:"active"`
	CreatedAt          time.Time  `json:"created_at"`
}

// IsCurrent reports whether the conversation still threads new messages at now.
func (c *Conversation) IsCurrent(now time.Time) bool {
	return c != nil && c.Active && !c.LastMessageAt.Before(now.Add(-ThreadWindow))
}

// Message is immutable once appended.
type Message struct {
	ID              uuid.UUID   `json:"id"`
	ConversationID  uuid.UUID   `json:"conversation_id"`
	Seq             int64       `json:"seq"`
	Content         string      `json:"content"`
	Type            MessageType `json:"type"`
	SenderPhone     string      `json:"sender_phone"`
	Direction       Direction   `json:"direction"`
	Timestamp       time.Time   `json:"timestamp"`
	UrgencyDetected bool        `json:"urgency_detected"`
}

// TagEvent is one entry of a conversation's tag history.
type TagEvent struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Action         TagAction `json:"action"`
	Color          TagColor  `json:"color"`
	Notes          string    `json:"notes,omitempty"`
	Actor          string    `json:"actor"`
	CreatedAt      time.Time `json:"created_at"`
}

// Snippet truncates content to SnippetLength runes.
func Snippet(content string) string {
	if utf8.RuneCountInString(content) <= SnippetLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:SnippetLength])
}
