package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence the conversation core depends on. Each call is
// atomic with respect to its own conversation row.
type Store interface {
	// FindActiveConversation returns the most recently active conversation for
	// phone whose last message is at or after since, or nil when none qualifies.
	FindActiveConversation(ctx context.Context, phone string, since time.Time) (*Conversation, error)
	CreateConversation(ctx context.Context, phone string, now time.Time) (*Conversation, error)
	// AppendMessage stores msg with the next sequence number and bumps the
	// conversation's count, snippet and last-message time.
	AppendMessage(ctx context.Context, conversationID uuid.UUID, msg Message) (Message, error)
	// SetUrgencyTag marks the conversation orange. Repeating it overwrites the
	// tag fields in place and appends one history entry.
	SetUrgencyTag(ctx context.Context, conversationID uuid.UUID, notes, taggedBy string) error
	ClearUrgencyTag(ctx context.Context, conversationID uuid.UUID, actor string) error
}

// AtomicResolver is implemented by stores that can find-or-create a
// conversation without a creation race.
type AtomicResolver interface {
	ResolveActiveConversation(ctx context.Context, phone string, now time.Time) (*Conversation, error)
}

// Filter selects conversations for the admin list.
type Filter struct {
	Page   int
	Limit  int
	Search string
	// Urgent filters by urgency flag when non-nil.
	Urgent *bool
	// Tag filters by tag color when non-empty.
	Tag   TagColor
	Since *time.Time
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize clamps paging values.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	return f
}

// Offset is the number of rows skipped for the current page.
func (f Filter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Page is one page of conversations.
type Page struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	Page          int            `json:"page"`
	Limit         int            `json:"limit"`
	TotalPages    int            `json:"total_pages"`
}

// ReadStore backs the admin API.
type ReadStore interface {
	ListConversations(ctx context.Context, filter Filter) (Page, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error)
	ListTagHistory(ctx context.Context, conversationID uuid.UUID) ([]TagEvent, error)
}

// Repository is the full store used by the binaries.
type Repository interface {
	Store
	ReadStore
}

func newPage(items []Conversation, total int, f Filter) Page {
	if items == nil {
		items = []Conversation{}
	}
	pages := 0
	if f.Limit > 0 {
		pages = (total + f.Limit - 1) / f.Limit
	}
	return Page{Conversations: items, Total: total, Page: f.Page, Limit: f.Limit, TotalPages: pages}
}
