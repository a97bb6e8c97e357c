package conversation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Repository used by tests and local runs.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*Conversation
	messages      map[uuid.UUID][]Message
	tags          map[uuid.UUID][]TagEvent
	now           func() time.Time
}

// NewMemoryStore returns an empty store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[uuid.UUID]*Conversation),
		messages:      make(map[uuid.UUID][]Message),
		tags:          make(map[uuid.UUID][]TagEvent),
		now:           time.Now,
	}
}

// WithClock overrides the clock used for tag timestamps.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) FindActiveConversation(ctx context.Context, phone string, since time.Time) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(phone, since), nil
}

func (s *MemoryStore) findLocked(phone string, since time.Time) *Conversation {
	var best *Conversation
	for _, c := range s.conversations {
		if c.Phone != phone || !c.Active || c.LastMessageAt.Before(since) {
			continue
		}
		if best == nil || c.LastMessageAt.After(best.LastMessageAt) {
			best = c
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

func (s *MemoryStore) CreateConversation(ctx context.Context, phone string, now time.Time) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(phone, now), nil
}

func (s *MemoryStore) createLocked(phone string, now time.Time) *Conversation {
	c := &Conversation{
		ID:            uuid.New(),
		Phone:         phone,
		LastMessageAt: now,
		TagColor:      TagNormal,
		Active:        true,
		CreatedAt:     now,
	}
	s.conversations[c.ID] = c
	cp := *c
	return &cp
}

// ResolveActiveConversation finds or creates under one lock.
func (s *MemoryStore) ResolveActiveConversation(ctx context.Context, phone string, now time.Time) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.findLocked(phone, now.Add(-ThreadWindow)); c != nil {
		return c, nil
	}
	return s.createLocked(phone, now), nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return Message{}, ErrNotFound
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	msg.ConversationID = conversationID
	msg.Seq = int64(len(s.messages[conversationID]) + 1)
	s.messages[conversationID] = append(s.messages[conversationID], msg)

	c.MessageCount++
	c.LastMessageSnippet = Snippet(msg.Content)
	if msg.Timestamp.After(c.LastMessageAt) {
		c.LastMessageAt = msg.Timestamp
	}
	return msg, nil
}

func (s *MemoryStore) SetUrgencyTag(ctx context.Context, conversationID uuid.UUID, notes, taggedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	now := s.now()
	c.Urgent = true
	c.TagColor = TagOrange
	c.TagNotes = notes
	c.TaggedBy = taggedBy
	c.TaggedAt = &now
	s.tags[conversationID] = append(s.tags[conversationID], TagEvent{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Action:         TagActionTagged,
		Color:          TagOrange,
		Notes:          notes,
		Actor:          taggedBy,
		CreatedAt:      now,
	})
	return nil
}

func (s *MemoryStore) ClearUrgencyTag(ctx context.Context, conversationID uuid.UUID, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	now := s.now()
	c.Urgent = false
	c.TagColor = TagNormal
	c.TagNotes = ""
	c.TaggedBy = ""
	c.TaggedAt = nil
	s.tags[conversationID] = append(s.tags[conversationID], TagEvent{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Action:         TagActionUntagged,
		Color:          TagNormal,
		Actor:          actor,
		CreatedAt:      now,
	})
	return nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, filter Filter) (Page, error) {
	filter = filter.Normalize()
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	searchDigits := NormalizePhone(search)

	s.mu.Lock()
	matched := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		if filter.Urgent != nil && c.Urgent != *filter.Urgent {
			continue
		}
		if filter.Tag != "" && c.TagColor != filter.Tag {
			continue
		}
		if filter.Since != nil && c.LastMessageAt.Before(*filter.Since) {
			continue
		}
		if search != "" {
			inPhone := searchDigits != "" && strings.Contains(c.Phone, searchDigits)
			inSnippet := strings.Contains(strings.ToLower(c.LastMessageSnippet), search)
			if !inPhone && !inSnippet {
				continue
			}
		}
		matched = append(matched, *c)
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Urgent != matched[j].Urgent {
			return matched[i].Urgent
		}
		return matched[i].LastMessageAt.After(matched[j].LastMessageAt)
	})

	total := len(matched)
	start := filter.Offset()
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return newPage(matched[start:end], total, filter), nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	return append([]Message{}, s.messages[conversationID]...), nil
}

func (s *MemoryStore) ListTagHistory(ctx context.Context, conversationID uuid.UUID) ([]TagEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	events := append([]TagEvent{}, s.tags[conversationID]...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].CreatedAt.After(events[j].CreatedAt) })
	return events, nil
}
