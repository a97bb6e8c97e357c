package conversation

import (
	"context"
	"errors"
	"time"
)

// Threader resolves the current conversation for a phone number, creating
// one when no conversation had a message within ThreadWindow.
type Threader struct {
	store Store
	locks *keyedMutex
	now   func() time.Time
}

// NewThreader wraps store. Stores implementing AtomicResolver resolve in one call.
func NewThreader(store Store) *Threader {
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	return &Threader{store: store, locks: newKeyedMutex(), now: time.Now}
}

// WithClock overrides the clock used for the threading window.
func (t *Threader) WithClock(now func() time.Time) *Threader {
	t.now = now
	return t
}

// Now returns the threader's current time.
func (t *Threader) Now() time.Time {
	return t.now()
}

// Lock serializes work on one phone number inside this process. The returned
// func releases it.
func (t *Threader) Lock(phone string) func() {
	return t.locks.Lock(NormalizePhone(phone))
}

// Resolve returns the current conversation for phone as of now. Callers
// should hold Lock(phone) when messages for one phone may arrive concurrently.
func (t *Threader) Resolve(ctx context.Context, phone string, now time.Time) (*Conversation, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return nil, errors.New("conversation: phone number is required")
	}
	if resolver, ok := t.store.(AtomicResolver); ok {
		return resolver.ResolveActiveConversation(ctx, phone, now)
	}
	c, err := t.store.FindActiveConversation(ctx, phone, now.Add(-ThreadWindow))
	if err != nil {
		return nil, err
	}
	if c != nil {
		return c, nil
	}
	return t.store.CreateConversation(ctx, phone, now)
}
