package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinicdesk/internal/conversation"
)

// OutboxEntry is an envelope waiting for delivery.
type OutboxEntry struct {
	ID        uuid.UUID
	Aggregate string
	Type      string
	Payload   json.RawMessage
	CreatedAt time.Time
	Attempts  int
}

type outboxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OutboxStore keeps urgency events in the outbox table until a Deliverer
// has published them.
type OutboxStore struct {
	db outboxQuerier
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &OutboxStore{db: pool}
}

func newOutboxStoreWithExec(db outboxQuerier) *OutboxStore {
	if db == nil {
		panic("events: exec required")
	}
	return &OutboxStore{db: db}
}

// Append writes evt to the outbox.
func (s *OutboxStore) Append(ctx context.Context, aggregate, correlationID string, evt Event, opts ...EnvelopeOption) (Envelope, error) {
	return appendEvent(ctx, s.db, aggregate, correlationID, evt, opts...)
}

const selectPendingSQL = `
	SELECT id, aggregate, event_type, payload, created_at, attempts
	FROM outbox
	WHERE delivered_at IS NULL AND attempts < $2
	ORDER BY created_at
	LIMIT $1
`

// FetchPending returns the oldest undelivered entries that have failed fewer
// than maxAttempts times.
func (s *OutboxStore) FetchPending(ctx context.Context, limit int32, maxAttempts int) ([]OutboxEntry, error) {
	rows, err := s.db.Query(ctx, selectPendingSQL, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	defer rows.Close()

	var pending []OutboxEntry
	for rows.Next() {
		var (
			e       OutboxEntry
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.Aggregate, &e.Type, &payload, &e.CreatedAt, &e.Attempts); err != nil {
			return nil, fmt.Errorf("events: scan outbox row: %w", err)
		}
		e.Payload = append(json.RawMessage(nil), payload...)
		pending = append(pending, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events: iterate outbox: %w", err)
	}
	return pending, nil
}

// MarkDelivered reports false when another deliverer got there first.
func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	ct, err := s.db.Exec(ctx,
		`UPDATE outbox SET delivered_at = now() WHERE id = $1 AND delivered_at IS NULL`, id)
	if err != nil {
		return false, fmt.Errorf("events: mark %s delivered: %w", id, err)
	}
	return ct.RowsAffected() == 1, nil
}

// RecordFailure bumps the attempt counter and keeps the last error text.
func (s *OutboxStore) RecordFailure(ctx context.Context, id uuid.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := s.db.Exec(ctx,
		`UPDATE outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`, id, msg); err != nil {
		return fmt.Errorf("events: record failure for %s: %w", id, err)
	}
	return nil
}

// UrgencyOutbox records urgency alerts in the outbox. It implements
// conversation.UrgencyNotifier; a Deliverer publishes the rows later.
type UrgencyOutbox struct {
	store *OutboxStore
}

func NewUrgencyOutbox(store *OutboxStore) *UrgencyOutbox {
	return &UrgencyOutbox{store: store}
}

func (o *UrgencyOutbox) NotifyUrgent(ctx context.Context, alert conversation.UrgentAlert) error {
	id := alert.ConversationID.String()
	_, err := o.store.Append(ctx, ConversationAggregate(id), id, NewConversationUrgentV1(alert), WithOccurredAt(alert.TaggedAt))
	return err
}

var _ conversation.UrgencyNotifier = (*UrgencyOutbox)(nil)
