package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Event is a domain event. EventType is "<name>.v<N>", e.g.
// "conversation.urgent.v1".
type Event interface {
	EventType() string
}

// Envelope is what subscribers receive: the event plus delivery metadata.
type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	EventType     string          `json:"event_type"`
	Version       int             `json:"version"`
	Aggregate     string          `json:"aggregate"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EnvelopeOption customizes a new envelope.
type EnvelopeOption func(*Envelope)

func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *Envelope) {
		if id != uuid.Nil {
			e.EventID = id
		}
	}
}

func WithOccurredAt(ts time.Time) EnvelopeOption {
	return func(e *Envelope) {
		if !ts.IsZero() {
			e.OccurredAt = ts.UTC()
		}
	}
}

var (
	errMissingAggregate = errors.New("events: aggregate is required")
	errNilEvent         = errors.New("events: event required")
	nowFunc             = time.Now
)

// splitEventType returns the name and version of an event type. A type
// without a version suffix is version 1.
func splitEventType(eventType string) (string, int) {
	eventType = strings.TrimSpace(eventType)
	i := strings.LastIndex(eventType, ".")
	if i <= 0 || len(eventType) < i+3 || eventType[i+1] != 'v' {
		return eventType, 1
	}
	v, err := strconv.Atoi(eventType[i+2:])
	if err != nil || v <= 0 {
		return eventType, 1
	}
	return eventType[:i], v
}

func newEnvelope(aggregate, correlationID string, evt Event, opts ...EnvelopeOption) (Envelope, error) {
	aggregate = strings.TrimSpace(aggregate)
	if aggregate == "" {
		return Envelope{}, errMissingAggregate
	}
	if evt == nil {
		return Envelope{}, errNilEvent
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		return Envelope{}, errors.New("events: event type missing")
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal %s: %w", eventType, err)
	}
	_, version := splitEventType(eventType)
	env := Envelope{
		EventID:       uuid.New(),
		EventType:     eventType,
		Version:       version,
		Aggregate:     aggregate,
		OccurredAt:    nowFunc().UTC(),
		CorrelationID: strings.TrimSpace(correlationID),
		Payload:       payload,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&env)
		}
	}
	return env, nil
}

// DecodeEnvelope parses an envelope and, when dst is non-nil, its payload.
func DecodeEnvelope(data []byte, dst any) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("events: decode envelope: %w", err)
	}
	if dst != nil {
		if err := json.Unmarshal(env.Payload, dst); err != nil {
			return env, fmt.Errorf("events: decode %s payload: %w", env.EventType, err)
		}
	}
	return env, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertOutboxSQL = `
	INSERT INTO outbox (id, aggregate, event_type, payload)
	VALUES ($1, $2, $3, $4)
`

// appendEvent writes evt to the outbox through exec, which may be a pool or
// an open transaction.
func appendEvent(ctx context.Context, exec execer, aggregate, correlationID string, evt Event, opts ...EnvelopeOption) (Envelope, error) {
	if exec == nil {
		return Envelope{}, errors.New("events: exec required")
	}
	env, err := newEnvelope(aggregate, correlationID, evt, opts...)
	if err != nil {
		return Envelope{}, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal envelope: %w", err)
	}
	if _, err := exec.Exec(ctx, insertOutboxSQL, env.EventID, env.Aggregate, env.EventType, data); err != nil {
		return Envelope{}, fmt.Errorf("events: append %s: %w", env.EventType, err)
	}
	return env, nil
}
