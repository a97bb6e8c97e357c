package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/clinicdesk/internal/conversation"
	"github.com/wolfman30/clinicdesk/pkg/logging"
)

var outboxColumns = []string{"id", "aggregate", "event_type", "payload", "created_at", "attempts"}

func TestOutboxStoreFlow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newOutboxStoreWithExec(mock)

	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), "conversation:abc", "conversation.urgent.v1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if _, err := store.Append(context.Background(), "conversation:abc", "", urgentEvent()); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	now := time.Now().UTC()
	id := uuid.New()
	rows := pgxmock.NewRows(outboxColumns).
		AddRow(id, "conversation:abc", "conversation.urgent.v1", []byte(`{"event_type":"conversation.urgent.v1"}`), now, 2)
	mock.ExpectQuery("SELECT id, aggregate").WithArgs(int32(10), 5).WillReturnRows(rows)

	entries, err := store.FetchPending(context.Background(), 10, 5)
	if err != nil {
		t.Fatalf("fetch pending failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id || entries[0].Aggregate != "conversation:abc" || entries[0].Attempts != 2 {
		t.Fatalf("unexpected entries: %#v", entries)
	}

	mock.ExpectExec("UPDATE outbox").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.MarkDelivered(context.Background(), id)
	if err != nil {
		t.Fatalf("mark delivered failed: %v", err)
	}
	if !ok {
		t.Fatal("expected mark delivered to report success")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUrgencyOutbox_NotifyUrgent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	convID := uuid.MustParse("7d9f1c2e-4b6a-4c8d-9e0f-112233445566")
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), "conversation:"+convID.String(), "conversation.urgent.v1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	notifier := NewUrgencyOutbox(newOutboxStoreWithExec(mock))
	err = notifier.NotifyUrgent(context.Background(), conversation.UrgentAlert{
		ConversationID: convID,
		Phone:          "34666111222",
		Text:           "dolor",
		TaggedBy:       conversation.TaggedByAISystem,
		TaggedAt:       time.Now(),
	})
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

type fakeConn struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakeConn) PublishMsg(m *nats.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func TestDeliverer_DrainPublishesAndMarks(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	env, err := newEnvelope("conversation:abc", "", urgentEvent())
	if err != nil {
		t.Fatalf("newEnvelope: %v", err)
	}
	data, _ := json.Marshal(env)

	rows := pgxmock.NewRows(outboxColumns).
		AddRow(env.EventID, env.Aggregate, env.EventType, data, time.Now().UTC(), 0)
	mock.ExpectQuery("SELECT id, aggregate").WithArgs(int32(25), 10).WillReturnRows(rows)
	mock.ExpectExec("UPDATE outbox").WithArgs(env.EventID).WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	conn := &fakeConn{}
	d := NewDeliverer(newOutboxStoreWithExec(mock), NewNATSPublisher(conn, "clinicdesk"), logging.Discard())
	if got := d.drain(context.Background()); got != 1 {
		t.Fatalf("expected 1 delivered, got %d", got)
	}
	if len(conn.msgs) != 1 {
		t.Fatalf("expected one nats message, got %d", len(conn.msgs))
	}
	msg := conn.msgs[0]
	if msg.Subject != "clinicdesk.conversation.urgent" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if msg.Header.Get(nats.MsgIdHdr) != env.EventID.String() {
		t.Fatalf("expected message id header")
	}
	var decoded Envelope
	if err := json.Unmarshal(msg.Data, &decoded); err != nil || decoded.EventID != env.EventID {
		t.Fatalf("unexpected payload: %s (%v)", msg.Data, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeliverer_PublishFailureRecordsAttempt(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	rows := pgxmock.NewRows(outboxColumns).
		AddRow(id, "conversation:abc", "conversation.urgent.v1", []byte(`{}`), time.Now().UTC(), 1)
	mock.ExpectQuery("SELECT id, aggregate").WithArgs(int32(5), 3).WillReturnRows(rows)
	mock.ExpectExec("UPDATE outbox SET attempts").
		WithArgs(id, "events: publish clinicdesk.conversation.urgent: nats: connection closed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	conn := &fakeConn{err: errors.New("nats: connection closed")}
	d := NewDeliverer(newOutboxStoreWithExec(mock), NewNATSPublisher(conn, "clinicdesk"), logging.Discard(),
		WithBatchSize(5), WithMaxAttempts(3))
	if got := d.drain(context.Background()); got != 0 {
		t.Fatalf("expected nothing delivered, got %d", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOutboxStore_RecordFailureKeepsCause(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec("UPDATE outbox SET attempts").
		WithArgs(id, "timeout").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE outbox SET attempts").
		WithArgs(id, "").
		WillReturnError(errors.New("db down"))

	store := newOutboxStoreWithExec(mock)
	if err := store.RecordFailure(context.Background(), id, errors.New("timeout")); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := store.RecordFailure(context.Background(), id, nil); err == nil {
		t.Fatal("expected exec error to surface")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeliverer_FetchErrorDeliversNothing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT id, aggregate").WithArgs(int32(25), 10).WillReturnError(errors.New("db down"))

	conn := &fakeConn{}
	d := NewDeliverer(newOutboxStoreWithExec(mock), NewNATSPublisher(conn, "clinicdesk"), logging.Discard())
	if got := d.drain(context.Background()); got != 0 {
		t.Fatalf("expected nothing delivered, got %d", got)
	}
	if len(conn.msgs) != 0 {
		t.Fatalf("expected no publishes, got %d", len(conn.msgs))
	}
}

func TestDelivererOptionsIgnoreNonPositive(t *testing.T) {
	d := NewDeliverer(nil, nil, nil, WithBatchSize(0), WithPollInterval(-time.Second), WithMaxAttempts(0))
	if d.batchSize != defaultBatchSize || d.interval != defaultPollInterval || d.maxAttempts != defaultMaxAttempts {
		t.Fatalf("unexpected settings: %d %s %d", d.batchSize, d.interval, d.maxAttempts)
	}
}

func TestNATSPublisher_Subject(t *testing.T) {
	tests := []struct {
		prefix    string
		eventType string
		want      string
	}{
		{"clinicdesk", "conversation.urgent.v1", "clinicdesk.conversation.urgent"},
		{"clinicdesk.", "conversation.urgent", "clinicdesk.conversation.urgent"},
		{"", "conversation.urgent.v12", "conversation.urgent"},
		{"x", "conversation.vip", "x.conversation.vip"},
	}
	for _, tt := range tests {
		if got := NewNATSPublisher(nil, tt.prefix).Subject(tt.eventType); got != tt.want {
			t.Errorf("Subject(%q, %q) = %q, want %q", tt.prefix, tt.eventType, got, tt.want)
		}
	}
}
