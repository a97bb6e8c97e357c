package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool used by PostgresStore.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const conversationColumns = `id, phone, patient_id, last_message_at, message_count,
		COALESCE(last_message_snippet, ''), is_urgent, tag_color, COALESCE(tag_notes, ''),
		COALESCE(tagged_by, ''), tagged_at, is_active, created_at`

// PostgresStore persists conversations, messages and tag history.
type PostgresStore struct {
	pool PgxPool
	now  func() time.Time
}

// NewPostgresStore wraps a pgx pool.
func NewPostgresStore(pool PgxPool) *PostgresStore {
	if pool == nil {
		panic("conversation: pgx pool cannot be nil")
	}
	return &PostgresStore{pool: pool, now: time.Now}
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	var color string
	if err := row.Scan(&c.ID, &c.Phone, &c.PatientID, &c.LastMessageAt, &c.MessageCount,
		&c.LastMessageSnippet, &c.Urgent, &color, &c.TagNotes, &c.TaggedBy, &c.TaggedAt,
		&c.Active, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.TagColor = TagColor(color)
	return &c, nil
}

func (s *PostgresStore) FindActiveConversation(ctx context.Context, phone string, since time.Time) (*Conversation, error) {
	return s.findActive(ctx, s.pool, phone, since)
}

func (s *PostgresStore) findActive(ctx context.Context, q querier, phone string, since time.Time) (*Conversation, error) {
	c, err := scanConversation(q.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE phone = $1 AND is_active = true AND last_message_at >= $2
		ORDER BY last_message_at DESC
		LIMIT 1`, phone, since))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: find active conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, phone string, now time.Time) (*Conversation, error) {
	return s.create(ctx, s.pool, phone, now)
}

func (s *PostgresStore) create(ctx context.Context, q querier, phone string, now time.Time) (*Conversation, error) {
	c, err := scanConversation(q.QueryRow(ctx, `
		INSERT INTO conversations (id, phone, last_message_at, message_count, is_urgent, tag_color, is_active, created_at)
		VALUES ($1, $2, $3, 0, false, $4, true, $3)
		RETURNING `+conversationColumns, uuid.New(), phone, now, string(TagNormal)))
	if err != nil {
		return nil, fmt.Errorf("conversation: create conversation: %w", err)
	}
	return c, nil
}

// ResolveActiveConversation serializes find-or-create per phone with a
// transaction-scoped advisory lock.
func (s *PostgresStore) ResolveActiveConversation(ctx context.Context, phone string, now time.Time) (*Conversation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("conversation: begin resolve: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, phone); err != nil {
		return nil, fmt.Errorf("conversation: lock phone: %w", err)
	}
	c, err := s.findActive(ctx, tx, phone, now.Add(-ThreadWindow))
	if err != nil {
		return nil, err
	}
	if c == nil {
		if c, err = s.create(ctx, tx, phone, now); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("conversation: commit resolve: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, msg Message) (Message, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}
	msg.ConversationID = conversationID

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("conversation: begin append: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// The row lock taken here orders concurrent appends to one conversation.
	err = tx.QueryRow(ctx, `
		UPDATE conversations
		SET message_count = message_count + 1,
			last_message_snippet = $2,
			last_message_at = GREATEST(last_message_at, $3)
		WHERE id = $1
		RETURNING message_count`, conversationID, Snippet(msg.Content), msg.Timestamp).Scan(&msg.Seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("conversation: bump conversation: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, seq, content, message_type, sender_phone, direction, sent_at, urgency_detected)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID, conversationID, msg.Seq, msg.Content, string(msg.Type), msg.SenderPhone,
		string(msg.Direction), msg.Timestamp, msg.UrgencyDetected); err != nil {
		return Message{}, fmt.Errorf("conversation: insert message: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("conversation: commit append: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) SetUrgencyTag(ctx context.Context, conversationID uuid.UUID, notes, taggedBy string) error {
	return s.writeTag(ctx, conversationID, TagActionTagged, notes, taggedBy)
}

func (s *PostgresStore) ClearUrgencyTag(ctx context.Context, conversationID uuid.UUID, actor string) error {
	return s.writeTag(ctx, conversationID, TagActionUntagged, "", actor)
}

func (s *PostgresStore) writeTag(ctx context.Context, conversationID uuid.UUID, action TagAction, notes, actor string) error {
	now := s.now().UTC()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("conversation: begin tag update: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var tag pgconn.CommandTag
	color := TagOrange
	if action == TagActionTagged {
		tag, err = tx.Exec(ctx, `
			UPDATE conversations
			SET is_urgent = true, tag_color = $2, tag_notes = $3, tagged_by = $4, tagged_at = $5
			WHERE id = $1`, conversationID, string(TagOrange), notes, actor, now)
	} else {
		color = TagNormal
		tag, err = tx.Exec(ctx, `
			UPDATE conversations
			SET is_urgent = false, tag_color = $2, tag_notes = NULL, tagged_by = NULL, tagged_at = NULL
			WHERE id = $1`, conversationID, string(TagNormal))
	}
	if err != nil {
		return fmt.Errorf("conversation: update tag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO conversation_tag_history (id, conversation_id, action, color, notes, actor, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)`,
		uuid.New(), conversationID, string(action), string(color), notes, actor, now); err != nil {
		return fmt.Errorf("conversation: insert tag history: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("conversation: commit tag update: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, filter Filter) (Page, error) {
	filter = filter.Normalize()

	var conds []string
	var args []any
	argNum := 1
	if search := strings.TrimSpace(filter.Search); search != "" {
		cond := fmt.Sprintf(`last_message_snippet ILIKE $%d ESCAPE '\'`, argNum)
		args = append(args, containsPattern(search))
		argNum++
		if digits := NormalizePhone(search); digits != "" {
			cond = fmt.Sprintf("(phone LIKE $%d OR %s)", argNum, cond)
			args = append(args, "%"+digits+"%")
			argNum++
		}
		conds = append(conds, cond)
	}
	if filter.Urgent != nil {
		conds = append(conds, fmt.Sprintf("is_urgent = $%d", argNum))
		args = append(args, *filter.Urgent)
		argNum++
	}
	if filter.Tag != "" {
		conds = append(conds, fmt.Sprintf("tag_color = $%d", argNum))
		args = append(args, string(filter.Tag))
		argNum++
	}
	if filter.Since != nil {
		conds = append(conds, fmt.Sprintf("last_message_at >= $%d", argNum))
		args = append(args, *filter.Since)
		argNum++
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM conversations"+where, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("conversation: count conversations: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM conversations%s ORDER BY is_urgent DESC, last_message_at DESC LIMIT $%d OFFSET $%d",
		conversationColumns, where, argNum, argNum+1)
	rows, err := s.pool.Query(ctx, query, append(args, filter.Limit, filter.Offset())...)
	if err != nil {
		return Page{}, fmt.Errorf("conversation: list conversations: %w", err)
	}
	defer rows.Close()

	var items []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return Page{}, fmt.Errorf("conversation: scan conversation: %w", err)
		}
		items = append(items, *c)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("conversation: iterate conversations: %w", err)
	}
	return newPage(items, total, filter), nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	c, err := scanConversation(s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: get conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, seq, content, message_type, sender_phone, direction, sent_at, urgency_detected
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation: list messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		var msgType, direction string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.Content, &msgType, &m.SenderPhone,
			&direction, &m.Timestamp, &m.UrgencyDetected); err != nil {
			return nil, fmt.Errorf("conversation: scan message: %w", err)
		}
		m.Type = MessageType(msgType)
		m.Direction = Direction(direction)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate messages: %w", err)
	}
	if len(messages) == 0 {
		if err := s.ensureConversation(ctx, conversationID); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

func (s *PostgresStore) ListTagHistory(ctx context.Context, conversationID uuid.UUID) ([]TagEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, action, color, COALESCE(notes, ''), actor, created_at
		FROM conversation_tag_history
		WHERE conversation_id = $1
		ORDER BY created_at DESC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation: list tag history: %w", err)
	}
	defer rows.Close()

	events := []TagEvent{}
	for rows.Next() {
		var e TagEvent
		var action, color string
		if err := rows.Scan(&e.ID, &e.ConversationID, &action, &color, &e.Notes, &e.Actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan tag event: %w", err)
		}
		e.Action = TagAction(action)
		e.Color = TagColor(color)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate tag history: %w", err)
	}
	if len(events) == 0 {
		if err := s.ensureConversation(ctx, conversationID); err != nil {
			return nil, err
		}
	}
	return events, nil
}

// ensureConversation returns ErrNotFound for an unknown id, so an empty list
// and a missing conversation stay distinguishable.
func (s *PostgresStore) ensureConversation(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("conversation: check conversation %s: %w", id, err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// containsPattern builds a LIKE pattern matching term literally.
func containsPattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}
