package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/messaging-service/internal/conversation"
)

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is the subset of pgxpool.Pool used by Store.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Querier
}

// Store persists messages, attachments and delivery status in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

var _ Repository = (*Store)(nil)

const selectMessage = `
	SELECT m.id, m.conversation_id, m.body, m.sent_at, m.channel, m.provider_message_id, m.extra, m.created_at,
		f.id, f.address, f.created_at,
		t.id, t.address, t.created_at,
		m.direction,
		s.attempts, s.state, s.delivered, s.last_status_code, s.error, s.next_attempt_at, s.updated_at
	FROM messages m
	JOIN participants f ON f.id = m.from_participant_id
	JOIN participants t ON t.id = m.to_participant_id
	LEFT JOIN message_status s ON s.message_id = m.id
`

const statusColumns = `attempts, state, delivered, last_status_code, error, next_attempt_at, updated_at`

func (s *Store) CreateMessage(ctx context.Context, msg *Message) error {
	if msg == nil {
		return errors.New("messaging: message required")
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	extra, err := encodeExtra(msg.Extra)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("messaging: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (
			id, conversation_id, from_participant_id, to_participant_id,
			body, sent_at, channel, direction, provider_message_id, extra
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at
	`, msg.ID, msg.ConversationID, msg.From.ID, msg.To.ID,
		msg.Body, msg.Timestamp, string(msg.Channel), DirectionName(msg.Direction), msg.ProviderMessageID, extra,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("messaging: insert message: %w", err)
	}

	for i := range msg.Attachments {
		msg.Attachments[i].MessageID = msg.ID
		if err := tx.QueryRow(ctx, `
			INSERT INTO attachments (message_id, url) VALUES ($1, $2) RETURNING id
		`, msg.ID, msg.Attachments[i].URL).Scan(&msg.Attachments[i].ID); err != nil {
			return fmt.Errorf("messaging: insert attachment: %w", err)
		}
	}

	if out, ok := msg.Direction.(Outbound); ok {
		st := out.Status
		st.MessageID = msg.ID
		if st.State == "" {
			st.State = StatePending
		}
		if st.NextAttemptAt == nil {
			due := msg.CreatedAt
			st.NextAttemptAt = &due
		}
		if err := tx.QueryRow(ctx, `
			INSERT INTO message_status (message_id, attempts, state, delivered, last_status_code, error, next_attempt_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			RETURNING updated_at
		`, msg.ID, st.Attempts, string(st.State), st.Delivered, st.LastStatusCode, st.Error, st.NextAttemptAt,
		).Scan(&st.UpdatedAt); err != nil {
			return fmt.Errorf("messaging: insert message status: %w", err)
		}
		msg.Direction = Outbound{Status: st}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("messaging: commit message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx, selectMessage+` WHERE m.id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadAttachments(ctx, []*Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Store) GetStatus(ctx context.Context, id uuid.UUID) (Status, error) {
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return Status{}, err
	}
	st, ok := msg.OutboundStatus()
	if !ok {
		return Status{}, ErrInboundMessage
	}
	return st, nil
}

func (s *Store) MutateStatus(ctx context.Context, id uuid.UUID, fn StatusMutation) (Status, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("messaging: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	st, err := scanStatus(tx.QueryRow(ctx, `
		SELECT message_id, `+statusColumns+`
		FROM message_status
		WHERE message_id = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Status{}, s.missingStatus(ctx, tx, id)
	}
	if err != nil {
		return Status{}, fmt.Errorf("messaging: lock status: %w", err)
	}

	changed, err := fn(&st)
	if err != nil {
		return Status{}, err
	}
	if !changed {
		return st, nil
	}

	if err := tx.QueryRow(ctx, `
		UPDATE message_status
		SET attempts = $2, state = $3, delivered = $4, last_status_code = $5,
			error = $6, next_attempt_at = $7, updated_at = now()
		WHERE message_id = $1
		RETURNING updated_at
	`, id, st.Attempts, string(st.State), st.Delivered, st.LastStatusCode, st.Error, st.NextAttemptAt,
	).Scan(&st.UpdatedAt); err != nil {
		return Status{}, fmt.Errorf("messaging: update status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Status{}, fmt.Errorf("messaging: commit status: %w", err)
	}
	return st, nil
}

// missingStatus tells an inbound message apart from an unknown one.
func (s *Store) missingStatus(ctx context.Context, q Querier, id uuid.UUID) error {
	var direction string
	err := q.QueryRow(ctx, `SELECT direction FROM messages WHERE id = $1`, id).Scan(&direction)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("messaging: lookup message direction: %w", err)
	}
	if direction == DirectionName(Inbound{}) {
		return ErrInboundMessage
	}
	return fmt.Errorf("messaging: outbound message %s has no status row", id)
}

func (s *Store) ListDue(ctx context.Context, cutoff time.Time, limit int) ([]DueAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, state, next_attempt_at
		FROM message_status
		WHERE state IN ('pending', 'attempting')
			AND next_attempt_at <= $1
		ORDER BY next_attempt_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("messaging: list due attempts: %w", err)
	}
	defer rows.Close()

	var out []DueAttempt
	for rows.Next() {
		var due DueAttempt
		var state string
		if err := rows.Scan(&due.MessageID, &state, &due.NextAttemptAt); err != nil {
			return nil, fmt.Errorf("messaging: scan due attempt: %w", err)
		}
		due.State = DeliveryState(state)
		out = append(out, due)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messaging: list due attempts: %w", err)
	}
	return out, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID int64, page conversation.Page) ([]*Message, int, error) {
	page = page.Normalize()
	var total int
	if err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM messages WHERE conversation_id = $1
	`, conversationID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("messaging: count messages: %w", err)
	}

	rows, err := s.pool.Query(ctx, selectMessage+`
		WHERE m.conversation_id = $1
		ORDER BY m.sent_at, m.created_at
		LIMIT $2 OFFSET $3
	`, conversationID, page.Size, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("messaging: list messages: %w", err)
	}
	var out []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		out = append(out, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("messaging: list messages: %w", err)
	}

	if err := s.loadAttachments(ctx, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) loadAttachments(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Message, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
		ids = append(ids, m.ID.String())
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, url FROM attachments
		WHERE message_id = ANY($1::uuid[])
		ORDER BY id
	`, ids)
	if err != nil {
		return fmt.Errorf("messaging: list attachments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.URL); err != nil {
			return fmt.Errorf("messaging: scan attachment: %w", err)
		}
		if m, ok := byID[a.MessageID]; ok {
			m.Attachments = append(m.Attachments, a)
		}
	}
	return rows.Err()
}

func scanMessage(row pgx.Row) (*Message, error) {
	var (
		msg       Message
		channel   string
		extra     []byte
		direction string

		attempts  *int
		state     *string
		delivered *bool
		lastCode  *int
		errText   *string
		nextAt    *time.Time
		updatedAt *time.Time
	)
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.Body, &msg.Timestamp, &channel, &msg.ProviderMessageID, &extra, &msg.CreatedAt,
		&msg.From.ID, &msg.From.Address, &msg.From.CreatedAt,
		&msg.To.ID, &msg.To.Address, &msg.To.CreatedAt,
		&direction,
		&attempts, &state, &delivered, &lastCode, &errText, &nextAt, &updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("messaging: scan message: %w", err)
	}
	msg.Channel = Channel(channel)
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &msg.Extra); err != nil {
			return nil, fmt.Errorf("messaging: decode extra: %w", err)
		}
	}

	if direction != DirectionName(Outbound{}) || state == nil {
		msg.Direction = Inbound{}
		return &msg, nil
	}
	st := Status{
		MessageID:      msg.ID,
		State:          DeliveryState(*state),
		LastStatusCode: lastCode,
		NextAttemptAt:  nextAt,
	}
	if attempts != nil {
		st.Attempts = *attempts
	}
	if delivered != nil {
		st.Delivered = *delivered
	}
	if errText != nil {
		st.Error = *errText
	}
	if updatedAt != nil {
		st.UpdatedAt = *updatedAt
	}
	msg.Direction = Outbound{Status: st}
	return &msg, nil
}

func scanStatus(row pgx.Row) (Status, error) {
	var st Status
	var state string
	err := row.Scan(&st.MessageID, &st.Attempts, &state, &st.Delivered, &st.LastStatusCode, &st.Error, &st.NextAttemptAt, &st.UpdatedAt)
	if err != nil {
		return Status{}, err
	}
	st.State = DeliveryState(state)
	return st, nil
}

func encodeExtra(extra map[string]any) ([]byte, error) {
	if len(extra) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("messaging: encode extra: %w", err)
	}
	return data, nil
}
