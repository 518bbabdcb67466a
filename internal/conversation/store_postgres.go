package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool used by the store.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists participants and conversations in Postgres.
type PostgresStore struct {
	pool PgxPool
}

// NewPostgresStore creates a Postgres-backed store.
func NewPostgresStore(pool PgxPool) *PostgresStore {
	if pool == nil {
		panic("conversation: pgx pool cannot be nil")
	}
	return &PostgresStore{pool: pool}
}

const selectConversation = `
	SELECT c.id, c.created_at,
		lo.id, lo.address, lo.created_at,
		hi.id, hi.address, hi.created_at
	FROM conversations c
	JOIN participants lo ON lo.id = c.participant_low_id
	JOIN participants hi ON hi.id = c.participant_high_id
`

// Resolve returns the participant for address, inserting it on first use.
func (s *PostgresStore) Resolve(ctx context.Context, address string) (Participant, error) {
	address = NormalizeAddress(address)
	if address == "" {
		return Participant{}, &InvalidAddressError{Side: "participant"}
	}
	p, err := s.participantByAddress(ctx, address)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrParticipantNotFound) {
		return Participant{}, err
	}

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO participants (address) VALUES ($1)
		ON CONFLICT (address) DO NOTHING
	`, address); err != nil {
		return Participant{}, fmt.Errorf("conversation: insert participant: %w", err)
	}
	return s.participantByAddress(ctx, address)
}

func (s *PostgresStore) participantByAddress(ctx context.Context, address string) (Participant, error) {
	var p Participant
	err := s.pool.QueryRow(ctx, `
		SELECT id, address, created_at FROM participants WHERE address = $1
	`, address).Scan(&p.ID, &p.Address, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Participant{}, ErrParticipantNotFound
	}
	if err != nil {
		return Participant{}, fmt.Errorf("conversation: select participant: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetConversationByPair(ctx context.Context, lowID, highID int64) (Conversation, error) {
	row := s.pool.QueryRow(ctx, selectConversation+`
		WHERE c.participant_low_id = $1 AND c.participant_high_id = $2
	`, lowID, highID)
	return scanConversation(row)
}

func (s *PostgresStore) CreateConversation(ctx context.Context, low, high Participant) (Conversation, error) {
	low, high = Canonical(low, high)
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (participant_low_id, participant_high_id)
		VALUES ($1, $2)
		ON CONFLICT (participant_low_id, participant_high_id) DO NOTHING
	`, low.ID, high.ID); err != nil {
		return Conversation{}, fmt.Errorf("conversation: insert conversation: %w", err)
	}
	return s.GetConversationByPair(ctx, low.ID, high.ID)
}

func (s *PostgresStore) GetConversation(ctx context.Context, id int64) (Conversation, error) {
	row := s.pool.QueryRow(ctx, selectConversation+` WHERE c.id = $1`, id)
	return scanConversation(row)
}

func (s *PostgresStore) ListConversations(ctx context.Context, page Page) ([]Conversation, int, error) {
	page = page.Normalize()
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM conversations`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("conversation: count conversations: %w", err)
	}

	rows, err := s.pool.Query(ctx, selectConversation+`
		ORDER BY c.id
		LIMIT $1 OFFSET $2
	`, page.Size, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("conversation: list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("conversation: list conversations: %w", err)
	}
	return out, total, nil
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	err := row.Scan(
		&c.ID, &c.CreatedAt,
		&c.Low.ID, &c.Low.Address, &c.Low.CreatedAt,
		&c.High.ID, &c.High.Address, &c.High.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("conversation: scan conversation: %w", err)
	}
	return c, nil
}
