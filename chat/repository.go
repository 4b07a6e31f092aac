package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LewisZett/parts-connect-pro/db"
)

var ErrMessageNotFound = errors.New("chat: message not found")

type Repository interface {
	Insert(ctx context.Context, m Message) (Message, error)
	GetByID(ctx context.Context, id string) (Message, error)
	ListByMatch(ctx context.Context, matchID string) ([]Message, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const messageColumns = `id, seq, match_id, sender_id, receiver_id, content, created_at`

// Insert appends a message. The database assigns id, seq and created_at.
func (r *PGRepository) Insert(ctx context.Context, m Message) (Message, error) {
	const query = `
		INSERT INTO messages (match_id, sender_id, receiver_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + messageColumns

	saved, err := scanMessage(r.pool.QueryRow(ctx, query, m.MatchID, m.SenderID, m.ReceiverID, m.Content))
	if err != nil {
		return Message{}, fmt.Errorf("chat: insert message: %w", err)
	}
	return saved, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Message, error) {
	if !db.ValidID(id) {
		return Message{}, ErrMessageNotFound
	}
	m, err := scanMessage(r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrMessageNotFound
		}
		return Message{}, fmt.Errorf("chat: get message: %w", err)
	}
	return m, nil
}

// ListByMatch returns the full history ascending by (created_at, seq).
func (r *PGRepository) ListByMatch(ctx context.Context, matchID string) ([]Message, error) {
	if !db.ValidID(matchID) {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE match_id = $1
		ORDER BY created_at ASC, seq ASC`, matchID)
	if err != nil {
		return nil, fmt.Errorf("chat: list messages: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("chat: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: iterate messages: %w", err)
	}
	return out, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.Seq, &m.MatchID, &m.SenderID, &m.ReceiverID, &m.Content, &m.CreatedAt)
	return m, err
}
