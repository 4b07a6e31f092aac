// Package outbox implements the transactional outbox: producers enqueue rows in
// the same transaction as their primary write and a Dispatcher delivers them
// after commit.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusDispatching Status = "dispatching"
	StatusProcessed   Status = "processed"
	StatusFailed      Status = "failed"
)

// ErrUnknownTopic is recorded on rows no handler is registered for.
var ErrUnknownTopic = errors.New("outbox: no handler for topic")

// Message is one claimed outbox row.
type Message struct {
	ID        string
	Topic     string
	Payload   json.RawMessage
	Attempts  int
	CreatedAt time.Time
}

// Execer is satisfied by pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Enqueue writes a pending message inside the caller's transaction.
func Enqueue(ctx context.Context, tx Execer, topic string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, string(b)); err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", topic, err)
	}
	return nil
}

// Store is the persistence the Dispatcher needs.
type Store interface {
	Claim(ctx context.Context, limit int) ([]Message, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error
	// FailStale marks rows stuck in dispatching longer than olderThan as failed.
	FailStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

type PGStore struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Claim moves up to limit pending rows to dispatching. Concurrent workers never
// claim the same row.
func (s *PGStore) Claim(ctx context.Context, limit int) ([]Message, error) {
	const query = `
		UPDATE outbox o
		SET status = 'dispatching', claimed_at = now(), attempts = o.attempts + 1
		FROM (
			SELECT id FROM outbox
			WHERE status = 'pending'
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		) c
		WHERE o.id = c.id
		RETURNING o.id, o.topic, o.payload, o.attempts, o.created_at
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	defer rows.Close()

	msgs := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan claimed: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate claimed: %w", err)
	}
	return msgs, nil
}

func (s *PGStore) MarkProcessed(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE outbox SET status = 'processed', processed_at = now(), last_error = NULL
		WHERE id = $1 AND status = 'dispatching'`, id); err != nil {
		return fmt.Errorf("outbox: mark processed: %w", err)
	}
	return nil
}

func (s *PGStore) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := s.pool.Exec(ctx, `
		UPDATE outbox SET status = 'failed', processed_at = now(), last_error = $2
		WHERE id = $1 AND status = 'dispatching'`, id, msg); err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}

func (s *PGStore) FailStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox SET status = 'failed', processed_at = now(), last_error = 'abandoned while dispatching'
		WHERE status = 'dispatching' AND claimed_at < now() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("outbox: fail stale: %w", err)
	}
	return tag.RowsAffected(), nil
}
