package match

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LewisZett/parts-connect-pro/db"
)

var (
	ErrNotFound  = errors.New("match: not found")
	ErrDuplicate = errors.New("match: already exists for this listing")
)

type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, m Match) (Match, error)
	GetByID(ctx context.Context, id string) (Match, error)
	Agree(ctx context.Context, id, callerID string, role Role) (Match, error)
	ListForUser(ctx context.Context, userID string) ([]Summary, error)
	Contact(ctx context.Context, userID string) (Contact, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const matchColumns = `id, part_id, request_id, supplier_id, requester_id, initiator_id, supplier_agreed, requester_agreed, status, created_at, updated_at`

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, m Match) (Match, error) {
	const query = `
		INSERT INTO matches (part_id, request_id, supplier_id, requester_id, initiator_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + matchColumns

	created, err := scanMatch(tx.QueryRow(ctx, query, m.PartID, m.RequestID, m.SupplierID, m.RequesterID, m.InitiatorID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Match{}, ErrDuplicate
		}
		return Match{}, fmt.Errorf("match: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Match, error) {
	if !db.ValidID(id) {
		return Match{}, ErrNotFound
	}
	m, err := scanMatch(r.pool.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Match{}, ErrNotFound
		}
		return Match{}, fmt.Errorf("match: get by id: %w", err)
	}
	return m, nil
}

// Agree sets the caller's flag and recomputes status in one statement, so
// concurrent agreements by either party never lose a flag.
func (r *PGRepository) Agree(ctx context.Context, id, callerID string, role Role) (Match, error) {
	if !db.ValidID(id) {
		return Match{}, ErrNotFound
	}
	const query = `
		UPDATE matches SET
			supplier_agreed  = supplier_agreed OR $2::text = 'supplier',
			requester_agreed = requester_agreed OR $2::text = 'requester',
			status = CASE
				WHEN (supplier_agreed OR $2::text = 'supplier') AND (requester_agreed OR $2::text = 'requester')
				THEN 'both_agreed' ELSE 'pending' END,
			updated_at = now()
		WHERE id = $1
		  AND (CASE WHEN $2::text = 'supplier' THEN supplier_id ELSE requester_id END) = $3
		RETURNING ` + matchColumns

	m, err := scanMatch(r.pool.QueryRow(ctx, query, id, string(role), callerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Match{}, ErrNotFound
		}
		return Match{}, fmt.Errorf("match: agree: %w", err)
	}
	return m, nil
}

func (r *PGRepository) ListForUser(ctx context.Context, userID string) ([]Summary, error) {
	const query = `
		SELECT m.id, m.part_id, m.request_id, m.supplier_id, m.requester_id, m.initiator_id,
		       m.supplier_agreed, m.requester_agreed, m.status, m.created_at, m.updated_at,
		       CASE WHEN m.supplier_id = $1 THEN 'supplier' ELSE 'requester' END,
		       c.id, c.full_name, c.trade_type,
		       COALESCE(p.part_name, q.part_name, ''),
		       CASE WHEN m.part_id IS NOT NULL THEN 'part' ELSE 'request' END
		FROM matches m
		JOIN users c ON c.id = CASE WHEN m.supplier_id = $1 THEN m.requester_id ELSE m.supplier_id END
		LEFT JOIN parts p ON p.id = m.part_id
		LEFT JOIN part_requests q ON q.id = m.request_id
		WHERE m.supplier_id = $1 OR m.requester_id = $1
		ORDER BY m.created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("match: list for user: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var s Summary
		dest := append(matchDest(&s.Match),
			&s.Role,
			&s.Counterparty.ID, &s.Counterparty.FullName, &s.Counterparty.TradeType,
			&s.ItemName, &s.ItemType,
		)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("match: scan summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("match: iterate summaries: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Contact(ctx context.Context, userID string) (Contact, error) {
	var c Contact
	err := r.pool.QueryRow(ctx, `SELECT id, full_name, email, phone FROM users WHERE id = $1`, userID).
		Scan(&c.UserID, &c.FullName, &c.Email, &c.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, fmt.Errorf("match: contact: %w", err)
	}
	return c, nil
}

func matchDest(m *Match) []any {
	return []any{
		&m.ID,
		&m.PartID,
		&m.RequestID,
		&m.SupplierID,
		&m.RequesterID,
		&m.InitiatorID,
		&m.SupplierAgreed,
		&m.RequesterAgreed,
		&m.Status,
		&m.CreatedAt,
		&m.UpdatedAt,
	}
}

func scanMatch(row pgx.Row) (Match, error) {
	var m Match
	if err := row.Scan(matchDest(&m)...); err != nil {
		return Match{}, err
	}
	return m, nil
}
