package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LewisZett/parts-connect-pro/db"
)

var (
	ErrNotFound = errors.New("listing: not found")
	// ErrInUse signals the listing is referenced by a match and must be closed instead.
	ErrInUse = errors.New("listing: referenced by a match")
)

type Repository interface {
	Create(ctx context.Context, kind Kind, ownerID string, params CreateParams) (Listing, error)
	Browse(ctx context.Context, kind Kind, filters BrowseFilters) ([]Listing, error)
	ListByOwner(ctx context.Context, kind Kind, ownerID string) ([]Listing, error)
	GetRef(ctx context.Context, kind Kind, id string) (Ref, error)
	SetClosed(ctx context.Context, kind Kind, ownerID, id string) (Listing, error)
	Delete(ctx context.Context, kind Kind, ownerID, id string) error
	InsertParts(ctx context.Context, ownerID string, parts []PartInput) ([]Listing, error)
}

// table describes the column layout that differs between parts and part_requests.
type table struct {
	name      string
	owner     string
	condition string
	price     string
}

func tableFor(kind Kind) table {
	if kind == KindRequest {
		return table{name: "part_requests", owner: "requester_id", condition: "condition_preference", price: "max_price"}
	}
	return table{name: "parts", owner: "supplier_id", condition: "condition", price: "price"}
}

func (t table) columns(alias string) string {
	p := ""
	if alias != "" {
		p = alias + "."
	}
	return fmt.Sprintf("%[1]sid, %[1]s%[2]s, %[1]spart_name, %[1]scategory, %[1]s%[3]s, %[1]s%[4]s::float8, %[1]sdescription, %[1]slocation, %[1]sstatus, %[1]screated_at, %[1]supdated_at",
		p, t.owner, t.condition, t.price)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, kind Kind, ownerID string, params CreateParams) (Listing, error) {
	t := tableFor(kind)
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, part_name, category, %s, %s, description, location, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING %s`,
		t.name, t.owner, t.condition, t.price, t.columns(""))

	l, err := scanListing(kind, r.pool.QueryRow(ctx, query,
		ownerID, params.Name, params.Category, params.Condition, params.Price,
		params.Description, params.Location, kind.OpenStatus(),
	))
	if err != nil {
		return Listing{}, fmt.Errorf("listing: create %s: %w", kind, err)
	}
	return l, nil
}

func (r *PGRepository) Browse(ctx context.Context, kind Kind, filters BrowseFilters) ([]Listing, error) {
	t := tableFor(kind)
	query := fmt.Sprintf(`
		SELECT %s, u.full_name, u.trade_type
		FROM %s l
		JOIN users u ON u.id = l.%s
		WHERE l.status = $1
		  AND ($2::text = '' OR l.part_name ILIKE '%%' || $2 || '%%' OR l.category ILIKE '%%' || $2 || '%%')
		  AND ($3::text = '' OR l.category = $3)
		ORDER BY l.created_at DESC
		LIMIT $4`,
		t.columns("l"), t.name, t.owner)

	rows, err := r.pool.Query(ctx, query, kind.OpenStatus(), escapeLike(filters.Query), filters.Category, filters.Limit)
	if err != nil {
		return nil, fmt.Errorf("listing: browse %s: %w", kind, err)
	}
	defer rows.Close()

	out := []Listing{}
	for rows.Next() {
		var l Listing
		if err := rows.Scan(append(listingDest(&l), &l.OwnerName, &l.OwnerTrade)...); err != nil {
			return nil, fmt.Errorf("listing: scan %s: %w", kind, err)
		}
		l.Kind = kind
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing: iterate %s: %w", kind, err)
	}
	return out, nil
}

func (r *PGRepository) ListByOwner(ctx context.Context, kind Kind, ownerID string) ([]Listing, error) {
	t := tableFor(kind)
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 ORDER BY created_at DESC`, t.columns(""), t.name, t.owner)

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing: list own %s: %w", kind, err)
	}
	defer rows.Close()

	out := []Listing{}
	for rows.Next() {
		l, err := scanListing(kind, rows)
		if err != nil {
			return nil, fmt.Errorf("listing: scan %s: %w", kind, err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing: iterate %s: %w", kind, err)
	}
	return out, nil
}

func (r *PGRepository) GetRef(ctx context.Context, kind Kind, id string) (Ref, error) {
	if !db.ValidID(id) {
		return Ref{}, ErrNotFound
	}
	t := tableFor(kind)
	query := fmt.Sprintf(`SELECT id, %s, part_name, status FROM %s WHERE id = $1`, t.owner, t.name)

	ref := Ref{Kind: kind}
	if err := r.pool.QueryRow(ctx, query, id).Scan(&ref.ID, &ref.OwnerID, &ref.Name, &ref.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ref{}, ErrNotFound
		}
		return Ref{}, fmt.Errorf("listing: get %s ref: %w", kind, err)
	}
	return ref, nil
}

func (r *PGRepository) SetClosed(ctx context.Context, kind Kind, ownerID, id string) (Listing, error) {
	if !db.ValidID(id) {
		return Listing{}, ErrNotFound
	}
	t := tableFor(kind)
	query := fmt.Sprintf(`
		UPDATE %s SET status = 'closed', updated_at = now()
		WHERE id = $1 AND %s = $2
		RETURNING %s`, t.name, t.owner, t.columns(""))

	l, err := scanListing(kind, r.pool.QueryRow(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("listing: close %s: %w", kind, err)
	}
	return l, nil
}

func (r *PGRepository) Delete(ctx context.Context, kind Kind, ownerID, id string) error {
	if !db.ValidID(id) {
		return ErrNotFound
	}
	t := tableFor(kind)
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND %s = $2`, t.name, t.owner), id, ownerID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrInUse
		}
		return fmt.Errorf("listing: delete %s: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertParts writes every part in one transaction; any failure rolls back the batch.
func (r *PGRepository) InsertParts(ctx context.Context, ownerID string, parts []PartInput) ([]Listing, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	out, err := insertParts(ctx, tx, ownerID, parts)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("listing: commit bulk insert: %w", err)
	}
	return out, nil
}

func insertParts(ctx context.Context, tx pgx.Tx, ownerID string, parts []PartInput) ([]Listing, error) {
	t := tableFor(KindPart)
	query := fmt.Sprintf(`
		INSERT INTO parts (supplier_id, part_name, category, condition, price, description, location, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'available')
		RETURNING %s`, t.columns(""))

	batch := &pgx.Batch{}
	for _, p := range parts {
		batch.Queue(query, ownerID, p.Name, p.Category, p.Condition, p.Price, p.Description, p.Location)
	}

	br := tx.SendBatch(ctx, batch)
	out := make([]Listing, 0, len(parts))
	for i := range parts {
		l, err := scanListing(KindPart, br.QueryRow())
		if err != nil {
			br.Close()
			return nil, fmt.Errorf("listing: bulk insert row %d: %w", i, err)
		}
		out = append(out, l)
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("listing: bulk insert: %w", err)
	}
	return out, nil
}

func listingDest(l *Listing) []any {
	return []any{
		&l.ID,
		&l.OwnerID,
		&l.Name,
		&l.Category,
		&l.Condition,
		&l.Price,
		&l.Description,
		&l.Location,
		&l.Status,
		&l.CreatedAt,
		&l.UpdatedAt,
	}
}

func scanListing(kind Kind, row pgx.Row) (Listing, error) {
	var l Listing
	if err := row.Scan(listingDest(&l)...); err != nil {
		return Listing{}, err
	}
	l.Kind = kind
	return l, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
