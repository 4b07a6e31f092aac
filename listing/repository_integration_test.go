package listing

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LewisZett/parts-connect-pro/migrations"
)

func TestPGRepository_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, migrations.Apply(ctx, pool))

	var ownerID, otherID string
	seed := func(name string) string {
		var id string
		require.NoError(t, pool.QueryRow(ctx,
			`INSERT INTO users (email, password_hash, full_name) VALUES ($1, 'x', $2) RETURNING id`,
			fmt.Sprintf("%s+%d@example.com", name, time.Now().UnixNano()), name).Scan(&id))
		return id
	}
	ownerID = seed("owner")
	otherID = seed("other")

	repo := NewRepository(pool)
	svc := NewService(repo)

	marker := fmt.Sprintf("zz%d", time.Now().UnixNano())
	p, err := svc.Create(ctx, KindPart, ownerID, CreateParams{Name: "Capacitor " + marker, Category: "hvac", Condition: "new", Price: price(9.5)})
	require.NoError(t, err)
	require.NotNil(t, p.Price)
	assert.InDelta(t, 9.5, *p.Price, 0.001)

	found, err := svc.Browse(ctx, KindPart, BrowseFilters{Query: marker})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "owner", found[0].OwnerName)

	bulk, err := svc.InsertParts(ctx, ownerID, []PartInput{
		{Name: "Relay " + marker, Category: "electrical", Condition: "used-good"},
		{Name: "Fuse " + marker, Category: "electrical", Condition: "for-parts", Price: 2},
	})
	require.NoError(t, err)
	assert.Len(t, bulk, 2)

	// Second row overflows NUMERIC(12,2); the whole batch must roll back.
	_, err = repo.InsertParts(ctx, ownerID, []PartInput{
		{Name: "Ghost " + marker, Category: "electrical", Condition: "new"},
		{Name: "Bad " + marker, Category: "electrical", Condition: "new", Price: 1e12},
	})
	require.Error(t, err)
	ghosts, err := svc.Browse(ctx, KindPart, BrowseFilters{Query: "Ghost " + marker})
	require.NoError(t, err)
	assert.Empty(t, ghosts)

	var matchID string
	require.NoError(t, pool.QueryRow(ctx, `
		INSERT INTO matches (part_id, supplier_id, requester_id, initiator_id)
		VALUES ($1, $2, $3, $3) RETURNING id`, p.ID, ownerID, otherID).Scan(&matchID))
	assert.ErrorIs(t, svc.Delete(ctx, KindPart, ownerID, p.ID), ErrInUse)

	closed, err := svc.Close(ctx, KindPart, ownerID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)
}
